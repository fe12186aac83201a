package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"ritten/internal/core"
)

// Fiscal years outside this range are rejected as typos.
const (
	minFiscalYear = 1900
	maxFiscalYear = 2999
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	fy := s.mileage.CurrentFiscalYear()
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < minFiscalYear || y > maxFiscalYear {
			_ = render.Render(w, r, errInvalidRequest(fmt.Errorf("year %q: expected a fiscal year between %d and %d", v, minFiscalYear, maxFiscalYear)))
			return
		}
		fy = core.FiscalYear(y)
	}
	s.renderOverview(w, r, fy)
}

func (s *Server) handleCurrentOverview(w http.ResponseWriter, r *http.Request) {
	s.renderOverview(w, r, s.mileage.CurrentFiscalYear())
}

func (s *Server) renderOverview(w http.ResponseWriter, r *http.Request, fy core.FiscalYear) {
	res, err := s.mileage.Overview(r.Context(), fy)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, newOverviewResponse(res, s.mileage.Location()))
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.mileage.ListReadings(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	out := make([]readingResponse, 0, len(readings))
	for _, rd := range readings {
		out = append(out, newReadingResponse(rd))
	}
	render.JSON(w, r, out)
}

func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	req := &createReadingRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	reading, err := req.reading(time.Now(), s.mileage.Location())
	if err != nil {
		renderError(w, r, err)
		return
	}

	stored, err := s.mileage.RecordReading(r.Context(), reading)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newReadingResponse(stored))
}

func (s *Server) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.mileage.DeleteReading(r.Context(), id); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCarChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.mileage.ListCarChanges(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	out := make([]carChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, newCarChangeResponse(c))
	}
	render.JSON(w, r, out)
}

func (s *Server) handleCreateCarChange(w http.ResponseWriter, r *http.Request) {
	req := &createCarChangeRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	change, err := req.carChange(s.mileage.Location())
	if err != nil {
		renderError(w, r, err)
		return
	}

	stored, err := s.mileage.RecordCarChange(r.Context(), change)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newCarChangeResponse(stored))
}

func (s *Server) handleDeleteCarChange(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.mileage.DeleteCarChange(r.Context(), id); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetWorkMileage(w http.ResponseWriter, r *http.Request) {
	table, err := s.mileage.WorkMileage(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	if table == nil {
		table = core.WorkMileageTable{}
	}
	render.JSON(w, r, workMileageResponse{Months: table})
}

func (s *Server) handlePutWorkMileage(w http.ResponseWriter, r *http.Request) {
	req := &putWorkMileageRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := s.mileage.ImportWorkMileage(r.Context(), core.WorkMileageTable(req.Months), req.importMode()); err != nil {
		renderError(w, r, err)
		return
	}
	s.handleGetWorkMileage(w, r)
}

func (s *Server) handleImportChart(w http.ResponseWriter, r *http.Request) {
	req := &importChartRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	imp, err := s.mileage.ImportChartLabels(r.Context(), req.Labels)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, newChartImportResponse(imp))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		_ = render.Render(w, r, errInvalidRequest(errors.New("id must be a positive integer")))
		return 0, false
	}
	return id, true
}
