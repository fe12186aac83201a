package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"ritten/internal/chart"
	"ritten/internal/core"
	applog "ritten/internal/log"
)

type overviewResponse struct {
	FiscalYear  int       `json:"fiscal_year"`
	Label       string    `json:"label"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	TotalDrivenKm    float64 `json:"total_driven_km"`
	BusinessKm       float64 `json:"business_km"`
	PrivateKm        float64 `json:"private_km"`
	InsufficientData bool    `json:"insufficient_data"`

	Display core.Summary `json:"display"`
}

func newOverviewResponse(res core.Result, loc *time.Location) overviewResponse {
	start, end := res.FiscalYear.Window(loc)
	split := res.Split()
	return overviewResponse{
		FiscalYear:       int(res.FiscalYear),
		Label:            res.FiscalYear.String(),
		WindowStart:      start,
		WindowEnd:        end,
		TotalDrivenKm:    core.RoundKm(res.TotalDriven),
		BusinessKm:       core.RoundKm(split.Business),
		PrivateKm:        core.RoundKm(split.Private),
		InsufficientData: res.InsufficientData,
		Display:          res.Summarize(),
	}
}

type readingResponse struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TotalKm   float64   `json:"total_km"`
}

func newReadingResponse(r core.StoredReading) readingResponse {
	return readingResponse{ID: r.ID, Timestamp: r.Timestamp, TotalKm: r.TotalKm}
}

type carChangeResponse struct {
	ID            int64     `json:"id"`
	Date          time.Time `json:"date"`
	OldCarFinalKm float64   `json:"old_car_final_km"`
	NewCarStartKm float64   `json:"new_car_start_km"`
}

func newCarChangeResponse(c core.StoredCarChange) carChangeResponse {
	return carChangeResponse{ID: c.ID, Date: c.Date, OldCarFinalKm: c.OldCarFinalKm, NewCarStartKm: c.NewCarStartKm}
}

type workMileageResponse struct {
	Months core.WorkMileageTable `json:"months"`
}

type chartImportResponse struct {
	Months  core.WorkMileageTable `json:"months"`
	Points  int                   `json:"points"`
	Skipped int                   `json:"skipped"`
}

func newChartImportResponse(imp chart.Import) chartImportResponse {
	months := imp.Table
	if months == nil {
		months = core.WorkMileageTable{}
	}
	return chartImportResponse{Months: months, Points: imp.Points, Skipped: imp.Skipped}
}

// errResponse renders API errors as {"status": ..., "error": ...}.
type errResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

// Render satisfies render.Renderer
func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

var errTooManyRequests = &errResponse{HTTPStatusCode: http.StatusTooManyRequests, StatusText: "Rate limit exceeded."}

func errInvalidRequest(err error) render.Renderer {
	return &errResponse{HTTPStatusCode: http.StatusBadRequest, StatusText: "Invalid request.", ErrorText: validationMessage(err)}
}

func errUnprocessable(err error) render.Renderer {
	return &errResponse{HTTPStatusCode: http.StatusUnprocessableEntity, StatusText: "Invalid data.", ErrorText: err.Error()}
}

func errNotFound(err error) render.Renderer {
	return &errResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found.", ErrorText: err.Error()}
}

var errInternal = &errResponse{HTTPStatusCode: http.StatusInternalServerError, StatusText: "Internal server error."}

// isValidationError reports domain errors caused by the request content.
func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs) ||
		errors.Is(err, errBadInstant) ||
		errors.Is(err, core.ErrMalformedKey) ||
		errors.Is(err, core.ErrInvalidReading) ||
		errors.Is(err, core.ErrInvalidWorkMileage) ||
		errors.Is(err, core.ErrZeroTimestamp) ||
		errors.Is(err, chart.ErrBadValue) ||
		errors.Is(err, chart.ErrNoMonth)
}

// renderError maps err to a status and logs server-side failures.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		_ = render.Render(w, r, errNotFound(err))
	case isValidationError(err):
		_ = render.Render(w, r, errUnprocessable(err))
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldError, err,
			applog.FieldPath, r.URL.Path)
		_ = render.Render(w, r, errInternal)
	}
}
