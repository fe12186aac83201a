package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ritten/internal/core"
	"ritten/internal/services"
)

// validate checks request DTO tags after render.Bind has decoded them.
var validate = validator.New(validator.WithRequiredStructEnabled())

// dateLayout is accepted wherever a full RFC 3339 timestamp is.
const dateLayout = "2006-01-02"

type createReadingRequest struct {
	// Timestamp defaults to the time of the request when empty
	Timestamp string   `json:"timestamp" validate:"omitempty,max=64"`
	TotalKm   *float64 `json:"total_km" validate:"required,gte=0"`
}

// Bind satisfies render.Binder
func (req *createReadingRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

func (req *createReadingRequest) reading(now time.Time, loc *time.Location) (core.OdometerReading, error) {
	ts := now
	if req.Timestamp != "" {
		var err error
		if ts, err = parseInstant(req.Timestamp, loc); err != nil {
			return core.OdometerReading{}, err
		}
	}
	return core.OdometerReading{Timestamp: ts, TotalKm: *req.TotalKm}, nil
}

type createCarChangeRequest struct {
	Date          string   `json:"date" validate:"required,max=64"`
	OldCarFinalKm *float64 `json:"old_car_final_km" validate:"required,gte=0"`
	NewCarStartKm *float64 `json:"new_car_start_km" validate:"required,gte=0"`
}

// Bind satisfies render.Binder
func (req *createCarChangeRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

func (req *createCarChangeRequest) carChange(loc *time.Location) (core.CarChangeEvent, error) {
	date, err := parseInstant(req.Date, loc)
	if err != nil {
		return core.CarChangeEvent{}, err
	}
	return core.CarChangeEvent{
		Date:          date,
		OldCarFinalKm: *req.OldCarFinalKm,
		NewCarStartKm: *req.NewCarStartKm,
	}, nil
}

type putWorkMileageRequest struct {
	// Mode is "merge" (default) or "replace"
	Mode   string             `json:"mode" validate:"omitempty,oneof=merge replace"`
	Months map[string]float64 `json:"months" validate:"required,dive,keys,len=7,endkeys,gte=0"`
}

// Bind satisfies render.Binder
func (req *putWorkMileageRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

func (req *putWorkMileageRequest) importMode() services.ImportMode {
	if req.Mode == "replace" {
		return services.ImportReplace
	}
	return services.ImportMerge
}

type importChartRequest struct {
	Labels []string `json:"labels" validate:"required,min=1,max=1000,dive,max=256"`
}

// Bind satisfies render.Binder
func (req *importChartRequest) Bind(r *http.Request) error {
	for i := range req.Labels {
		req.Labels[i] = strings.TrimSpace(req.Labels[i])
	}
	return validate.Struct(req)
}

var errBadInstant = errors.New("expected YYYY-MM-DD or RFC 3339 timestamp")

// parseInstant reads a bare date as midnight in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, errBadInstant)
}

// validationMessage flattens validator errors into one line per field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
