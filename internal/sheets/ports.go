package sheets

import (
	"context"

	"ritten/internal/core"
)

// Ports for outbound adapters.
type (
	ReadingStore interface {
		AddReading(ctx context.Context, r core.OdometerReading) (core.StoredReading, error)
		DeleteReading(ctx context.Context, id int64) error
		// ListReadings returns readings in insertion order.
		ListReadings(ctx context.Context) ([]core.StoredReading, error)
	}

	CarChangeStore interface {
		AddCarChange(ctx context.Context, c core.CarChangeEvent) (core.StoredCarChange, error)
		DeleteCarChange(ctx context.Context, id int64) error
		ListCarChanges(ctx context.Context) ([]core.StoredCarChange, error)
	}

	// WorkMileageStore keeps one work distance per "YYYY-MM" month.
	WorkMileageStore interface {
		WorkMileage(ctx context.Context) (core.WorkMileageTable, error)
		// MergeWorkMileage overwrites the months present in t and keeps the others.
		MergeWorkMileage(ctx context.Context, t core.WorkMileageTable) error
		// ReplaceWorkMileage drops every stored month and stores t.
		ReplaceWorkMileage(ctx context.Context, t core.WorkMileageTable) error
	}

	// Repository is everything the mileage service persists.
	Repository interface {
		ReadingStore
		CarChangeStore
		WorkMileageStore
		Close() error
	}

	// WorkMileageSource pulls monthly work distances from an external system.
	WorkMileageSource interface {
		FetchWorkMileage(ctx context.Context) (core.WorkMileageTable, error)
	}

	// SummaryWriter publishes a formatted fiscal-year overview.
	SummaryWriter interface {
		WriteSummary(ctx context.Context, s core.Summary) error
	}
)
