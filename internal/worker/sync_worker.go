package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ritten/internal/amqp"
	"ritten/internal/core"
	applog "ritten/internal/log"
	"ritten/internal/metrics"
	"ritten/internal/services"
	ports "ritten/internal/sheets"
)

const (
	jobSummary = "summary"
	jobPull    = "pull"
)

// MileageService is the part of services.MileageService the worker drives.
type MileageService interface {
	Overview(ctx context.Context, fy core.FiscalYear) (core.Result, error)
	CurrentFiscalYear() core.FiscalYear
	ImportWorkMileage(ctx context.Context, table core.WorkMileageTable, mode services.ImportMode) error
	Invalidate()
}

// SyncWorker keeps the spreadsheet summary in step with the database and pulls
// reported work mileage back from the spreadsheet.
type SyncWorker struct {
	mileage   MileageService
	summaries ports.SummaryWriter
	source    ports.WorkMileageSource
	logger    *applog.Logger
}

// NewSyncWorker accepts a nil source when only summaries are written.
func NewSyncWorker(mileage MileageService, summaries ports.SummaryWriter, source ports.WorkMileageSource, logger *applog.Logger) *SyncWorker {
	return &SyncWorker{
		mileage:   mileage,
		summaries: summaries,
		source:    source,
		logger:    logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleMileageChanged rewrites the summary rows of every fiscal year named in msg.
func (w *SyncWorker) HandleMileageChanged(ctx context.Context, msg *amqp.MileageChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing mileage changed message",
		applog.FieldMessageID, msg.ID.String(),
		"kind", msg.Kind,
		"fiscal_years", msg.FiscalYears)

	// The write happened in another process
	w.mileage.Invalidate()

	var errs []error
	for _, fy := range msg.FiscalYears {
		if err := w.SyncSummary(ctx, core.FiscalYear(fy)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncSummary recomputes fy and writes its summary row.
func (w *SyncWorker) SyncSummary(ctx context.Context, fy core.FiscalYear) error {
	res, err := w.mileage.Overview(ctx, fy)
	if err == nil {
		err = w.summaries.WriteSummary(ctx, res.Summarize())
	}
	metrics.WorkerJobs.WithLabelValues(jobSummary, metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("sync summary %s: %w", fy, err)
	}

	w.logger.InfoContext(ctx, "Summary synced", applog.NewFields().WithResult(res).ToSlice()...)
	return nil
}

// PullWorkMileage merges the spreadsheet's monthly work distances into the
// store and refreshes the summary of the current fiscal year.
func (w *SyncWorker) PullWorkMileage(ctx context.Context) error {
	if w.source == nil {
		return nil
	}

	table, err := w.source.FetchWorkMileage(ctx)
	if err == nil && len(table) > 0 {
		err = w.mileage.ImportWorkMileage(ctx, table, services.ImportMerge)
	}
	metrics.WorkerJobs.WithLabelValues(jobPull, metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("pull work mileage: %w", err)
	}

	w.logger.InfoContext(ctx, "Work mileage pulled", applog.FieldMonths, len(table), applog.FieldSource, "sheets")
	return w.SyncSummary(ctx, w.mileage.CurrentFiscalYear())
}

// StartupSync writes the summaries of the current and the previous fiscal
// year, recovering from messages missed while the worker was down.
func (w *SyncWorker) StartupSync(ctx context.Context) error {
	current := w.mileage.CurrentFiscalYear()
	return errors.Join(
		w.SyncSummary(ctx, current-1),
		w.SyncSummary(ctx, current),
	)
}

// Run pulls work mileage every interval until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.PullWorkMileage(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic sync failed", applog.FieldError, err)
			}
		}
	}
}
