package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ritten/internal/amqp"
	"ritten/internal/cache"
	"ritten/internal/chart"
	"ritten/internal/core"
	applog "ritten/internal/log"
	"ritten/internal/metrics"
	ports "ritten/internal/sheets"
)

// Publisher announces changes to other processes.
type Publisher interface {
	PublishMileageChanged(ctx context.Context, msg *amqp.MileageChangedMessage) error
}

// ImportMode selects how imported work mileage meets the stored table.
type ImportMode int

const (
	// ImportMerge overwrites the imported months and keeps the others
	ImportMerge ImportMode = iota
	// ImportReplace drops every stored month first
	ImportReplace
)

// MileageServiceConfig holds the optional collaborators of MileageService.
type MileageServiceConfig struct {
	// Location anchors fiscal years (default: time.Local)
	Location *time.Location
	// Publisher is nil when no broker is configured
	Publisher Publisher
	// CacheSize bounds the overview cache (default: 16)
	CacheSize int
	// CacheTTL expires cached overviews (default: 5m)
	CacheTTL time.Duration
	Logger   *applog.Logger
}

// MileageService orchestrates persistence, reconciliation and change notification.
type MileageService struct {
	repo      ports.Repository
	publisher Publisher
	overviews cache.Cache[core.Result]
	loc       *time.Location
	logger    *applog.Logger
	now       func() time.Time

	// version changes on every write, invalidating cached overviews
	version atomic.Uint64
}

func NewMileageService(repo ports.Repository, cfg MileageServiceConfig) *MileageService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 16
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	return &MileageService{
		repo:      repo,
		publisher: cfg.Publisher,
		overviews: cache.NewLRUCache[core.Result](cfg.CacheSize, cfg.CacheTTL),
		loc:       cfg.Location,
		logger:    logger.WithComponent(applog.ComponentMileage),
		now:       time.Now,
	}
}

// Location returns the timezone fiscal years are evaluated in.
func (s *MileageService) Location() *time.Location {
	return s.loc
}

// OverviewCache exposes the cache so it can be registered for cleanup.
func (s *MileageService) OverviewCache() cache.Cleaner {
	if c, ok := s.overviews.(cache.Cleaner); ok {
		return c
	}
	return nil
}

// RecordReading stores a reading and announces the fiscal years it can affect.
func (s *MileageService) RecordReading(ctx context.Context, r core.OdometerReading) (core.StoredReading, error) {
	stored, err := s.repo.AddReading(ctx, r)
	if err != nil {
		return core.StoredReading{}, fmt.Errorf("save reading: %w", err)
	}
	s.changed(ctx, amqp.ChangeReading, applog.OpCreate, s.affectedBy(r.Timestamp)...)

	s.logger.InfoContext(ctx, "Reading recorded",
		applog.FieldReadingID, stored.ID,
		applog.FieldTotalKm, r.TotalKm)
	return stored, nil
}

func (s *MileageService) DeleteReading(ctx context.Context, id int64) error {
	readings, err := s.repo.ListReadings(ctx)
	if err != nil {
		return fmt.Errorf("list readings: %w", err)
	}
	i := slices.IndexFunc(readings, func(r core.StoredReading) bool { return r.ID == id })
	if i < 0 {
		return fmt.Errorf("reading %d: %w", id, core.ErrNotFound)
	}

	if err := s.repo.DeleteReading(ctx, id); err != nil {
		return fmt.Errorf("delete reading: %w", err)
	}
	s.changed(ctx, amqp.ChangeReading, applog.OpDelete, s.affectedBy(readings[i].Timestamp)...)

	s.logger.InfoContext(ctx, "Reading deleted", applog.FieldReadingID, id)
	return nil
}

// ListReadings returns readings newest first.
func (s *MileageService) ListReadings(ctx context.Context) ([]core.StoredReading, error) {
	readings, err := s.repo.ListReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	slices.SortStableFunc(readings, func(a, b core.StoredReading) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return readings, nil
}

func (s *MileageService) RecordCarChange(ctx context.Context, c core.CarChangeEvent) (core.StoredCarChange, error) {
	stored, err := s.repo.AddCarChange(ctx, c)
	if err != nil {
		return core.StoredCarChange{}, fmt.Errorf("save car change: %w", err)
	}
	s.changed(ctx, amqp.ChangeCarChange, applog.OpCreate, s.affectedBy(c.Date)...)

	s.logger.InfoContext(ctx, "Car change recorded", applog.FieldCarChangeID, stored.ID)
	return stored, nil
}

func (s *MileageService) DeleteCarChange(ctx context.Context, id int64) error {
	changes, err := s.repo.ListCarChanges(ctx)
	if err != nil {
		return fmt.Errorf("list car changes: %w", err)
	}
	i := slices.IndexFunc(changes, func(c core.StoredCarChange) bool { return c.ID == id })
	if i < 0 {
		return fmt.Errorf("car change %d: %w", id, core.ErrNotFound)
	}

	if err := s.repo.DeleteCarChange(ctx, id); err != nil {
		return fmt.Errorf("delete car change: %w", err)
	}
	s.changed(ctx, amqp.ChangeCarChange, applog.OpDelete, s.affectedBy(changes[i].Date)...)

	s.logger.InfoContext(ctx, "Car change deleted", applog.FieldCarChangeID, id)
	return nil
}

// ListCarChanges returns car changes oldest first.
func (s *MileageService) ListCarChanges(ctx context.Context) ([]core.StoredCarChange, error) {
	changes, err := s.repo.ListCarChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list car changes: %w", err)
	}
	slices.SortStableFunc(changes, func(a, b core.StoredCarChange) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return changes, nil
}

// ImportWorkMileage validates table and stores it according to mode.
func (s *MileageService) ImportWorkMileage(ctx context.Context, table core.WorkMileageTable, mode ImportMode) error {
	if err := table.Validate(); err != nil {
		return err
	}

	var err error
	switch mode {
	case ImportMerge:
		err = s.repo.MergeWorkMileage(ctx, table)
	case ImportReplace:
		err = s.repo.ReplaceWorkMileage(ctx, table)
	default:
		return fmt.Errorf("unknown import mode %d", mode)
	}
	if err != nil {
		return fmt.Errorf("store work mileage: %w", err)
	}

	years := make([]int, 0, len(table))
	for key := range table {
		year, month, _ := core.ParseMonthKey(key)
		years = append(years, int(core.FiscalYearOf(time.Date(year, month, 1, 0, 0, 0, 0, s.loc), s.loc)))
	}
	if mode == ImportReplace && len(years) == 0 {
		years = append(years, int(core.FiscalYearOf(s.now(), s.loc)))
	}
	s.changed(ctx, amqp.ChangeWorkMileage, applog.OpImport, years...)

	s.logger.InfoContext(ctx, "Work mileage imported",
		applog.FieldMonths, len(table),
		"replace", mode == ImportReplace)
	return nil
}

// ImportChartLabels parses chart point labels and merges the resulting months.
func (s *MileageService) ImportChartLabels(ctx context.Context, labels []string) (chart.Import, error) {
	imp, err := chart.ParseLabels(labels)
	if err != nil {
		return chart.Import{}, fmt.Errorf("parse chart labels: %w", err)
	}
	if imp.Skipped > 0 {
		metrics.ChartLabelsSkipped.Add(float64(imp.Skipped))
		s.logger.WarnContext(ctx, "Chart labels skipped", "skipped", imp.Skipped, applog.FieldSource, "chart")
	}
	if len(imp.Table) == 0 {
		return imp, nil
	}
	if err := s.ImportWorkMileage(ctx, imp.Table, ImportMerge); err != nil {
		return chart.Import{}, err
	}
	return imp, nil
}

func (s *MileageService) WorkMileage(ctx context.Context) (core.WorkMileageTable, error) {
	table, err := s.repo.WorkMileage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load work mileage: %w", err)
	}
	return table, nil
}

// Overview reconciles fy, serving repeated requests from the cache until the next write.
func (s *MileageService) Overview(ctx context.Context, fy core.FiscalYear) (core.Result, error) {
	key := strconv.Itoa(int(fy)) + "@" + strconv.FormatUint(s.version.Load(), 10)
	if res, ok := s.overviews.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return res, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	start := time.Now()
	in, err := s.load(ctx)
	if err != nil {
		metrics.Calculations.WithLabelValues("error").Inc()
		return core.Result{}, err
	}
	in.FiscalYear = fy
	in.Location = s.loc

	res, err := core.Calculate(in)
	metrics.CalculationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Calculations.WithLabelValues("error").Inc()
		return core.Result{}, fmt.Errorf("calculate %s: %w", fy, err)
	}

	outcome := "ok"
	if res.InsufficientData {
		outcome = "insufficient_data"
	}
	metrics.Calculations.WithLabelValues(outcome).Inc()
	s.overviews.Set(key, res)

	s.logger.DebugContext(ctx, "Fiscal year reconciled", applog.NewFields().WithResult(res).ToSlice()...)
	return res, nil
}

// Invalidate drops cached overviews, for callers that learn about writes
// made by another process.
func (s *MileageService) Invalidate() {
	s.version.Add(1)
}

// CurrentOverview reconciles the fiscal year containing the current time.
func (s *MileageService) CurrentOverview(ctx context.Context) (core.Result, error) {
	return s.Overview(ctx, s.CurrentFiscalYear())
}

func (s *MileageService) CurrentFiscalYear() core.FiscalYear {
	return core.FiscalYearOf(s.now(), s.loc)
}

// load reads the three inputs concurrently.
func (s *MileageService) load(ctx context.Context) (core.Input, error) {
	var (
		readings []core.StoredReading
		changes  []core.StoredCarChange
		work     core.WorkMileageTable
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		readings, err = s.repo.ListReadings(gctx)
		if err != nil {
			return fmt.Errorf("load readings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		changes, err = s.repo.ListCarChanges(gctx)
		if err != nil {
			return fmt.Errorf("load car changes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		work, err = s.repo.WorkMileage(gctx)
		if err != nil {
			return fmt.Errorf("load work mileage: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Input{}, err
	}

	in := core.Input{
		Readings:    make([]core.OdometerReading, len(readings)),
		CarChanges:  make([]core.CarChangeEvent, len(changes)),
		WorkMileage: work,
	}
	for i, r := range readings {
		in.Readings[i] = r.OdometerReading
	}
	for i, c := range changes {
		in.CarChanges[i] = c.CarChangeEvent
	}
	return in, nil
}

// affectedBy returns every fiscal year an entry at t can change. A period
// end at July 1 belongs to the year before, and an entry may serve as the
// baseline of any later year up to the current one.
func (s *MileageService) affectedBy(t time.Time) []int {
	first := int(core.FiscalYearOf(t.Add(-time.Nanosecond), s.loc))
	last := max(int(core.FiscalYearOf(t, s.loc))+1, int(s.CurrentFiscalYear()))

	years := make([]int, 0, last-first+1)
	for fy := first; fy <= last; fy++ {
		years = append(years, fy)
	}
	return years
}

// changed invalidates cached overviews and notifies the broker. A failed
// publish never fails the write; the worker's periodic pass catches up.
func (s *MileageService) changed(ctx context.Context, kind amqp.ChangeKind, op string, fiscalYears ...int) {
	s.version.Add(1)
	metrics.Writes.WithLabelValues(string(kind), op).Inc()

	if s.publisher == nil {
		return
	}
	msg := amqp.NewMileageChangedMessage(kind, fiscalYears...)
	err := s.publisher.PublishMileageChanged(ctx, msg)
	metrics.MessagesPublished.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish mileage changed message",
			applog.FieldMessageID, msg.ID.String(),
			applog.FieldError, err)
	}
}

// Close closes the repository
func (s *MileageService) Close() error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("close mileage service: %w", err)
	}
	return nil
}
