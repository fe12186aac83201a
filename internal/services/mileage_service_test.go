package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ritten/internal/amqp"
	"ritten/internal/core"
	applog "ritten/internal/log"
	"ritten/internal/sheets/memory"
)

const tolerance = 0.01

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.MileageChangedMessage
	err  error
}

func (p *recordingPublisher) PublishMileageChanged(_ context.Context, msg *amqp.MileageChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) last() *amqp.MileageChangedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) == 0 {
		return nil
	}
	return p.msgs[len(p.msgs)-1]
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, pub Publisher) (*MileageService, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewMileageService(store, MileageServiceConfig{
		Location:  time.UTC,
		Publisher: pub,
		Logger:    applog.New(applog.Config{Output: &bytes.Buffer{}}),
	})
	svc.now = func() time.Time { return day(2025, 3, 15) }
	return svc, store
}

func seedReference(t *testing.T, svc *MileageService) {
	t.Helper()
	ctx := context.Background()
	for _, r := range []core.OdometerReading{
		{Timestamp: day(2024, 7, 1), TotalKm: 35822},
		{Timestamp: day(2025, 5, 6), TotalKm: 57215.6},
		{Timestamp: day(2025, 5, 7), TotalKm: 90},
		{Timestamp: day(2025, 6, 30), TotalKm: 5813},
		{Timestamp: day(2025, 7, 17), TotalKm: 7726},
	} {
		_, err := svc.RecordReading(ctx, r)
		require.NoError(t, err)
	}
	_, err := svc.RecordCarChange(ctx, core.CarChangeEvent{Date: day(2025, 5, 7), OldCarFinalKm: 57215.6, NewCarStartKm: 90})
	require.NoError(t, err)
	require.NoError(t, svc.ImportWorkMileage(ctx, core.WorkMileageTable{
		"2024-09": 263.1,
		"2024-12": 207.01,
		"2025-01": 2220.9,
		"2025-02": 1586.19,
		"2025-03": 1534.29,
		"2025-04": 1780.17,
		"2025-05": 1838.51,
		"2025-06": 1556.64,
		"2025-07": 1418.29,
	}, ImportMerge))
}

func TestMileageService_Overview(t *testing.T) {
	svc, _ := newTestService(t, nil)
	seedReference(t, svc)

	res, err := svc.Overview(context.Background(), 2024)
	require.NoError(t, err)
	assert.InDelta(t, 27116.6, res.TotalDriven, tolerance)
	assert.InDelta(t, 10986.81, res.TotalWorkKm, tolerance)
	assert.InDelta(t, 16129.79, res.PrivateKm, tolerance)

	res, err = svc.Overview(context.Background(), 2025)
	require.NoError(t, err)
	assert.InDelta(t, 1913.0, res.TotalDriven, tolerance)
	assert.InDelta(t, 494.71, res.PrivateKm, tolerance)
}

func TestMileageService_CurrentOverview(t *testing.T) {
	svc, _ := newTestService(t, nil)
	seedReference(t, svc)

	// now is March 2025, inside fiscal year 2024/2025
	res, err := svc.CurrentOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.FiscalYear(2024), res.FiscalYear)

	svc.now = func() time.Time { return day(2025, 7, 1) }
	assert.Equal(t, core.FiscalYear(2025), svc.CurrentFiscalYear())
}

func TestMileageService_CacheInvalidatedOnWrite(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2024, 7, 1), TotalKm: 1000})
	require.NoError(t, err)
	_, err = svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2024, 8, 1), TotalKm: 1500})
	require.NoError(t, err)

	first, err := svc.Overview(ctx, 2024)
	require.NoError(t, err)
	assert.InDelta(t, 500, first.TotalDriven, tolerance)
	assert.Equal(t, 1, svc.overviews.Size())

	cached, err := svc.Overview(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	_, err = svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2024, 9, 1), TotalKm: 2000})
	require.NoError(t, err)

	updated, err := svc.Overview(ctx, 2024)
	require.NoError(t, err)
	assert.InDelta(t, 1000, updated.TotalDriven, tolerance)
}

func TestMileageService_InsufficientData(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.ImportWorkMileage(ctx, core.WorkMileageTable{"2024-09": 100}, ImportMerge))
	_, err := svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2024, 6, 1), TotalKm: 10})
	require.NoError(t, err)

	res, err := svc.Overview(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, res.InsufficientData)
	assert.Equal(t, 100.0, res.TotalWorkKm)
	assert.Equal(t, core.InsufficientDataLabel, res.Summarize().PrivateKm)
}

func TestMileageService_ListReadingsNewestFirst(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, ts := range []time.Time{day(2024, 8, 1), day(2024, 7, 1), day(2024, 9, 1)} {
		_, err := svc.RecordReading(ctx, core.OdometerReading{Timestamp: ts, TotalKm: 1})
		require.NoError(t, err)
	}

	list, err := svc.ListReadings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, day(2024, 9, 1), list[0].Timestamp)
	assert.Equal(t, day(2024, 7, 1), list[2].Timestamp)
}

func TestMileageService_DeleteAnnouncesAffectedYears(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)
	ctx := context.Background()

	stored, err := svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2025, 2, 1), TotalKm: 1})
	require.NoError(t, err)
	msg := pub.last()
	require.NotNil(t, msg)
	assert.Equal(t, amqp.ChangeReading, msg.Kind)
	assert.Equal(t, []int{2024, 2025}, msg.FiscalYears)

	require.NoError(t, svc.DeleteReading(ctx, stored.ID))
	assert.Len(t, pub.msgs, 2)

	err = svc.DeleteReading(ctx, stored.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	assert.Len(t, pub.msgs, 2)
}

func TestMileageService_AnnouncesEveryAffectedYear(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)
	svc.now = func() time.Time { return day(2025, 3, 15) }
	ctx := context.Background()

	// an old reading becomes the baseline of every later year without readings
	_, err := svc.RecordReading(ctx, core.OdometerReading{Timestamp: day(2022, 9, 1), TotalKm: 1000})
	require.NoError(t, err)
	assert.Equal(t, []int{2022, 2023, 2024}, pub.last().FiscalYears)

	// the old car's final km on July 1 closes the year that just ended
	_, err = svc.RecordCarChange(ctx, core.CarChangeEvent{Date: day(2025, 7, 1), OldCarFinalKm: 8000, NewCarStartKm: 5})
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2025}, pub.last().FiscalYears)

	// both entries shape 2024/2025: 1000 as baseline, 8000 as the final reading
	result, err := svc.Overview(ctx, 2024)
	require.NoError(t, err)
	assert.InDelta(t, 7000, result.TotalDriven, tolerance)
}

func TestMileageService_CarChanges(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)
	ctx := context.Background()

	later, err := svc.RecordCarChange(ctx, core.CarChangeEvent{Date: day(2025, 5, 7), OldCarFinalKm: 100, NewCarStartKm: 1})
	require.NoError(t, err)
	_, err = svc.RecordCarChange(ctx, core.CarChangeEvent{Date: day(2023, 1, 1), OldCarFinalKm: 100, NewCarStartKm: 1})
	require.NoError(t, err)

	list, err := svc.ListCarChanges(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, day(2023, 1, 1), list[0].Date)
	assert.Equal(t, amqp.ChangeCarChange, pub.last().Kind)

	require.NoError(t, svc.DeleteCarChange(ctx, later.ID))
	assert.ErrorIs(t, svc.DeleteCarChange(ctx, later.ID), core.ErrNotFound)

	_, err = svc.RecordCarChange(ctx, core.CarChangeEvent{OldCarFinalKm: 1})
	assert.ErrorIs(t, err, core.ErrZeroTimestamp)
}

func TestMileageService_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("circuit breaker is open")}
	svc, _ := newTestService(t, pub)

	_, err := svc.RecordReading(context.Background(), core.OdometerReading{Timestamp: day(2024, 7, 1), TotalKm: 1})
	assert.NoError(t, err)
}

func TestMileageService_ImportWorkMileage(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)
	ctx := context.Background()

	require.NoError(t, svc.ImportWorkMileage(ctx, core.WorkMileageTable{"2024-07": 10, "2025-06": 20}, ImportMerge))
	assert.Equal(t, []int{2024}, pub.last().FiscalYears)

	require.NoError(t, svc.ImportWorkMileage(ctx, core.WorkMileageTable{"2024-07": 15, "2025-07": 5}, ImportMerge))
	table, err := svc.WorkMileage(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.WorkMileageTable{"2024-07": 15, "2025-06": 20, "2025-07": 5}, table)
	assert.Equal(t, []int{2024, 2025}, pub.last().FiscalYears)

	require.NoError(t, svc.ImportWorkMileage(ctx, core.WorkMileageTable{"2023-01": 1}, ImportReplace))
	table, _ = svc.WorkMileage(ctx)
	assert.Equal(t, core.WorkMileageTable{"2023-01": 1}, table)

	err = svc.ImportWorkMileage(ctx, core.WorkMileageTable{"2024/07": 1}, ImportMerge)
	assert.ErrorIs(t, err, core.ErrMalformedKey)
}

func TestMileageService_ImportChartLabels(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	imp, err := svc.ImportChartLabels(ctx, []string{"2024-09, 1,263.1.", "2024-09, 36.9.", "Zakelijk"})
	require.NoError(t, err)
	assert.Equal(t, 2, imp.Points)
	assert.Equal(t, 1, imp.Skipped)

	table, err := svc.WorkMileage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, table["2024-09"], tolerance)

	_, err = svc.ImportChartLabels(ctx, []string{"2024-10, ??."})
	assert.Error(t, err)
}

func TestMileageService_Close(t *testing.T) {
	t.Run("nil repository", func(t *testing.T) {
		service := &MileageService{}
		assert.NoError(t, service.Close())
	})
	t.Run("memory repository", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		assert.NoError(t, svc.Close())
	})
}
