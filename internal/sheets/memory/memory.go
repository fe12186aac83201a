package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"ritten/internal/core"
	ports "ritten/internal/sheets"
)

var _ ports.Repository = (*Store)(nil)

// Store keeps readings, car changes and work mileage in process memory.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	readings []core.StoredReading
	changes  []core.StoredCarChange
	work     core.WorkMileageTable
}

func New() *Store {
	return &Store{work: core.WorkMileageTable{}}
}

// NewFromFiles seeds work mileage from base/seed_work_mileage.txt, one
// "YYYY-MM km" pair per line. Missing files yield an empty store.
func NewFromFiles(base string) *Store {
	s := New()
	for _, line := range readLines(filepath.Join(base, "seed_work_mileage.txt")) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if _, _, err := core.ParseMonthKey(fields[0]); err != nil {
			continue
		}
		km, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || km < 0 {
			continue
		}
		s.work[fields[0]] += km
	}
	return s
}

func (s *Store) AddReading(_ context.Context, r core.OdometerReading) (core.StoredReading, error) {
	if err := r.Validate(); err != nil {
		return core.StoredReading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := core.StoredReading{ID: s.nextID, OdometerReading: r}
	s.readings = append(s.readings, stored)
	return stored, nil
}

func (s *Store) DeleteReading(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.readings, func(r core.StoredReading) bool { return r.ID == id })
	if i < 0 {
		return core.ErrNotFound
	}
	s.readings = slices.Delete(s.readings, i, i+1)
	return nil
}

func (s *Store) ListReadings(_ context.Context) ([]core.StoredReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.readings), nil
}

func (s *Store) AddCarChange(_ context.Context, c core.CarChangeEvent) (core.StoredCarChange, error) {
	if err := c.Validate(); err != nil {
		return core.StoredCarChange{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := core.StoredCarChange{ID: s.nextID, CarChangeEvent: c}
	s.changes = append(s.changes, stored)
	return stored, nil
}

func (s *Store) DeleteCarChange(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.changes, func(c core.StoredCarChange) bool { return c.ID == id })
	if i < 0 {
		return core.ErrNotFound
	}
	s.changes = slices.Delete(s.changes, i, i+1)
	return nil
}

func (s *Store) ListCarChanges(_ context.Context) ([]core.StoredCarChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.changes), nil
}

func (s *Store) WorkMileage(_ context.Context) (core.WorkMileageTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.work.Clone(), nil
}

func (s *Store) MergeWorkMileage(_ context.Context, t core.WorkMileageTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.work = s.work.Merge(t)
	return nil
}

func (s *Store) ReplaceWorkMileage(_ context.Context, t core.WorkMileageTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.work = t.Clone()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
