package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ritten/internal/core"
	ports "ritten/internal/sheets"

	_ "modernc.org/sqlite"
)

var _ ports.Repository = (*SQLiteRepository)(nil)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) AddReading(ctx context.Context, reading core.OdometerReading) (core.StoredReading, error) {
	if err := reading.Validate(); err != nil {
		return core.StoredReading{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (recorded_at, total_km) VALUES (?, ?)`,
		reading.Timestamp.UTC().Format(timeLayout), reading.TotalKm)
	if err != nil {
		return core.StoredReading{}, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.StoredReading{}, fmt.Errorf("reading id: %w", err)
	}

	slog.DebugContext(ctx, "Reading saved to SQLite", "reading_id", id, "total_km", reading.TotalKm)
	return core.StoredReading{ID: id, OdometerReading: reading}, nil
}

func (r *SQLiteRepository) DeleteReading(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "readings", id)
}

// ListReadings returns readings ordered by insertion.
func (r *SQLiteRepository) ListReadings(ctx context.Context) ([]core.StoredReading, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, recorded_at, total_km FROM readings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []core.StoredReading
	for rows.Next() {
		var (
			s  core.StoredReading
			ts string
		)
		if err := rows.Scan(&s.ID, &ts, &s.TotalKm); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if s.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("reading %d: parse timestamp %q: %w", s.ID, ts, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AddCarChange(ctx context.Context, c core.CarChangeEvent) (core.StoredCarChange, error) {
	if err := c.Validate(); err != nil {
		return core.StoredCarChange{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO car_changes (changed_at, old_car_final_km, new_car_start_km) VALUES (?, ?, ?)`,
		c.Date.UTC().Format(timeLayout), c.OldCarFinalKm, c.NewCarStartKm)
	if err != nil {
		return core.StoredCarChange{}, fmt.Errorf("insert car change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.StoredCarChange{}, fmt.Errorf("car change id: %w", err)
	}

	slog.DebugContext(ctx, "Car change saved to SQLite", "car_change_id", id)
	return core.StoredCarChange{ID: id, CarChangeEvent: c}, nil
}

func (r *SQLiteRepository) DeleteCarChange(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "car_changes", id)
}

func (r *SQLiteRepository) ListCarChanges(ctx context.Context) ([]core.StoredCarChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, changed_at, old_car_final_km, new_car_start_km FROM car_changes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list car changes: %w", err)
	}
	defer rows.Close()

	var out []core.StoredCarChange
	for rows.Next() {
		var (
			s  core.StoredCarChange
			ts string
		)
		if err := rows.Scan(&s.ID, &ts, &s.OldCarFinalKm, &s.NewCarStartKm); err != nil {
			return nil, fmt.Errorf("scan car change: %w", err)
		}
		if s.Date, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("car change %d: parse date %q: %w", s.ID, ts, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) WorkMileage(ctx context.Context) (core.WorkMileageTable, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT month_key, km FROM work_mileage`)
	if err != nil {
		return nil, fmt.Errorf("list work mileage: %w", err)
	}
	defer rows.Close()

	out := core.WorkMileageTable{}
	for rows.Next() {
		var (
			key string
			km  float64
		)
		if err := rows.Scan(&key, &km); err != nil {
			return nil, fmt.Errorf("scan work mileage: %w", err)
		}
		out[key] = km
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MergeWorkMileage(ctx context.Context, t core.WorkMileageTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return upsertWorkMileage(ctx, tx, t)
	})
}

func (r *SQLiteRepository) ReplaceWorkMileage(ctx context.Context, t core.WorkMileageTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_mileage`); err != nil {
			return fmt.Errorf("clear work mileage: %w", err)
		}
		return upsertWorkMileage(ctx, tx, t)
	})
}

func upsertWorkMileage(ctx context.Context, tx *sql.Tx, t core.WorkMileageTable) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_mileage (month_key, km, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(month_key) DO UPDATE SET km = excluded.km, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare work mileage upsert: %w", err)
	}
	defer stmt.Close()

	for key, km := range t {
		if _, err := stmt.ExecContext(ctx, key, km); err != nil {
			return fmt.Errorf("upsert work mileage %s: %w", key, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// deleteByID removes one row; table is always a package constant.
func (r *SQLiteRepository) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, core.ErrNotFound)
	}
	return nil
}

