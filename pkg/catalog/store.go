// Package catalog stores auxiliary flux series and event records in sqlite.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"solarcube/pkg/solarcube"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a sqlite catalog of flux samples and events.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close db
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PutFlux inserts samples, replacing samples with the same timestamp.
func (s *Store) PutFlux(ctx context.Context, samples []solarcube.FluxSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO flux_samples (time_ns, a_flux, b_flux, quality) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, fs := range samples {
		if _, err := stmt.ExecContext(ctx, fs.Time.UnixNano(), nullable(fs.A), nullable(fs.B), fs.Quality); err != nil {
			return fmt.Errorf("insert flux sample at %s: %w", fs.Time.Format(time.RFC3339Nano), err)
		}
	}
	return tx.Commit()
}

// FluxBetween returns the samples in [start, end] as a series.
func (s *Store) FluxBetween(ctx context.Context, start, end time.Time) (*solarcube.FluxSeries, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_ns, a_flux, b_flux, quality FROM flux_samples WHERE time_ns BETWEEN ? AND ? ORDER BY time_ns`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []solarcube.FluxSample
	for rows.Next() {
		var ns int64
		var a, b sql.NullFloat64
		var q int
		if err := rows.Scan(&ns, &a, &b, &q); err != nil {
			return nil, err
		}
		samples = append(samples, solarcube.FluxSample{
			Time:    time.Unix(0, ns).UTC(),
			A:       fromNullable(a),
			B:       fromNullable(b),
			Quality: q,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return solarcube.NewFluxSeries(samples), nil
}

// PutEvents inserts events, replacing events with the same ID. Events
// without an ID are keyed by label and start time.
func (s *Store) PutEvents(ctx context.Context, events []solarcube.EventRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO events
		(event_id, start_ns, peak_ns, end_ns, x, y, label, class) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		peak := ev.Peak
		if peak.IsZero() {
			peak = ev.Start
		}
		if _, err := stmt.ExecContext(ctx, EventID(ev), ev.Start.UnixNano(), peak.UnixNano(), ev.End.UnixNano(),
			ev.X, ev.Y, ev.Label, ev.Class); err != nil {
			return fmt.Errorf("insert event %s: %w", EventID(ev), err)
		}
	}
	return tx.Commit()
}

// EventID returns the stored identifier of ev.
func EventID(ev solarcube.EventRecord) string {
	if ev.ID != "" {
		return ev.ID
	}
	return fmt.Sprintf("%s@%d", ev.Label, ev.Start.UnixNano())
}

// EventsBetween returns the events whose interval intersects [start, end],
// ordered by start time.
func (s *Store) EventsBetween(ctx context.Context, start, end time.Time) ([]solarcube.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, start_ns, peak_ns, end_ns, x, y, label, class
		FROM events WHERE start_ns <= ? AND end_ns >= ? ORDER BY start_ns, event_id`,
		end.UnixNano(), start.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []solarcube.EventRecord
	for rows.Next() {
		var ev solarcube.EventRecord
		var s0, p0, e0 int64
		if err := rows.Scan(&ev.ID, &s0, &p0, &e0, &ev.X, &ev.Y, &ev.Label, &ev.Class); err != nil {
			return nil, err
		}
		ev.Start = time.Unix(0, s0).UTC()
		ev.Peak = time.Unix(0, p0).UTC()
		ev.End = time.Unix(0, e0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
