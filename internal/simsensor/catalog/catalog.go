// Package catalog indexes persisted sensor frames in a SQLite database so
// a run's output can be queried by sensor and capture sequence.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a capture catalog backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// Pragmas are per connection; a single connection also serialises the
	// concurrent writes of several persist stages.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed
// because that would close the shared connection.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version and whether the last
// migration left the database dirty.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { log.Printf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Record is one catalogued capture.
type Record struct {
	ID    uuid.UUID
	RunID uuid.UUID // uuid.Nil outside a run
	filter.Capture
	RecordedAt time.Time
}

// RecordCapture implements filter.CaptureRecorder for captures made outside
// a run.
func (s *Store) RecordCapture(ctx context.Context, c filter.Capture) error {
	return s.insert(ctx, uuid.Nil, c)
}

func (s *Store) insert(ctx context.Context, run uuid.UUID, c filter.Capture) error {
	var runID sql.NullString
	if run != uuid.Nil {
		runID = sql.NullString{String: run.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (capture_id, run_id, sensor, seq, frame_index, kind, sim_time, path, samples, recorded_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, c.Sensor, int64(c.Seq), int64(c.Index), c.Kind.String(),
		c.Timestamp, c.Path, c.Samples, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert capture %s #%d: %w", c.Sensor, c.Seq, err)
	}
	return nil
}

// ListBySensor returns the sensor's captures ordered by sequence.
func (s *Store) ListBySensor(ctx context.Context, sensor string) ([]Record, error) {
	return s.query(ctx, `
		SELECT capture_id, run_id, sensor, seq, frame_index, kind, sim_time, path, samples, recorded_ns
		FROM captures WHERE sensor = ? ORDER BY seq, frame_index`, sensor)
}

// ListByRun returns a run's captures ordered by simulation time.
func (s *Store) ListByRun(ctx context.Context, run uuid.UUID) ([]Record, error) {
	return s.query(ctx, `
		SELECT capture_id, run_id, sensor, seq, frame_index, kind, sim_time, path, samples, recorded_ns
		FROM captures WHERE run_id = ? ORDER BY sim_time, sensor`, run.String())
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			id, kind   string
			runID      sql.NullString
			seq, index int64
			recordedNs int64
		)
		if err := rows.Scan(&id, &runID, &r.Sensor, &seq, &index, &kind, &r.Timestamp, &r.Path, &r.Samples, &recordedNs); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("capture id %q: %w", id, err)
		}
		if runID.Valid {
			if r.RunID, err = uuid.Parse(runID.String); err != nil {
				return nil, fmt.Errorf("run id %q: %w", runID.String, err)
			}
		}
		if r.Kind, err = simsensor.ParseKind(kind); err != nil {
			return nil, err
		}
		r.Seq, r.Index = uint64(seq), uint64(index)
		r.RecordedAt = time.Unix(0, recordedNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of catalogued captures.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n)
	return n, err
}
