package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/brigadeboard/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the durable client-side state: unit timers and the flashing
// incident set. Both survive a restart of the board client.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod store path: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMigrated opens the store and applies pending migrations.
func OpenMigrated(ctx context.Context, path string) (*Store, error) {
	s, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, s.db); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveTimer upserts the unit's timer; a unit has at most one row.
func (s *Store) SaveTimer(ctx context.Context, t model.UnitTimer) error {
	unitID := strings.TrimSpace(t.UnitID)
	if unitID == "" {
		return fmt.Errorf("unit_id is required")
	}
	if t.Duration <= 0 {
		return fmt.Errorf("timer duration must be positive")
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}
	var endTime any
	if !t.Paused {
		endTime = ts(t.EndTime)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO unit_timers(unit_id, label, duration_ms, end_time, paused, paused_remaining_ms, incident_id, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(unit_id) DO UPDATE SET
	label=excluded.label,
	duration_ms=excluded.duration_ms,
	end_time=excluded.end_time,
	paused=excluded.paused,
	paused_remaining_ms=excluded.paused_remaining_ms,
	incident_id=excluded.incident_id,
	started_at=excluded.started_at,
	updated_at=excluded.updated_at
`, unitID, t.Label, t.Duration.Milliseconds(), endTime, boolToInt(t.Paused), pausedMillis(t), nullableIncident(t.IncidentID), ts(t.StartedAt), ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("save timer: %w", err)
	}
	return nil
}

func (s *Store) DeleteTimer(ctx context.Context, unitID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM unit_timers WHERE unit_id = ?`, strings.TrimSpace(unitID)); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	return nil
}

func (s *Store) GetTimer(ctx context.Context, unitID string) (model.UnitTimer, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT unit_id, label, duration_ms, end_time, paused, paused_remaining_ms, incident_id, started_at
FROM unit_timers WHERE unit_id = ?`, strings.TrimSpace(unitID))
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UnitTimer{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTimers(ctx context.Context) ([]model.UnitTimer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT unit_id, label, duration_ms, end_time, paused, paused_remaining_ms, incident_id, started_at
FROM unit_timers ORDER BY unit_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	out := make([]model.UnitTimer, 0)
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter timers: %w", err)
	}
	return out, nil
}

// AddFlashing inserts the incident into the flashing set. An incident that is
// already flashing keeps its original start time.
func (s *Store) AddFlashing(ctx context.Context, f model.FlashingIncident) error {
	if f.IncidentID <= 0 {
		return fmt.Errorf("incident_id is required")
	}
	if f.StartedAt.IsZero() {
		f.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO flashing_incidents(incident_id, unit_id, reason, started_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(incident_id) DO NOTHING
`, f.IncidentID, f.UnitID, f.Reason, ts(f.StartedAt))
	if err != nil {
		return fmt.Errorf("add flashing incident: %w", err)
	}
	return nil
}

// RemoveFlashing reports whether the incident was in the set.
func (s *Store) RemoveFlashing(ctx context.Context, incidentID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flashing_incidents WHERE incident_id = ?`, incidentID)
	if err != nil {
		return false, fmt.Errorf("remove flashing incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove flashing incident rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListFlashing(ctx context.Context) ([]model.FlashingIncident, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT incident_id, unit_id, reason, started_at
FROM flashing_incidents ORDER BY started_at ASC, incident_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list flashing incidents: %w", err)
	}
	defer rows.Close()

	out := make([]model.FlashingIncident, 0)
	for rows.Next() {
		var (
			f       model.FlashingIncident
			started string
		)
		if err := rows.Scan(&f.IncidentID, &f.UnitID, &f.Reason, &started); err != nil {
			return nil, fmt.Errorf("scan flashing incident: %w", err)
		}
		if f.StartedAt, err = parseTS(started); err != nil {
			return nil, fmt.Errorf("parse flashing started_at: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter flashing incidents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (model.UnitTimer, error) {
	var (
		t          model.UnitTimer
		durationMS int64
		endTime    sql.NullString
		paused     int
		remaining  int64
		incidentID sql.NullInt64
		startedAt  string
	)
	if err := row.Scan(&t.UnitID, &t.Label, &durationMS, &endTime, &paused, &remaining, &incidentID, &startedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UnitTimer{}, err
		}
		return model.UnitTimer{}, fmt.Errorf("scan timer: %w", err)
	}
	t.Duration = time.Duration(durationMS) * time.Millisecond
	t.Paused = paused == 1
	t.PausedRemaining = time.Duration(remaining) * time.Millisecond
	if incidentID.Valid {
		t.IncidentID = incidentID.Int64
	}
	var err error
	if endTime.Valid {
		if t.EndTime, err = parseTS(endTime.String); err != nil {
			return model.UnitTimer{}, fmt.Errorf("parse timer end_time: %w", err)
		}
	}
	if t.StartedAt, err = parseTS(startedAt); err != nil {
		return model.UnitTimer{}, fmt.Errorf("parse timer started_at: %w", err)
	}
	return t, nil
}

func pausedMillis(t model.UnitTimer) int64 {
	if !t.Paused || t.PausedRemaining < 0 {
		return 0
	}
	return t.PausedRemaining.Milliseconds()
}

func nullableIncident(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
