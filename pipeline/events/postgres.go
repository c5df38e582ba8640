package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// RunRecord is the stored summary of one pipeline run.
type RunRecord struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	FinalState     string
	SceneSource    string
	ExportPath     string
	ExportChecksum string
	Error          string
}

// Postgres stores runs and their events.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and creates the tables if needed.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run tables: %w", err)
	}
	return p, nil
}

func (p *Postgres) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS indiasim_runs (
			run_id          TEXT PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL,
			final_state     TEXT NOT NULL,
			scene_source    TEXT,
			export_path     TEXT,
			export_checksum TEXT,
			error           TEXT
		);
		CREATE TABLE IF NOT EXISTS indiasim_run_events (
			event_id BIGSERIAL PRIMARY KEY,
			run_id   TEXT NOT NULL,
			seq      INTEGER NOT NULL,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			state    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_indiasim_run_events_run_id ON indiasim_run_events(run_id);
	`
	_, err := p.db.Exec(query)
	return err
}

// Emit implements Sink by inserting the event.
func (p *Postgres) Emit(e Event) error {
	fields, err := fieldsParam(e.Fields)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO indiasim_run_events (run_id, seq, ts, level, state, msg, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.Exec(query, e.RunID, e.Seq, e.Timestamp, e.Level, e.State, nullString(e.Message), fields)
	return err
}

// fieldsParam encodes fields for the JSONB column. No fields is SQL NULL:
// lib/pq sends NULL only for a nil interface, never for an empty []byte.
func fieldsParam(fields map[string]any) (any, error) {
	if fields == nil {
		return nil, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return b, nil
}

// CountEvents returns how many events are stored for runID.
func (p *Postgres) CountEvents(runID string) (int, error) {
	var n int
	err := p.db.QueryRow(`SELECT count(*) FROM indiasim_run_events WHERE run_id = $1`, runID).Scan(&n)
	return n, err
}

// SaveRun upserts the run summary.
func (p *Postgres) SaveRun(r RunRecord) error {
	query := `
		INSERT INTO indiasim_runs (run_id, started_at, finished_at, final_state, scene_source, export_path, export_checksum, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			final_state = EXCLUDED.final_state,
			scene_source = EXCLUDED.scene_source,
			export_path = EXCLUDED.export_path,
			export_checksum = EXCLUDED.export_checksum,
			error = EXCLUDED.error
	`
	_, err := p.db.Exec(query, r.RunID, r.StartedAt, r.FinishedAt, r.FinalState,
		nullString(r.SceneSource), nullString(r.ExportPath), nullString(r.ExportChecksum), nullString(r.Error))
	return err
}

// LoadRun reads back a stored run.
func (p *Postgres) LoadRun(runID string) (*RunRecord, error) {
	var r RunRecord
	var scene, export, checksum, runErr sql.NullString
	err := p.db.QueryRow(`
		SELECT run_id, started_at, finished_at, final_state, scene_source, export_path, export_checksum, error
		FROM indiasim_runs WHERE run_id = $1
	`, runID).Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.FinalState, &scene, &export, &checksum, &runErr)
	if err != nil {
		return nil, err
	}
	r.SceneSource, r.ExportPath, r.ExportChecksum, r.Error = scene.String, export.String, checksum.String, runErr.String
	return &r, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
