// Package journal records job transitions seen during this session.
//
// The database lives in memory and disappears when the process exits.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/osteele/slurm-jobs/internal/slurm"
	"github.com/osteele/slurm-jobs/internal/store"
)

// Event kinds
const (
	KindAppeared = "appeared"
	KindState    = "state"
	KindLeft     = "left"
)

// Event is one recorded transition
type Event struct {
	ID       int64
	At       time.Time
	JobID    string
	Name     string
	Kind     string
	OldState string
	NewState string
}

// Counts summarises the journal
type Counts struct {
	Appeared int
	Changed  int
	Left     int
}

// Open creates an empty in-memory journal
func Open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		job_id TEXT NOT NULL,
		name TEXT,
		kind TEXT NOT NULL,
		old_state TEXT,
		new_state TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := db.Exec(schema)
	return err
}

// Record stores the transitions in diff. prev and next are the job lists
// before and after the snapshot. Changes that leave the state alone, such as
// the elapsed time ticking, are not recorded.
func Record(db *sql.DB, at time.Time, diff store.Diff, prev, next []slurm.Job) (int, error) {
	before := indexJobs(prev)
	after := indexJobs(next)

	var events []Event
	for _, id := range diff.Added {
		j := after[id]
		events = append(events, Event{JobID: id, Name: j.Name, Kind: KindAppeared, NewState: j.StateLabel()})
	}
	for _, id := range diff.Changed {
		old, cur := before[id], after[id]
		if old.StateLabel() == cur.StateLabel() {
			continue
		}
		events = append(events, Event{JobID: id, Name: cur.Name, Kind: KindState, OldState: old.StateLabel(), NewState: cur.StateLabel()})
	}
	for _, id := range diff.Removed {
		j := before[id]
		events = append(events, Event{JobID: id, Name: j.Name, Kind: KindLeft, OldState: j.StateLabel()})
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events (ts, job_id, name, kind, old_state, new_state) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(at.UnixMilli(), e.JobID, e.Name, e.Kind, nullString(e.OldState), nullString(e.NewState)); err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(events), nil
}

// Recent returns the newest events first
func Recent(db *sql.DB, limit int) ([]*Event, error) {
	return queryEvents(db, `SELECT id, ts, job_id, name, kind, old_state, new_state FROM events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
}

// ForJob returns the events for one job, oldest first
func ForJob(db *sql.DB, jobID string) ([]*Event, error) {
	return queryEvents(db, `SELECT id, ts, job_id, name, kind, old_state, new_state FROM events WHERE job_id = ? ORDER BY ts, id`, jobID)
}

// CountEvents returns the number of events of each kind
func CountEvents(db *sql.DB) (Counts, error) {
	var c Counts
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return c, err
		}
		switch kind {
		case KindAppeared:
			c.Appeared = n
		case KindState:
			c.Changed = n
		case KindLeft:
			c.Left = n
		}
	}
	return c, rows.Err()
}

func queryEvents(db *sql.DB, query string, args ...interface{}) ([]*Event, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		var name, oldState, newState sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.JobID, &name, &e.Kind, &oldState, &newState); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ts)
		e.Name = name.String
		e.OldState = oldState.String
		e.NewState = newState.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

func indexJobs(jobs []slurm.Job) map[string]slurm.Job {
	m := make(map[string]slurm.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return m
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
