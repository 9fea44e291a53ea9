package workspace

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seisworks/dlrepick/internal/model"
)

// Journal persists the attempted-pick set per event in a local sqlite
// file so that resubmission suppression survives process restarts.
type Journal struct {
	db *sql.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS attempted_picks (
	event_id      TEXT NOT NULL,
	pick_id       TEXT NOT NULL,
	network_code  TEXT NOT NULL,
	station_code  TEXT NOT NULL,
	location_code TEXT NOT NULL,
	channel_code  TEXT NOT NULL,
	pick_time     TEXT NOT NULL,
	predicted     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (event_id, pick_id)
);
CREATE INDEX IF NOT EXISTS idx_attempted_event ON attempted_picks (event_id);
`

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workspace: open journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records attempted picks. Re-appending an existing pick is a
// no-op so journal writes are idempotent under redelivery.
func (j *Journal) Append(eventID string, picks []model.Pick) error {
	if len(picks) == 0 {
		return nil
	}
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("workspace: journal begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO attempted_picks
			(event_id, pick_id, network_code, station_code, location_code, channel_code, pick_time, predicted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("workspace: journal prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range picks {
		predicted := 0
		if p.Predicted {
			predicted = 1
		}
		_, err := stmt.Exec(eventID, p.ID,
			p.Stream.Network, p.Stream.Station, p.Stream.Location, p.Stream.Channel,
			p.Time.UTC().Format(time.RFC3339Nano), predicted)
		if err != nil {
			return fmt.Errorf("workspace: journal insert %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("workspace: journal commit: %w", err)
	}
	return nil
}

// Attempted loads the attempted picks recorded for an event.
func (j *Journal) Attempted(eventID string) ([]model.Pick, error) {
	rows, err := j.db.Query(`
		SELECT pick_id, network_code, station_code, location_code, channel_code, pick_time, predicted
		FROM attempted_picks WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("workspace: journal query: %w", err)
	}
	defer rows.Close()

	var picks []model.Pick
	for rows.Next() {
		var p model.Pick
		var ts string
		var predicted int
		if err := rows.Scan(&p.ID, &p.Stream.Network, &p.Stream.Station,
			&p.Stream.Location, &p.Stream.Channel, &ts, &predicted); err != nil {
			return nil, fmt.Errorf("workspace: journal scan: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.Time = t
		}
		p.Predicted = predicted != 0
		picks = append(picks, p)
	}
	return picks, rows.Err()
}

// Clear removes an event's journal entries.
func (j *Journal) Clear(eventID string) error {
	_, err := j.db.Exec(`DELETE FROM attempted_picks WHERE event_id = ?`, eventID)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }
