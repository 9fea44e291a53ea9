package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// PGCatalog is the Postgres-backed catalog client.
type PGCatalog struct {
	db *sql.DB
}

// NewPGCatalog constructs a catalog client over an open connection.
func NewPGCatalog(db *sql.DB) *PGCatalog {
	return &PGCatalog{db: db}
}

// Ping verifies connectivity.
func (c *PGCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *PGCatalog) LoadEvent(ctx context.Context, id string) (model.Event, error) {
	q := `SELECT public_id, preferred_origin_id, COALESCE(preferred_magnitude_id, '')
		FROM events WHERE public_id = $1`
	var ev model.Event
	err := c.db.QueryRowContext(ctx, q, id).Scan(&ev.ID, &ev.PreferredOriginID, &ev.PreferredMagnitudeID)
	if err == sql.ErrNoRows {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("catalog: load event %s: %w", id, err)
	}
	return ev, nil
}

func (c *PGCatalog) LoadOrigin(ctx context.Context, id string, withArrivals bool) (model.Origin, error) {
	q := `SELECT public_id, origin_time, latitude, longitude,
			depth_km, depth_fixed, depth_uncertainty_km,
			COALESCE(evaluation_mode, ''), COALESCE(author, ''), COALESCE(agency_id, ''),
			standard_error, created_at
		FROM origins WHERE public_id = $1`
	var o model.Origin
	var mode string
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.Time, &o.Latitude, &o.Longitude,
		&o.Depth.ValueKm, &o.Depth.Fixed, &o.Depth.UncertaintyKm,
		&mode, &o.Author, &o.AgencyID,
		&o.StandardError, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Origin{}, ErrNotFound
	}
	if err != nil {
		return model.Origin{}, fmt.Errorf("catalog: load origin %s: %w", id, err)
	}
	o.Mode = model.EvaluationMode(mode)
	if !withArrivals {
		return o, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT pick_id, COALESCE(phase, 'P'), time_used, weight,
			COALESCE(time_residual, 0), COALESCE(distance, 0), COALESCE(azimuth, 0)
		FROM arrivals WHERE origin_id = $1 ORDER BY pick_id`, id)
	if err != nil {
		return model.Origin{}, fmt.Errorf("catalog: load arrivals of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Arrival
		if err := rows.Scan(&a.PickID, &a.Phase, &a.Used, &a.Weight,
			&a.ResidualSec, &a.DistanceDeg, &a.AzimuthDeg); err != nil {
			return model.Origin{}, fmt.Errorf("catalog: scan arrival: %w", err)
		}
		o.Arrivals = append(o.Arrivals, a)
	}
	return o, rows.Err()
}

const pickColumns = `public_id, network_code, station_code, location_code, channel_code,
		pick_time, COALESCE(phase_hint, ''), COALESCE(evaluation_mode, ''),
		COALESCE(author, ''), COALESCE(agency_id, ''), COALESCE(method_id, ''),
		predicted, confidence, created_at`

func (c *PGCatalog) PicksForOrigin(ctx context.Context, originID string) ([]model.Pick, error) {
	q := `SELECT ` + pickColumns + `
		FROM picks WHERE public_id IN (SELECT pick_id FROM arrivals WHERE origin_id = $1)
		ORDER BY pick_time`
	rows, err := c.db.QueryContext(ctx, q, originID)
	if err != nil {
		return nil, fmt.Errorf("catalog: picks for origin %s: %w", originID, err)
	}
	defer rows.Close()
	return scanPicks(rows)
}

func (c *PGCatalog) PicksForTimeRange(ctx context.Context, t0, t1 time.Time) ([]model.Pick, error) {
	q := `SELECT ` + pickColumns + `
		FROM picks WHERE pick_time >= $1 AND pick_time < $2 ORDER BY pick_time`
	rows, err := c.db.QueryContext(ctx, q, t0, t1)
	if err != nil {
		return nil, fmt.Errorf("catalog: picks for range: %w", err)
	}
	defer rows.Close()
	return scanPicks(rows)
}

func scanPicks(rows *sql.Rows) ([]model.Pick, error) {
	var picks []model.Pick
	for rows.Next() {
		var p model.Pick
		var mode string
		if err := rows.Scan(&p.ID,
			&p.Stream.Network, &p.Stream.Station, &p.Stream.Location, &p.Stream.Channel,
			&p.Time, &p.PhaseHint, &mode, &p.Author, &p.AgencyID, &p.MethodID,
			&p.Predicted, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan pick: %w", err)
		}
		p.Mode = model.EvaluationMode(mode)
		picks = append(picks, p)
	}
	return picks, rows.Err()
}

// PublishPicks inserts the batch inside one transaction. Either every
// pick is created or none is, so a retried result cannot leave the
// catalog partially populated.
func (c *PGCatalog) PublishPicks(ctx context.Context, picks []model.Pick) error {
	if len(picks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin publish: %w", err)
	}
	defer tx.Rollback()

	q := `INSERT INTO picks
			(public_id, network_code, station_code, location_code, channel_code,
			 pick_time, phase_hint, evaluation_mode, author, agency_id, method_id,
			 predicted, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (public_id) DO NOTHING`
	for _, p := range picks {
		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, q, p.ID,
			p.Stream.Network, p.Stream.Station, p.Stream.Location, p.Stream.Channel,
			p.Time, p.PhaseHint, string(p.Mode), p.Author, p.AgencyID, p.MethodID,
			p.Predicted, p.Confidence, created)
		if err != nil {
			return fmt.Errorf("catalog: insert pick %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit publish: %w", err)
	}
	return nil
}

// PublishOrigin inserts an origin with its arrivals and an origin
// reference on the event, in one transaction.
func (c *PGCatalog) PublishOrigin(ctx context.Context, eventID string, o model.Origin) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin publish origin: %w", err)
	}
	defer tx.Rollback()

	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO origins
			(public_id, origin_time, latitude, longitude,
			 depth_km, depth_fixed, depth_uncertainty_km, depth_type,
			 evaluation_mode, author, agency_id, standard_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.Time, o.Latitude, o.Longitude,
		o.Depth.ValueKm, o.Depth.Fixed, o.Depth.UncertaintyKm, string(o.DepthType),
		string(o.Mode), o.Author, o.AgencyID, o.StandardError, created)
	if err != nil {
		return fmt.Errorf("catalog: insert origin %s: %w", o.ID, err)
	}
	for _, a := range o.Arrivals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO arrivals
				(origin_id, pick_id, phase, time_used, weight, time_residual, distance, azimuth)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, a.PickID, a.Phase, a.Used, a.Weight, a.ResidualSec, a.DistanceDeg, a.AzimuthDeg)
		if err != nil {
			return fmt.Errorf("catalog: insert arrival %s: %w", a.PickID, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO origin_references (event_id, origin_id) VALUES ($1, $2)`,
		eventID, o.ID)
	if err != nil {
		return fmt.Errorf("catalog: reference origin %s: %w", o.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit publish origin: %w", err)
	}
	return nil
}
