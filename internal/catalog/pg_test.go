package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/model"
)

func newMock(t *testing.T) (*PGCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGCatalog(db), mock
}

func TestLoadEventNotFound(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery("SELECT public_id, preferred_origin_id").
		WithArgs("gfz2026abcd").
		WillReturnRows(sqlmock.NewRows([]string{"public_id", "preferred_origin_id", "preferred_magnitude_id"}))

	_, err := c.LoadEvent(context.Background(), "gfz2026abcd")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOriginWithArrivals(t *testing.T) {
	c, mock := newMock(t)
	otime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT public_id, origin_time, latitude").
		WithArgs("Origin/1").
		WillReturnRows(sqlmock.NewRows([]string{
			"public_id", "origin_time", "latitude", "longitude",
			"depth_km", "depth_fixed", "depth_uncertainty_km",
			"evaluation_mode", "author", "agency_id",
			"standard_error", "created_at",
		}).AddRow("Origin/1", otime, -6.2, 130.1, 33.0, false, nil,
			"automatic", "scautoloc", "GFZ", 0.8, otime))

	mock.ExpectQuery("SELECT pick_id, COALESCE").
		WithArgs("Origin/1").
		WillReturnRows(sqlmock.NewRows([]string{
			"pick_id", "phase", "time_used", "weight", "time_residual", "distance", "azimuth",
		}).
			AddRow("p1", "P", true, 1.0, 0.3, 12.5, 40.0).
			AddRow("p2", "P", false, 0.0, 4.1, 80.0, 110.0))

	o, err := c.LoadOrigin(context.Background(), "Origin/1", true)
	require.NoError(t, err)
	assert.Equal(t, -6.2, o.Latitude)
	require.Len(t, o.Arrivals, 2)
	assert.Equal(t, 1, o.UsedArrivalCount())
	require.NotNil(t, o.StandardError)
	assert.Equal(t, 0.8, *o.StandardError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishPicksAtomic(t *testing.T) {
	c, mock := newMock(t)
	picks := []model.Pick{
		{
			ID:     "p1/repick",
			Stream: model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"},
			Time:   time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC),
			Mode:   model.ModeAutomatic, Author: "dlpicker", AgencyID: "GFZ",
			MethodID: "DL", Confidence: model.Float64Ptr(0.9),
		},
		{
			ID:     "p2/repick",
			Stream: model.StreamID{Network: "GE", Station: "UGM", Channel: "BHZ"},
			Time:   time.Date(2026, 3, 1, 12, 0, 9, 0, time.UTC),
			Mode:   model.ModeAutomatic, Author: "dlpicker", AgencyID: "GFZ",
			MethodID: "DL", Confidence: model.Float64Ptr(0.7),
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO picks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO picks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, c.PublishPicks(context.Background(), picks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishPicksRollsBackOnFailure(t *testing.T) {
	c, mock := newMock(t)
	picks := []model.Pick{
		{ID: "p1/repick", Stream: model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"}},
		{ID: "p2/repick", Stream: model.StreamID{Network: "GE", Station: "UGM", Channel: "BHZ"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO picks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO picks").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := c.PublishPicks(context.Background(), picks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p2/repick")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOrigin(t *testing.T) {
	c, mock := newMock(t)
	o := model.Origin{
		ID:       "Origin/dl/1",
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Latitude: -6.2, Longitude: 130.1,
		Depth:     model.Depth{ValueKm: 33.0},
		DepthType: model.DepthFromLocation,
		Mode:      model.ModeAutomatic, Author: "dl-reloc", AgencyID: "GFZ",
		Arrivals: []model.Arrival{
			{PickID: "p1", Phase: "P", Used: true, Weight: 1.0, ResidualSec: 0.2, DistanceDeg: 10, AzimuthDeg: 45},
		},
		StandardError: model.Float64Ptr(0.5),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO origins").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO arrivals").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO origin_references").
		WithArgs("gfz2026abcd", "Origin/dl/1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, c.PublishOrigin(context.Background(), "gfz2026abcd", o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPicksForTimeRange(t *testing.T) {
	c, mock := newMock(t)
	t0 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	t1 := t0.Add(2 * time.Hour)

	mock.ExpectQuery("FROM picks WHERE pick_time").
		WithArgs(t0, t1).
		WillReturnRows(sqlmock.NewRows([]string{
			"public_id", "network_code", "station_code", "location_code", "channel_code",
			"pick_time", "phase_hint", "evaluation_mode", "author", "agency_id", "method_id",
			"predicted", "confidence", "created_at",
		}).AddRow("p1", "GE", "APE", "", "BHZ",
			t0.Add(time.Hour), "P", "automatic", "dlpicker", "GFZ", "DL",
			false, 0.9, t0.Add(time.Hour)))

	picks, err := c.PicksForTimeRange(context.Background(), t0, t1)
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, "GE.APE..BHZ", picks[0].Stream.String())
	require.NotNil(t, picks[0].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}
