package picker

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/inventory"
	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/traveltime"
	"github.com/seisworks/dlrepick/internal/workspace"
)

type fakeCatalog struct {
	event  model.Event
	origin model.Origin
	picks  []model.Pick
}

func (f *fakeCatalog) LoadEvent(ctx context.Context, id string) (model.Event, error) {
	return f.event, nil
}
func (f *fakeCatalog) LoadOrigin(ctx context.Context, id string, withArrivals bool) (model.Origin, error) {
	return f.origin, nil
}
func (f *fakeCatalog) PicksForOrigin(ctx context.Context, originID string) ([]model.Pick, error) {
	return f.picks, nil
}
func (f *fakeCatalog) PicksForTimeRange(ctx context.Context, t0, t1 time.Time) ([]model.Pick, error) {
	return f.picks, nil
}
func (f *fakeCatalog) PublishPicks(ctx context.Context, picks []model.Pick) error        { return nil }
func (f *fakeCatalog) PublishOrigin(ctx context.Context, id string, o model.Origin) error { return nil }
func (f *fakeCatalog) Ping(ctx context.Context) error                                     { return nil }

type captureQueue struct {
	items []spool.Item
}

func (q *captureQueue) Publish(ctx context.Context, eventID string, payload []byte) (string, error) {
	token := fmt.Sprintf("tok-%d", len(q.items))
	q.items = append(q.items, spool.Item{Token: token, EventID: eventID, Payload: payload})
	return token, nil
}
func (q *captureQueue) PollPending(ctx context.Context, max int) ([]spool.Item, error) {
	return q.items, nil
}
func (q *captureQueue) Ack(ctx context.Context, token string) error { return nil }

func testStations(n int) []inventory.Station {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []inventory.Station
	for i := 0; i < n; i++ {
		out = append(out, inventory.Station{
			Network: "GE", Station: fmt.Sprintf("ST%02d", i),
			Latitude: float64(i), Longitude: float64(10 + i),
			Start: start,
			Streams: []inventory.Stream{
				{Band: "BH", Components: []string{"Z", "N", "E"}, Start: start},
			},
		})
	}
	return out
}

func newTestPipeline(cat *fakeCatalog, stations []inventory.Station, q *captureQueue) *Pipeline {
	common := config.LoadCommon()
	cfg := config.LoadPicking()
	logger := log.New(os.Stdout, "[test] ", 0)
	return New(common, cfg, cat, inventory.NewStatic(stations), traveltime.NewStandardTable(),
		nil, nil, workspace.NewMap(nil), q, logger)
}

func TestEmptyOriginTrustedAgencyPredictsAllStations(t *testing.T) {
	otime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{
		event: model.Event{ID: "ev1", PreferredOriginID: "o1"},
		origin: model.Origin{
			ID: "o1", Time: otime, Latitude: 0, Longitude: 10,
			Depth: model.Depth{ValueKm: 10}, AgencyID: "EMSC",
		},
	}
	q := &captureQueue{}
	p := newTestPipeline(cat, testStations(5), q)

	require.NoError(t, p.ProcessEvent(context.Background(), "ev1"))
	require.Len(t, q.items, 1)

	item, err := spool.DecodeWorkItem(q.items[0])
	require.NoError(t, err)
	require.Len(t, item.Picks, 5)

	seen := make(map[string]bool)
	for _, pk := range item.Picks {
		assert.True(t, pk.Predicted)
		assert.Equal(t, "P", pk.PhaseHint)
		assert.Equal(t, model.PredictedPickID(pk.Time, pk.Stream), pk.ID)
		assert.False(t, seen[pk.ID])
		seen[pk.ID] = true
	}
}

func TestEmptyOriginUntrustedAgencyPredictsNothing(t *testing.T) {
	cat := &fakeCatalog{
		event: model.Event{ID: "ev1", PreferredOriginID: "o1"},
		origin: model.Origin{
			ID: "o1", Time: time.Now().UTC(), AgencyID: "XX",
		},
	}
	q := &captureQueue{}
	p := newTestPipeline(cat, testStations(5), q)

	require.NoError(t, p.ProcessEvent(context.Background(), "ev1"))
	assert.Empty(t, q.items)
}

func TestSearchRadiusDerivation(t *testing.T) {
	p := newTestPipeline(&fakeCatalog{}, nil, &captureQueue{})

	used := func(d float64) model.Arrival {
		return model.Arrival{Used: true, Weight: 1, DistanceDeg: d}
	}

	// mean of the three farthest used arrivals
	o := model.Origin{Arrivals: []model.Arrival{used(10), used(20), used(30), used(40)}}
	assert.InDelta(t, 30.0, p.searchRadius(o), 1e-9)

	// widened once the mean exceeds the continental range
	o = model.Origin{Arrivals: []model.Arrival{used(50), used(60), used(70)}}
	assert.Equal(t, 100.0, p.searchRadius(o))

	// unused arrivals do not contribute
	o = model.Origin{Arrivals: []model.Arrival{{Used: false, DistanceDeg: 90}}}
	assert.Equal(t, 0.0, p.searchRadius(o))
}

func TestEligibleFilters(t *testing.T) {
	p := newTestPipeline(&fakeCatalog{}, nil, &captureQueue{})
	ws, err := workspace.NewMap(nil).Get("ev1")
	require.NoError(t, err)

	base := model.Pick{
		ID:     "p1",
		Stream: model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"},
		Time:   time.Now().UTC(),
	}
	assert.True(t, p.eligible(ws, base))

	own := base
	own.Author = "dlpicker"
	assert.False(t, p.eligible(ws, own))

	refined := base
	refined.ID = "p1/repick"
	assert.False(t, p.eligible(ws, refined))

	manual := base
	manual.Mode = model.ModeManual
	assert.False(t, p.eligible(ws, manual))

	ws.MarkAttempted(base)
	sameStream := base
	sameStream.ID = "p2"
	sameStream.Stream.Channel = "BHN"
	assert.False(t, p.eligible(ws, sameStream))
}

func TestUnchangedOriginSkipped(t *testing.T) {
	otime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{
		event: model.Event{ID: "ev1", PreferredOriginID: "o1"},
		origin: model.Origin{
			ID: "o1", Time: otime, Latitude: 0, Longitude: 10,
			Depth: model.Depth{ValueKm: 10}, AgencyID: "EMSC",
		},
	}
	q := &captureQueue{}
	p := newTestPipeline(cat, testStations(2), q)

	require.NoError(t, p.ProcessEvent(context.Background(), "ev1"))
	require.NoError(t, p.ProcessEvent(context.Background(), "ev1"))
	assert.Len(t, q.items, 1)
}
