// Package picker implements the ingestion side of the pipeline: it
// turns catalog notifications into work items, associating each event's
// picks and synthesizing predictions at unpicked stations.
package picker

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/seisworks/dlrepick/internal/catalog"
	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/geo"
	"github.com/seisworks/dlrepick/internal/inventory"
	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/traveltime"
	"github.com/seisworks/dlrepick/internal/waveform"
	"github.com/seisworks/dlrepick/internal/workspace"
)

// wideRadiusDeg is the continental-to-global search radius applied to
// trusted empty-origin sources and whenever the derived radius widens
// past meanWideningDeg.
const (
	wideRadiusDeg   = 100.0
	meanWideningDeg = 40.0
	farthestCount   = 3
)

// Pipeline consumes event notifications and publishes work items.
type Pipeline struct {
	common  *config.Common
	cfg     *config.Picking
	catalog catalog.Catalog
	inv     inventory.Inventory
	tt      traveltime.Table
	source  waveform.Source
	archive *waveform.FSArchive
	spaces  *workspace.Map
	queue   spool.Queue
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]bool

	blacklist map[string]bool
	ignored   map[string]bool
	ignoredAg map[string]bool
	trusted   map[string]bool
}

// New wires the ingestion pipeline.
func New(common *config.Common, cfg *config.Picking, cat catalog.Catalog,
	inv inventory.Inventory, tt traveltime.Table, src waveform.Source,
	archive *waveform.FSArchive, spaces *workspace.Map, queue spool.Queue,
	logger *log.Logger) *Pipeline {

	return &Pipeline{
		common:    common,
		cfg:       cfg,
		catalog:   cat,
		inv:       inv,
		tt:        tt,
		source:    src,
		archive:   archive,
		spaces:    spaces,
		queue:     queue,
		logger:    logger,
		pending:   make(map[string]bool),
		blacklist: toSet(cfg.StationBlacklist),
		ignored:   toSet(cfg.IgnoredAuthors),
		ignoredAg: toSet(cfg.IgnoredAgencyIDs),
		trusted:   toSet(cfg.EmptyOriginAgencyIDs),
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Notify queues an event for processing on the next tick. Safe to call
// from a notification listener while Run is looping.
func (p *Pipeline) Notify(eventID string) {
	p.mu.Lock()
	p.pending[eventID] = true
	p.mu.Unlock()
}

// Run drives the poll loop until the context is cancelled. Events
// queued within one tick are processed in event-ID order, so each event
// sees at most one work-item construction per tick.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.common.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, eventID := range p.takePending() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.ProcessEvent(ctx, eventID); err != nil {
				p.logger.Printf("WARN event %s: %v", eventID, err)
			}
		}
		if n := p.spaces.Evict(time.Now().Add(-p.cfg.StalenessWindow)); n > 0 {
			p.logger.Printf("evicted %d stale workspaces", n)
		}
	}
}

func (p *Pipeline) takePending() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.pending = make(map[string]bool)
	p.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ProcessEvent runs one ingestion cycle for an event: load its state
// from the catalog, decide which picks are new, synthesize predictions
// and publish a work item. Transient per-pick failures degrade to
// skipping the affected picks.
func (p *Pipeline) ProcessEvent(ctx context.Context, eventID string) error {
	ev, err := p.catalog.LoadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	origin, err := p.catalog.LoadOrigin(ctx, ev.PreferredOriginID, true)
	if err != nil {
		return err
	}

	ws, err := p.spaces.Get(eventID)
	if err != nil {
		return err
	}
	if prevOriginID, _ := ws.Origin(); prevOriginID == origin.ID {
		return nil
	}

	picks, err := p.catalog.PicksForOrigin(ctx, origin.ID)
	if err != nil {
		return err
	}

	var fresh []model.Pick
	for _, pk := range picks {
		ws.Add(pk)
		if p.eligible(ws, pk) {
			fresh = append(fresh, pk)
		}
	}

	if p.cfg.TryUnpickedStations {
		fresh = append(fresh, p.predict(origin, picks, ws)...)
	}

	fresh = p.acquireWaveforms(ctx, eventID, origin, fresh)

	ws.SetOrigin(origin.ID, origin.Time)

	if len(fresh) == 0 {
		return nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })

	if err := p.spaces.MarkAttempted(ws, fresh...); err != nil {
		return err
	}
	item := model.WorkItem{
		EventID:   eventID,
		CreatedAt: time.Now().UTC(),
		Picks:     fresh,
	}
	token, err := spool.PublishWorkItem(ctx, p.queue, item)
	if err != nil {
		return err
	}
	p.logger.Printf("event %s: published %d picks as %s", eventID, len(fresh), token)
	return nil
}

// eligible applies the per-pick admission rules: provenance filters to
// avoid feedback loops, the manual-pick policy, the station blacklist
// and the attempted-stream suppression.
func (p *Pipeline) eligible(ws *workspace.Workspace, pk model.Pick) bool {
	if p.ignored[pk.Author] || p.ignoredAg[pk.AgencyID] {
		return false
	}
	if pk.Refined() {
		return false
	}
	if pk.Manual() && !p.cfg.RepickManualPicks {
		return false
	}
	if p.blacklist[pk.Stream.Site()] {
		return false
	}
	if ws.Attempted(pk.ID) || ws.AttemptedStream(pk.Stream) {
		return false
	}
	return true
}

// searchRadius derives the maximum epicentral distance within which
// predictions are synthesized. Trusted empty-origin sources get the
// full wide radius; otherwise it is the mean distance of the farthest
// used arrivals, widened once that mean exceeds the continental range.
func (p *Pipeline) searchRadius(origin model.Origin) float64 {
	if len(origin.Arrivals) == 0 {
		if p.trusted[origin.AgencyID] {
			return wideRadiusDeg
		}
		return 0
	}
	var dists []float64
	for _, a := range origin.Arrivals {
		if a.Used && a.Weight > 0 {
			dists = append(dists, a.DistanceDeg)
		}
	}
	if len(dists) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(dists)))
	n := farthestCount
	if len(dists) < n {
		n = len(dists)
	}
	mean := 0.0
	for _, d := range dists[:n] {
		mean += d
	}
	mean /= float64(n)
	if mean > meanWideningDeg {
		return wideRadiusDeg
	}
	return mean
}

// predict synthesizes picks at the theoretical P arrival for stations
// within the search radius that have no measured pick yet. Identity is
// derived from arrival time and stream codes, so repeated synthesis
// for the same origin cannot create duplicates.
func (p *Pipeline) predict(origin model.Origin, picks []model.Pick, ws *workspace.Workspace) []model.Pick {
	maxDelta := p.searchRadius(origin)
	if maxDelta <= 0 {
		return nil
	}

	picked := make(map[string]bool)
	for _, pk := range picks {
		picked[pk.Stream.Site()] = true
	}

	var out []model.Pick
	for _, sta := range p.inv.StationsAt(origin.Time) {
		site := sta.Network + "." + sta.Station
		if picked[site] || p.blacklist[site] {
			continue
		}
		delta, _, _ := geo.Delazi(origin.Latitude, origin.Longitude, sta.Latitude, sta.Longitude)
		if delta > maxDelta {
			continue
		}
		stream, ok := verticalStream(sta)
		if !ok {
			continue
		}
		if ws.AttemptedStream(stream) {
			continue
		}
		phases, err := p.tt.Compute(origin.Depth.ValueKm, delta)
		if err != nil || len(phases) == 0 {
			p.logger.Printf("WARN no travel time for %s at %.1f deg", site, delta)
			continue
		}
		at := origin.Time.Add(phases[0].TravelTime)
		out = append(out, model.Pick{
			ID:        model.PredictedPickID(at, stream),
			Stream:    stream,
			Time:      at,
			PhaseHint: "P",
			Mode:      model.ModeAutomatic,
			Author:    p.common.Author,
			AgencyID:  p.common.AgencyID,
			Predicted: true,
			CreatedAt: time.Now().UTC(),
		})
		picked[site] = true
	}
	return out
}

// verticalStream selects the station's first stream carrying a vertical
// component and returns its full Z channel ID.
func verticalStream(sta inventory.Station) (model.StreamID, bool) {
	for _, str := range sta.Streams {
		for _, comp := range str.Components {
			if comp == "Z" {
				return model.StreamID{
					Network:  sta.Network,
					Station:  sta.Station,
					Location: str.Location,
					Channel:  str.Band + "Z",
				}, true
			}
		}
	}
	return model.StreamID{}, false
}

// acquireWaveforms fetches and archives the pre/post window around each
// pick. A pick whose vertical component yields no data is dropped from
// the work item; failures never abort the whole cycle.
func (p *Pipeline) acquireWaveforms(ctx context.Context, eventID string, origin model.Origin, picks []model.Pick) []model.Pick {
	if len(picks) == 0 || p.source == nil {
		return picks
	}

	components := inventory.Components(p.inv, origin.Time, p.blacklist)

	var reqs []waveform.Request
	for _, pk := range picks {
		band := pk.Stream.Band()
		comps := components[band]
		if len(comps) == 0 {
			comps = []string{"Z", "N", "E"}
		}
		for _, c := range comps {
			s := band
			s.Channel = band.Channel + c
			reqs = append(reqs, waveform.Request{
				Stream: s,
				Start:  pk.Time.Add(-p.cfg.BeforeP),
				End:    pk.Time.Add(p.cfg.AfterP),
			})
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.StreamTimeout)
	defer cancel()
	got, err := p.source.Fetch(fetchCtx, reqs)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		p.logger.Printf("WARN waveform fetch: %v", err)
	}

	for _, recs := range got {
		if len(recs) == 0 {
			continue
		}
		if err := p.archive.Save(eventID, recs); err != nil {
			p.logger.Printf("WARN archive %s: %v", recs[0].Stream, err)
		}
	}

	var kept []model.Pick
	for _, pk := range picks {
		band := pk.Stream.Band()
		z := band
		z.Channel = band.Channel + "Z"
		if len(got[z.String()]) == 0 {
			p.logger.Printf("WARN no waveform for %s, skipping pick %s", z, pk.ID)
			continue
		}
		kept = append(kept, pk)
	}
	return kept
}
