package relocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seisworks/dlrepick/internal/catalog"
	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/geo"
	"github.com/seisworks/dlrepick/internal/inventory"
	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/traveltime"
)

// Region is a lat/lon box with a forced hypocenter depth, used for
// areas where free-depth solutions are known to be unstable.
type Region struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	DepthKm        float64
}

// ParseRegions decodes "minLat:maxLat:minLon:maxLon:depthKm" entries.
func ParseRegions(entries []string) ([]Region, error) {
	var out []Region
	for _, s := range entries {
		parts := strings.Split(s, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("relocation: malformed region %q", s)
		}
		vals := make([]float64, 5)
		for i, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("relocation: malformed region %q: %w", s, err)
			}
			vals[i] = v
		}
		out = append(out, Region{
			MinLat: vals[0], MaxLat: vals[1],
			MinLon: vals[2], MaxLon: vals[3],
			DepthKm: vals[4],
		})
	}
	return out, nil
}

func fixedDepthFor(regions []Region, lat, lon float64) (float64, bool) {
	for _, r := range regions {
		if lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon {
			return r.DepthKm, true
		}
	}
	return 0, false
}

// Service is the online relocator: it reacts to origin notifications,
// assembles the refined pick set of each event, runs the engine and
// publishes accepted solutions back to the catalog.
type Service struct {
	common  *config.Common
	cfg     *config.Relocation
	catalog catalog.Catalog
	inv     inventory.Inventory
	tt      traveltime.Table
	engine  *Engine
	gate    Gate
	logger  *log.Logger
	regions []Region
	authors map[string]bool

	mu      sync.Mutex
	pending map[string]bool
	last    map[string]model.Origin
}

// NewService wires the relocator service.
func NewService(common *config.Common, cfg *config.Relocation, cat catalog.Catalog,
	inv inventory.Inventory, tt traveltime.Table, engine *Engine, logger *log.Logger) (*Service, error) {

	regions, err := ParseRegions(cfg.FixedDepthRegions)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]bool, len(cfg.PickAuthors))
	for _, a := range cfg.PickAuthors {
		authors[a] = true
	}
	return &Service{
		common:  common,
		cfg:     cfg,
		catalog: cat,
		inv:     inv,
		tt:      tt,
		engine:  engine,
		gate:    Gate{CountExponent: cfg.CountExponent},
		logger:  logger,
		regions: regions,
		authors: authors,
		pending: make(map[string]bool),
		last:    make(map[string]model.Origin),
	}, nil
}

// Notify queues an event for relocation on the next tick.
func (s *Service) Notify(eventID string) {
	s.mu.Lock()
	s.pending[eventID] = true
	s.mu.Unlock()
}

// Run drives the poll loop until the context is cancelled. Events not
// yet past the settling delay stay queued.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.common.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, eventID := range s.takePending() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			requeue, err := s.Process(ctx, eventID)
			if err != nil {
				s.logger.Printf("WARN event %s: %v", eventID, err)
			}
			if requeue {
				s.Notify(eventID)
			}
		}
	}
}

func (s *Service) takePending() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pending = make(map[string]bool)
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Process runs one relocation attempt for an event. requeue is true
// when the event is not ready yet and should be retried later.
func (s *Service) Process(ctx context.Context, eventID string) (requeue bool, err error) {
	ev, err := s.catalog.LoadEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	origin, err := s.catalog.LoadOrigin(ctx, ev.PreferredOriginID, true)
	if err != nil {
		return false, err
	}

	if origin.Author == s.common.Author {
		return false, nil
	}
	if time.Since(origin.Time) < s.cfg.MinDelay {
		return true, nil
	}

	picks, arrivals, err := s.assembleArrivals(ctx, origin)
	if err != nil {
		return false, err
	}
	if len(arrivals) < s.cfg.MinArrivals {
		s.logger.Printf("event %s: only %d refined picks, skipping", eventID, len(arrivals))
		return false, nil
	}

	candidate := origin.Clone()
	candidate.Arrivals = arrivals
	if depth, ok := fixedDepthFor(s.regions, origin.Latitude, origin.Longitude); ok {
		candidate.Depth = model.Depth{ValueKm: depth, Fixed: true}
	}

	relocated, err := s.engine.Relocate(ctx, eventID, candidate, picks)
	if err != nil {
		if errors.Is(err, ErrTooFewArrivals) {
			s.logger.Printf("event %s: %v", eventID, err)
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	previous := s.last[eventID]
	s.mu.Unlock()

	if !s.gate.Accept(previous, relocated) {
		s.logger.Printf("event %s: candidate not an improvement, discarded", eventID)
		return false, nil
	}

	relocated.ID = "Origin/dl/" + uuid.NewString()
	relocated.Author = s.common.Author
	relocated.AgencyID = s.common.AgencyID
	relocated.CreatedAt = time.Now().UTC()

	if err := s.catalog.PublishOrigin(ctx, eventID, relocated); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.last[eventID] = relocated
	s.mu.Unlock()

	var azimuths []float64
	for _, a := range relocated.Arrivals {
		if a.Used && a.Weight > 0 {
			azimuths = append(azimuths, a.AzimuthDeg)
		}
	}
	s.logger.Printf("event %s: published %s with %d arrivals, secondary gap %.0f deg",
		eventID, relocated.ID, relocated.UsedArrivalCount(), geo.SumOfLargestGaps(azimuths))
	return false, nil
}

// assembleArrivals loads the refined picks plausibly belonging to the
// origin and binds them as arrivals. The time range spans the P travel
// time out to the distance cutoff; a pick is associated when its time
// is within the residual slack of the theoretical P arrival at its
// station.
func (s *Service) assembleArrivals(ctx context.Context, origin model.Origin) (map[string]model.Pick, []model.Arrival, error) {
	slack := 3 * s.cfg.MaxResidualSec

	maxPhases, err := s.tt.Compute(origin.Depth.ValueKm, s.cfg.MaxDeltaDeg)
	if err != nil {
		return nil, nil, fmt.Errorf("relocation: travel time at cutoff: %w", err)
	}
	if len(maxPhases) == 0 {
		return nil, nil, fmt.Errorf("relocation: no phases at %.0f deg cutoff", s.cfg.MaxDeltaDeg)
	}
	t0 := origin.Time.Add(-time.Duration(slack * float64(time.Second)))
	t1 := origin.Time.Add(maxPhases[0].TravelTime).
		Add(time.Duration(slack * float64(time.Second)))

	loaded, err := s.catalog.PicksForTimeRange(ctx, t0, t1)
	if err != nil {
		return nil, nil, err
	}

	coords := make(map[string]inventory.Station)
	for _, sta := range s.inv.StationsAt(origin.Time) {
		coords[sta.Network+"."+sta.Station] = sta
	}

	picks := make(map[string]model.Pick)
	var arrivals []model.Arrival
	for _, pk := range loaded {
		if !s.authors[pk.Author] && !pk.Manual() {
			continue
		}
		sta, ok := coords[pk.Stream.Site()]
		if !ok {
			s.logger.Printf("WARN no station metadata for %s, pick %s skipped", pk.Stream.Site(), pk.ID)
			continue
		}
		delta, az, _ := geo.Delazi(origin.Latitude, origin.Longitude, sta.Latitude, sta.Longitude)
		if delta > s.cfg.MaxDeltaDeg {
			continue
		}
		phases, err := s.tt.Compute(origin.Depth.ValueKm, delta)
		if err != nil || len(phases) == 0 {
			continue
		}
		residual := pk.Time.Sub(origin.Time.Add(phases[0].TravelTime)).Seconds()
		if math.Abs(residual) > slack {
			continue
		}
		weight := 1.0
		picks[pk.ID] = pk
		arrivals = append(arrivals, model.Arrival{
			PickID:      pk.ID,
			Phase:       "P",
			Used:        true,
			Weight:      weight,
			ResidualSec: residual,
			DistanceDeg: delta,
			AzimuthDeg:  az,
		})
	}
	return picks, arrivals, nil
}
