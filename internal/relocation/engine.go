package relocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/model"
)

// ErrTooFewArrivals marks a solution that converged on fewer used
// arrivals than the configured minimum. It is a quality rejection, not
// a locator error.
var ErrTooFewArrivals = errors.New("relocation: too few used arrivals")

// minUsedWeight is the floor below which an arrival does not count as
// constraining the solution. Manual picks above it are never trimmed.
const minUsedWeight = 0.1

// Engine is the iterative relocate-and-trim state machine.
type Engine struct {
	cfg      *config.Relocation
	locator  Locator
	archiver Archiver
	logger   *log.Logger
}

// NewEngine wires the relocation engine. archiver may be nil; with one
// attached, locator failures dump their full input for diagnosis.
func NewEngine(cfg *config.Relocation, locator Locator, archiver Archiver, logger *log.Logger) *Engine {
	return &Engine{cfg: cfg, locator: locator, archiver: archiver, logger: logger}
}

// Relocate runs the locate/trim loop until the arrival set is stable.
// picksByID supplies the provenance of each arrival's pick; manual
// picks carrying real weight are exempt from residual trimming. The
// loop is bounded; on hitting the bound the last located candidate is
// returned as stable.
func (e *Engine) Relocate(ctx context.Context, eventID string, origin model.Origin, picksByID map[string]model.Pick) (model.Origin, error) {
	working := origin.Clone()
	depthFloorTried := false
	var candidate model.Origin

	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		located, err := e.locate(ctx, eventID, working)
		if err != nil {
			return model.Origin{}, err
		}

		if !located.Depth.Fixed && located.Depth.ValueKm < e.cfg.MinDepthKm && !depthFloorTried {
			depthFloorTried = true
			e.locator.UseFixedDepth(true)
			e.locator.SetFixedDepth(e.cfg.MinDepthKm)
			retried, err := e.locate(ctx, eventID, working)
			e.locator.UseFixedDepth(false)
			if err != nil {
				return model.Origin{}, err
			}
			located = retried
		}
		candidate = located

		if !e.trim(&candidate, picksByID) {
			return e.finish(candidate)
		}
		working = candidate
	}

	e.logger.Printf("WARN event %s: trim loop hit iteration bound, keeping last candidate", eventID)
	return e.finish(candidate)
}

func (e *Engine) locate(ctx context.Context, eventID string, origin model.Origin) (model.Origin, error) {
	located, err := e.locator.Relocate(ctx, origin)
	if err != nil {
		if e.archiver != nil {
			if aerr := e.archiver.ArchiveFailure(ctx, eventID, origin, err); aerr != nil {
				e.logger.Printf("WARN event %s: archive failure state: %v", eventID, aerr)
			}
		}
		return model.Origin{}, fmt.Errorf("relocation: locator failed for %s: %w", eventID, err)
	}
	return located, nil
}

// trim applies one trimming pass and reports whether anything changed.
// Arrivals beyond the hard distance cutoff are dropped outright; of the
// remainder, the single worst residual above the threshold is dropped,
// manual picks excepted.
func (e *Engine) trim(candidate *model.Origin, picksByID map[string]model.Pick) bool {
	trimmed := false
	for i := range candidate.Arrivals {
		a := &candidate.Arrivals[i]
		if a.Used && a.Weight > 0 && a.DistanceDeg > e.cfg.MaxDeltaDeg {
			a.Used = false
			a.Weight = 0
			trimmed = true
		}
	}

	worst := -1
	worstAbs := 0.0
	for i, a := range candidate.Arrivals {
		if !a.Used || a.Weight <= 0 {
			continue
		}
		if pick, ok := picksByID[a.PickID]; ok && pick.Manual() && a.Weight > minUsedWeight {
			continue
		}
		if abs := math.Abs(a.ResidualSec); abs > worstAbs {
			worstAbs = abs
			worst = i
		}
	}
	if worst >= 0 && worstAbs > e.cfg.MaxResidualSec {
		candidate.Arrivals[worst].Used = false
		candidate.Arrivals[worst].Weight = 0
		trimmed = true
	}
	return trimmed
}

// finish applies the terminal quality check and depth provenance.
func (e *Engine) finish(candidate model.Origin) (model.Origin, error) {
	if candidate.UsedArrivalCount() < e.cfg.MinArrivals {
		return model.Origin{}, ErrTooFewArrivals
	}
	if candidate.Depth.UncertaintyKm != nil {
		candidate.DepthType = model.DepthFromLocation
	} else {
		candidate.DepthType = model.DepthOperatorAssigned
	}
	candidate.Mode = model.ModeAutomatic
	return candidate, nil
}
