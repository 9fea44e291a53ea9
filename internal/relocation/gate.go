package relocation

import (
	"math"

	"github.com/seisworks/dlrepick/internal/model"
)

// RMS fallbacks applied when an origin carries no standard error. The
// previous solution defaults pessimistically so an unassessed
// predecessor is easy to supersede; a candidate without RMS defaults to
// a plausible located value.
const (
	fallbackRMSPrevious  = 10.0
	fallbackRMSCandidate = 1.0
)

// Gate decides whether a candidate solution supersedes the previously
// published one for the same event.
type Gate struct {
	// CountExponent weights the arrival-count ratio of the score.
	CountExponent float64
}

// qualifying collects the pick IDs of arrivals that constrain the
// solution.
func qualifying(o model.Origin) map[string]bool {
	out := make(map[string]bool)
	for _, a := range o.Arrivals {
		if a.Used && a.Weight > minUsedWeight {
			out[a.PickID] = true
		}
	}
	return out
}

// Accept reports whether candidate improves on previous. A previous
// solution constrained by nothing is always superseded. Otherwise the
// score rewards more constraining picks and lower residual RMS, with
// the count term dominating for mid-range RMS ratios.
func (g Gate) Accept(previous, candidate model.Origin) bool {
	score, always := g.Score(previous, candidate)
	return always || score > 1
}

// Score computes the improvement score; always is true when previous
// has no qualifying picks and the comparison is moot.
func (g Gate) Score(previous, candidate model.Origin) (score float64, always bool) {
	prev := qualifying(previous)
	if len(prev) == 0 {
		return 0, true
	}
	cand := qualifying(candidate)

	rmsPrev := fallbackRMSPrevious
	if previous.StandardError != nil {
		rmsPrev = *previous.StandardError
	}
	rmsCand := fallbackRMSCandidate
	if candidate.StandardError != nil {
		rmsCand = *candidate.StandardError
	}

	countRatio := float64(len(cand)) / float64(len(prev))
	return math.Pow(countRatio, g.CountExponent) * (rmsPrev / rmsCand), false
}
