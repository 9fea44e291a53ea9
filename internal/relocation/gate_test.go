package relocation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/model"
)

func originWithPicks(n int, rms float64, prefix string) model.Origin {
	o := model.Origin{StandardError: model.Float64Ptr(rms)}
	for i := 0; i < n; i++ {
		o.Arrivals = append(o.Arrivals, model.Arrival{
			PickID: fmt.Sprintf("%s%d", prefix, i),
			Used:   true, Weight: 1,
		})
	}
	return o
}

func TestGateAcceptsMoreConstrainedLowerRMS(t *testing.T) {
	g := Gate{CountExponent: 2}

	previous := originWithPicks(10, 1.0, "p")
	candidate := originWithPicks(10, 0.8, "p")
	for i := 0; i < 5; i++ {
		candidate.Arrivals = append(candidate.Arrivals, model.Arrival{
			PickID: fmt.Sprintf("new%d", i), Used: true, Weight: 1,
		})
	}

	score, always := g.Score(previous, candidate)
	require.False(t, always)
	assert.InDelta(t, 2.8125, score, 1e-9)
	assert.True(t, g.Accept(previous, candidate))
}

func TestGateAlwaysAcceptsOverUnconstrainedPrevious(t *testing.T) {
	g := Gate{CountExponent: 2}

	previous := model.Origin{StandardError: model.Float64Ptr(0.1)}
	candidate := originWithPicks(1, 5.0, "c")
	assert.True(t, g.Accept(previous, candidate))

	// unused or weightless arrivals do not qualify
	previous.Arrivals = []model.Arrival{
		{PickID: "x", Used: false, Weight: 1},
		{PickID: "y", Used: true, Weight: 0},
	}
	assert.True(t, g.Accept(previous, candidate))
}

func TestGateRejectsFewerPicksSameRMS(t *testing.T) {
	g := Gate{CountExponent: 2}
	previous := originWithPicks(10, 1.0, "p")
	candidate := originWithPicks(9, 1.0, "p")
	assert.False(t, g.Accept(previous, candidate))
}

func TestGateRMSFallbacks(t *testing.T) {
	g := Gate{CountExponent: 2}

	// previous without RMS defaults pessimistically and loses to an
	// equally constrained candidate with a real RMS
	previous := originWithPicks(10, 0, "p")
	previous.StandardError = nil
	candidate := originWithPicks(10, 2.0, "p")
	score, always := g.Score(previous, candidate)
	require.False(t, always)
	assert.InDelta(t, 5.0, score, 1e-9)

	// candidate without RMS defaults to the plausible located value
	previous = originWithPicks(10, 2.0, "p")
	candidate = originWithPicks(10, 0, "p")
	candidate.StandardError = nil
	score, _ = g.Score(previous, candidate)
	assert.InDelta(t, 2.0, score, 1e-9)
}
