// Package traveltime exposes the travel-time table used to predict
// theoretical phase arrivals. The numerical tables themselves are an
// external concern; this package defines the contract and ships a
// coarse interpolated P table good enough for candidate prediction.
package traveltime

import (
	"fmt"
	"math"
	"time"
)

// Phase is one predicted phase arrival for a depth/distance pair.
type Phase struct {
	Code       string
	TravelTime time.Duration
}

// Table computes candidate phase arrivals ordered by travel time. The
// first entry is used as the P-phase prediction.
type Table interface {
	Compute(depthKm, deltaDeg float64) ([]Phase, error)
}

// pTravelSec holds first-arrival P travel times in seconds for a
// surface focus, sampled every 10 degrees of epicentral distance.
var pTravelSec = []float64{
	0, 145, 273, 372, 458, 534, 602, 660, 711, 754, 790,
}

// depthCorrSecPerKm approximates how much earlier the first arrival
// comes per kilometre of source depth.
const depthCorrSecPerKm = 0.12

// StandardTable is a linear interpolation over the built-in P curve.
// It serves prediction of candidate picks; precise residual work is
// delegated to the external locator.
type StandardTable struct{}

// NewStandardTable returns the built-in P-phase table.
func NewStandardTable() *StandardTable { return &StandardTable{} }

func (t *StandardTable) Compute(depthKm, deltaDeg float64) ([]Phase, error) {
	if deltaDeg < 0 || deltaDeg > 180 {
		return nil, fmt.Errorf("traveltime: distance %.2f out of range", deltaDeg)
	}
	step := deltaDeg / 10
	i := int(math.Floor(step))
	if i >= len(pTravelSec)-1 {
		i = len(pTravelSec) - 2
	}
	frac := step - float64(i)
	sec := pTravelSec[i] + frac*(pTravelSec[i+1]-pTravelSec[i])
	sec -= depthKm * depthCorrSecPerKm
	if sec < 0 {
		sec = 0
	}
	return []Phase{{Code: "P", TravelTime: time.Duration(sec * float64(time.Second))}}, nil
}
