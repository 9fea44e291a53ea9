package traveltime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/traveltime"
)

func TestComputeMonotonicWithDistance(t *testing.T) {
	tt := traveltime.NewStandardTable()

	prev := time.Duration(0)
	for _, d := range []float64{0, 10, 30, 60, 90} {
		phases, err := tt.Compute(0, d)
		require.NoError(t, err)
		require.Len(t, phases, 1)
		assert.Equal(t, "P", phases[0].Code)
		assert.GreaterOrEqual(t, phases[0].TravelTime, prev)
		prev = phases[0].TravelTime
	}
}

func TestComputeDepthCorrection(t *testing.T) {
	tt := traveltime.NewStandardTable()
	shallow, err := tt.Compute(0, 50)
	require.NoError(t, err)
	deep, err := tt.Compute(100, 50)
	require.NoError(t, err)
	assert.Less(t, deep[0].TravelTime, shallow[0].TravelTime)
}

func TestComputeRejectsOutOfRange(t *testing.T) {
	tt := traveltime.NewStandardTable()
	_, err := tt.Compute(0, -1)
	assert.Error(t, err)
	_, err = tt.Compute(0, 181)
	assert.Error(t, err)
}
