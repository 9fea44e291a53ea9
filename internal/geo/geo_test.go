package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seisworks/dlrepick/internal/geo"
)

func TestSumOfLargestGapsSingleAzimuth(t *testing.T) {
	assert.Equal(t, 360.0, geo.SumOfLargestGaps([]float64{1.0}))
}

func TestSumOfLargestGapsTwoClusters(t *testing.T) {
	azimuths := []float64{10, 11, 12, 13, 170, 171, 172, 173, 174, 175, 176, 177}
	assert.Equal(t, 350.0, geo.SumOfLargestGaps(azimuths))

	azimuths = append(azimuths, 63)
	assert.Equal(t, 300.0, geo.SumOfLargestGaps(azimuths))
}

func TestSumOfLargestGapsEmpty(t *testing.T) {
	assert.Equal(t, 360.0, geo.SumOfLargestGaps(nil))
}

func TestDelaziEquator(t *testing.T) {
	delta, az, baz := geo.Delazi(0, 0, 0, 90)
	assert.InDelta(t, 90, delta, 1e-9)
	assert.InDelta(t, 90, az, 1e-9)
	assert.InDelta(t, 270, baz, 1e-9)
}

func TestDelaziPole(t *testing.T) {
	delta, az, _ := geo.Delazi(0, 0, 90, 0)
	assert.InDelta(t, 90, delta, 1e-9)
	assert.InDelta(t, 0, az, 1e-9)
}

func TestDelaziSymmetric(t *testing.T) {
	d1, _, _ := geo.Delazi(52.5, 13.4, -33.4, -70.7)
	d2, _, _ := geo.Delazi(-33.4, -70.7, 52.5, 13.4)
	assert.InDelta(t, d1, d2, 1e-9)
	assert.Greater(t, d1, 100.0)
	assert.Less(t, d1, 130.0)
}
