// Package geo provides the spherical geometry helpers used for
// epicentral distances and station coverage.
package geo

import (
	"math"
	"sort"
)

const degToRad = math.Pi / 180

// Delazi computes the epicentral distance in degrees plus azimuth and
// back azimuth between two points on a sphere.
func Delazi(lat1, lon1, lat2, lon2 float64) (deltaDeg, azimuthDeg, backAzimuthDeg float64) {
	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dlon := (lon2 - lon1) * degToRad

	cosd := math.Sin(phi1)*math.Sin(phi2) + math.Cos(phi1)*math.Cos(phi2)*math.Cos(dlon)
	cosd = math.Max(-1, math.Min(1, cosd))
	deltaDeg = math.Acos(cosd) / degToRad

	azimuthDeg = bearing(phi1, phi2, dlon)
	backAzimuthDeg = bearing(phi2, phi1, -dlon)
	return deltaDeg, azimuthDeg, backAzimuthDeg
}

func bearing(phi1, phi2, dlon float64) float64 {
	y := math.Sin(dlon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dlon)
	az := math.Atan2(y, x) / degToRad
	if az < 0 {
		az += 360
	}
	return az
}

// SumOfLargestGaps returns the sum of the two largest gaps in the
// circular distribution of the given azimuths, in degrees. For a single
// azimuth the entire circle is one gap and 360 is returned. This is the
// secondary azimuthal gap measure used to judge location robustness.
func SumOfLargestGaps(azimuths []float64) float64 {
	if len(azimuths) == 0 {
		return 360
	}
	az := make([]float64, len(azimuths))
	copy(az, azimuths)
	sort.Float64s(az)

	gaps := make([]float64, 0, len(az))
	for i := 1; i < len(az); i++ {
		gaps = append(gaps, az[i]-az[i-1])
	}
	// wraparound gap from the last azimuth back to the first
	gaps = append(gaps, az[0]+360-az[len(az)-1])

	sort.Sort(sort.Reverse(sort.Float64Slice(gaps)))
	if len(gaps) == 1 {
		return gaps[0]
	}
	return gaps[0] + gaps[1]
}
