// Package geo computes great-circle distances between origin coordinates.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for every distance.
const EarthRadiusKm = 6371.0

// ErrInvalidInput is returned when a coordinate is NaN or infinite.
var ErrInvalidInput = errors.New("invalid coordinate")

// DistanceKm returns the great-circle distance in kilometres between two points
// given in decimal degrees. Values outside the usual lat/long ranges are not
// rejected; they produce finite but meaningless distances.
func DistanceKm(lat1, long1, lat2, long2 float64) (float64, error) {
	for _, v := range [...]float64{lat1, long1, lat2, long2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidInput, v)
		}
	}

	a := s2.LatLngFromDegrees(lat1, long1)
	b := s2.LatLngFromDegrees(lat2, long2)

	return a.Distance(b).Radians() * EarthRadiusKm, nil
}

// Within reports whether the two points are at most radiusKm apart.
func Within(lat1, long1, lat2, long2, radiusKm float64) (bool, error) {
	d, err := DistanceKm(lat1, long1, lat2, long2)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}
