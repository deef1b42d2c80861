package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb/planar"
)

func TestParseLocation(t *testing.T) {
	location, err := ParseLocation("  -34.9205 \t -57.9536 1 ", DefaultMaxLevel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if location.Latitude != -34.9205 || location.Longitude != -57.9536 || location.Level != 1 {
		t.Fatalf("unexpected location %#v", location)
	}
}

func TestParseLocationRejectsMalformedInput(t *testing.T) {
	testCases := []string{
		"",
		"1 2",
		"1 2 3 4",
		"north 2 0",
		"1 east 0",
		"1 2 ground",
		"1 2 2",
		"1 2 -1",
		"NaN 2 0",
		"1 +Inf 0",
		"91 2 0",
	}
	for _, raw := range testCases {
		t.Run(raw, func(t *testing.T) {
			if _, err := ParseLocation(raw, DefaultMaxLevel); !errors.Is(err, ErrInvalidLocation) {
				t.Fatalf("expected ErrInvalidLocation for %q, got %v", raw, err)
			}
		})
	}
}

func TestWKTRoundTrip(t *testing.T) {
	location := Location{Latitude: -34.9, Longitude: -57.95, Level: 0}
	point, err := PointFromWKT(location.WKT())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if point.Lon() != location.Longitude || point.Lat() != location.Latitude {
		t.Fatalf("unexpected point %v", point)
	}
}

func TestProjectedDistanceApproximatesGround(t *testing.T) {
	origin := Location{Latitude: -34.9205, Longitude: -57.9536}
	const metersPerDegreeLatitude = 111_320.0
	north := Location{Latitude: origin.Latitude + 100/metersPerDegreeLatitude, Longitude: origin.Longitude}

	projected := planar.Distance(origin.Projected(), north.Projected())
	ground := projected * math.Cos(origin.Latitude*math.Pi/180)
	if math.Abs(ground-100) > 1.5 {
		t.Fatalf("expected roughly 100 meters, got %f", ground)
	}
	if radius := ProjectedRadius(origin, 100); math.Abs(radius-projected) > 2 {
		t.Fatalf("projected radius %f does not match projected distance %f", radius, projected)
	}
}
