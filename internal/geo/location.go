package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/project"
)

// DefaultMaxLevel is the highest floor index accepted by default.
const DefaultMaxLevel = 1

// ErrInvalidLocation indicates a location string or value could not be used.
var ErrInvalidLocation = errors.New("geo: invalid location")

// Location is a WGS84 coordinate on a discrete floor.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Level     int     `json:"level"`
}

// ParseLocation reads "lat long level" separated by whitespace.
func ParseLocation(raw string, maxLevel int) (Location, error) {
	fields := strings.Fields(raw)
	if len(fields) != 3 {
		return Location{}, fmt.Errorf("%w: expected \"lat long level\"", ErrInvalidLocation)
	}
	latitude, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: latitude: %v", ErrInvalidLocation, err)
	}
	longitude, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: longitude: %v", ErrInvalidLocation, err)
	}
	level, err := strconv.Atoi(fields[2])
	if err != nil {
		return Location{}, fmt.Errorf("%w: level: %v", ErrInvalidLocation, err)
	}
	location := Location{Latitude: latitude, Longitude: longitude, Level: level}
	if err := location.Validate(maxLevel); err != nil {
		return Location{}, err
	}
	return location, nil
}

// Validate checks coordinate ranges and the floor bound.
func (l Location) Validate(maxLevel int) error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidLocation, l.Latitude)
	}
	if math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidLocation, l.Longitude)
	}
	if l.Level < 0 || l.Level > maxLevel {
		return fmt.Errorf("%w: level %d not in [0, %d]", ErrInvalidLocation, l.Level, maxLevel)
	}
	return nil
}

// Point returns the location as an orb point, longitude first.
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// WKT renders the location as a POINT geometry.
func (l Location) WKT() string {
	return wkt.MarshalString(l.Point())
}

// Projected returns the spherical mercator coordinates of the location.
func (l Location) Projected() orb.Point {
	return project.Point(l.Point(), project.WGS84.ToMercator)
}

// ProjectedRadius converts a ground distance in meters near origin into mercator units.
func ProjectedRadius(origin Location, meters float64) float64 {
	return meters / math.Cos(origin.Latitude*math.Pi/180)
}

// PointFromWKT reads a POINT geometry back into a coordinate pair.
func PointFromWKT(raw string) (orb.Point, error) {
	point, err := wkt.UnmarshalPoint(raw)
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return point, nil
}
