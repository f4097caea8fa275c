package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/srg/wayble/internal/route"
	"gopkg.in/yaml.v3"
)

// routeFile is the YAML layout accepted by --file:
//
//	waypoints:
//	  - {lat: 37.78825, lon: -122.4324}
//	  - {lat: 37.789, lon: -122.4325}
type routeFile struct {
	Waypoints []route.GeoPoint `yaml:"waypoints"`
}

// parsePoint parses "lat,lon". Range checks are left to the route builder.
func parsePoint(s string) (route.GeoPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return route.GeoPoint{}, fmt.Errorf("invalid point %q: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return route.GeoPoint{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return route.GeoPoint{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return route.GeoPoint{Lat: lat, Lon: lon}, nil
}

// loadRouteFile reads waypoints from a YAML file
func loadRouteFile(path string) ([]route.GeoPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file %q: %w", path, err)
	}
	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse route file %q: %w", path, err)
	}
	return rf.Waypoints, nil
}

// collectWaypoints merges file waypoints and --point flags, file first.
func collectWaypoints(file string, points []string) ([]route.GeoPoint, error) {
	var out []route.GeoPoint
	if file != "" {
		pts, err := loadRouteFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, pts...)
	}
	for _, s := range points {
		p, err := parsePoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoWaypoints
	}
	return out, nil
}
