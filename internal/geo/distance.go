// Package geo computes distances between facilities and destinations.
package geo

import (
	"math"
	"strings"

	"netopt/internal/apperr"
	"netopt/internal/model"
)

const earthRadiusMiles = 3958.8

// Location is anything that can be measured: an id, a coarse region used when
// coordinates are missing, and optional coordinates.
type Location struct {
	ID     string
	Region string
	Point  *model.GeoPoint
}

// Measurement is a distance in miles; Estimated is set when it came from an
// Estimator instead of coordinates.
type Measurement struct {
	Miles     float64
	Estimated bool
}

// Estimator supplies a distance when coordinates are unavailable.
type Estimator interface {
	EstimateDistance(originRegion, destRegion string) (float64, error)
}

// Calculator measures great-circle distance and falls back to Estimator.
type Calculator struct {
	Estimator Estimator
}

func (c Calculator) Distance(a, b Location) (Measurement, error) {
	if a.ID != "" && a.ID == b.ID {
		return Measurement{}, nil
	}
	if a.Point != nil && b.Point != nil {
		return Measurement{Miles: HaversineMiles(a.Point.Lat, a.Point.Lng, b.Point.Lat, b.Point.Lng)}, nil
	}
	if c.Estimator == nil {
		return Measurement{}, apperr.Validation("no coordinates for %s -> %s and no distance estimator configured", a.ID, b.ID)
	}
	miles, err := c.Estimator.EstimateDistance(a.Region, b.Region)
	if err != nil {
		return Measurement{}, err
	}
	if miles < 0 || math.IsNaN(miles) {
		return Measurement{}, apperr.Validation("estimator returned invalid distance %v for %s -> %s", miles, a.Region, b.Region)
	}
	return Measurement{Miles: miles, Estimated: true}, nil
}

// HaversineMiles returns the great-circle distance between two coordinates.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * c
}

// RegionTable is a symmetric region-pair lookup. Same-region pairs without an
// entry use SameRegion; other misses use Default when it is set.
type RegionTable struct {
	Miles      map[string]map[string]float64
	SameRegion float64
	Default    float64
}

func (t RegionTable) EstimateDistance(originRegion, destRegion string) (float64, error) {
	o, d := norm(originRegion), norm(destRegion)
	if v, ok := t.lookup(o, d); ok {
		return v, nil
	}
	if v, ok := t.lookup(d, o); ok {
		return v, nil
	}
	if o != "" && o == d {
		return t.SameRegion, nil
	}
	if t.Default > 0 {
		return t.Default, nil
	}
	return 0, apperr.Validation("no distance estimate for region pair %q -> %q", originRegion, destRegion)
}

func (t RegionTable) lookup(a, b string) (float64, bool) {
	for k, row := range t.Miles {
		if norm(k) != a {
			continue
		}
		for k2, v := range row {
			if norm(k2) == b {
				return v, true
			}
		}
	}
	return 0, false
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
