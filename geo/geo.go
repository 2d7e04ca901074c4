// Package geo filters crawled places against a geographic fence.
package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Polygon is a fence area. The zero value (nil inner geometry) matches
// everything, so an unconfigured fence never filters.
type Polygon struct {
	multi orb.MultiPolygon
}

// PolygonFromGeoJSON parses a GeoJSON document containing a Polygon or
// MultiPolygon geometry, either bare or wrapped in a Feature or
// FeatureCollection.
func PolygonFromGeoJSON(data []byte) (*Polygon, error) {
	if multi, ok := multiFromGeometry(data); ok {
		return &Polygon{multi: multi}, nil
	}

	if feat, err := geojson.UnmarshalFeature(data); err == nil {
		if multi, ok := asMultiPolygon(feat.Geometry); ok {
			return &Polygon{multi: multi}, nil
		}
	}

	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		var multi orb.MultiPolygon

		for _, feat := range fc.Features {
			if m, ok := asMultiPolygon(feat.Geometry); ok {
				multi = append(multi, m...)
			}
		}

		if len(multi) > 0 {
			return &Polygon{multi: multi}, nil
		}
	}

	return nil, fmt.Errorf("geo: no polygon geometry in input")
}

func multiFromGeometry(data []byte) (orb.MultiPolygon, bool) {
	var probe struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}

	if probe.Type != "Polygon" && probe.Type != "MultiPolygon" {
		return nil, false
	}

	geom, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, false
	}

	return asMultiPolygon(geom.Geometry())
}

func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	default:
		return nil, false
	}
}

// PolygonFromRings builds a fence from raw rings, one polygon per ring.
// Each ring is a list of points; closing the ring is optional.
func PolygonFromRings(rings ...[]Point) *Polygon {
	var multi orb.MultiPolygon

	for _, ring := range rings {
		if len(ring) < 3 {
			continue
		}

		r := make(orb.Ring, 0, len(ring)+1)
		for _, p := range ring {
			r = append(r, orb.Point{p.Lng, p.Lat})
		}

		if r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}

		multi = append(multi, orb.Polygon{r})
	}

	return &Polygon{multi: multi}
}

// MarshalGeoJSON serializes the fence geometry to a GeoJSON document that
// PolygonFromGeoJSON accepts back. An empty fence serializes to nil.
func (p *Polygon) MarshalGeoJSON() ([]byte, error) {
	if p == nil || len(p.multi) == 0 {
		return nil, nil
	}

	return geojson.NewGeometry(p.multi).MarshalJSON()
}

// Contains reports whether the fence contains the point. A nil or empty
// fence contains every point; a nil point is outside every real fence.
func (p *Polygon) Contains(pt *Point) bool {
	if p == nil || len(p.multi) == 0 {
		return true
	}

	if pt == nil {
		return false
	}

	return planar.MultiPolygonContains(p.multi, orb.Point{pt.Lng, pt.Lat})
}

// PointInPolygon is the package-level form of Contains, keeping the nil
// polygon semantics without a receiver check at every call site.
func PointInPolygon(poly *Polygon, pt *Point) bool {
	return poly.Contains(pt)
}
