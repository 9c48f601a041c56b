package geometry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"
)

// ErrNoPolygon is returned when an input holds no polygon geometry.
var ErrNoPolygon = eris.New("geometry: no polygon in input")

// FromFeatureCollection picks the polygon a run should estimate. Drawing
// tools append features in creation order, so the last polygon wins; other
// geometry types are skipped and polygons are never merged. Returns nil when
// the collection holds no usable polygon.
func FromFeatureCollection(fc *geojson.FeatureCollection) *geom.Polygon {
	if fc == nil {
		return nil
	}

	var picked *geom.Polygon
	var count int
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		poly, ok := f.Geometry.(*geom.Polygon)
		if !ok || poly.NumLinearRings() == 0 {
			continue
		}
		picked = poly
		count++
	}

	if count > 1 {
		zap.L().Debug("geometry: multiple polygons in collection, using the last", zap.Int("polygons", count))
	}
	return picked
}

// ParseGeoJSON decodes a GeoJSON FeatureCollection, Feature or bare geometry
// and returns the polygon to estimate.
func ParseGeoJSON(data []byte) (*geom.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "geometry: decode geojson")
	}

	var poly *geom.Polygon
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "geometry: decode feature collection")
		}
		poly = FromFeatureCollection(&fc)
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "geometry: decode feature")
		}
		poly = FromFeatureCollection(&geojson.FeatureCollection{Features: []*geojson.Feature{&f}})
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "geometry: decode geometry")
		}
		poly, _ = g.(*geom.Polygon)
	}

	if poly == nil || poly.NumLinearRings() == 0 {
		return nil, ErrNoPolygon
	}
	return poly, nil
}

// ParseWKT decodes a WKT POLYGON in lon/lat order.
func ParseWKT(s string) (*geom.Polygon, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode wkt")
	}
	poly, ok := g.(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return nil, ErrNoPolygon
	}
	return poly, nil
}

// ReadFile loads a polygon from a .geojson/.json, .wkt or .shp file.
func ReadFile(path string) (*geom.Polygon, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path)
	case ".wkt":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: read %s", path)
		}
		return ParseWKT(string(data))
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: read %s", path)
		}
		return ParseGeoJSON(data)
	default:
		return nil, eris.Errorf("geometry: unsupported input format %q", filepath.Ext(path))
	}
}

// readShapefile returns the last polygon record of a shapefile.
func readShapefile(path string) (*geom.Polygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	var picked *geom.Polygon
	for reader.Next() {
		_, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		if poly := shapeToPolygon(p); poly != nil {
			picked = poly
		}
	}

	if picked == nil {
		return nil, ErrNoPolygon
	}
	return picked, nil
}

// shapeToPolygon converts a shapefile polygon record. The first part is the
// shell; later parts wound counter-clockwise are holes. Additional clockwise
// parts are separate shells and are dropped.
func shapeToPolygon(p *shp.Polygon) *geom.Polygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	poly := geom.NewPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		if poly.NumLinearRings() > 0 && !counterClockwise(flat) {
			zap.L().Debug("geometry: dropping extra shell from shapefile polygon", zap.Int32("part", i))
			continue
		}

		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geometry: skipping malformed shapefile ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if poly.NumLinearRings() == 0 {
		return nil
	}
	return poly
}

// counterClockwise reports the winding of a flat XY ring by its shoelace sum.
func counterClockwise(flat []float64) bool {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum > 0
}
