package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// earthRadius is the WGS84 equatorial radius in meters.
const earthRadius = 6378137.0

// Area returns the geodesic area of a lon/lat polygon in square meters,
// with holes subtracted. Nil or ring-less polygons have zero area, and rings
// with fewer than three distinct points contribute nothing.
func Area(poly *geom.Polygon) float64 {
	if poly == nil || poly.NumLinearRings() == 0 {
		return 0
	}

	shell := poly.LinearRing(0).Coords()
	if !usableRing(shell) {
		return 0
	}
	total := math.Abs(ringArea(shell))
	for i := 1; i < poly.NumLinearRings(); i++ {
		hole := poly.LinearRing(i).Coords()
		if !usableRing(hole) {
			continue
		}
		total -= math.Abs(ringArea(hole))
	}
	if total < 0 {
		return 0
	}
	return total
}

// ringArea computes the signed spherical area of a ring using the
// Chamberlain-Duquette approximation (JPL Publication 07-03).
func ringArea(coords []geom.Coord) float64 {
	n := len(coords)
	if n <= 2 {
		return 0
	}

	var total float64
	for i := 0; i < n; i++ {
		var lower, middle, upper int
		switch i {
		case n - 2:
			lower, middle, upper = n-2, n-1, 0
		case n - 1:
			lower, middle, upper = n-1, 0, 1
		default:
			lower, middle, upper = i, i+1, i+2
		}
		p1, p2, p3 := coords[lower], coords[middle], coords[upper]
		total += (radians(p3[0]) - radians(p1[0])) * math.Sin(radians(p2[1]))
	}

	return total * earthRadius * earthRadius / 2
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Centroid returns the area centroid of the polygon as lon, lat. Degenerate
// polygons yield ErrNoCentroid instead of a NaN point or a panic. Holes with
// fewer than three distinct points are ignored.
func Centroid(poly *geom.Polygon) (lon, lat float64, err error) {
	clean, ok := usablePolygon(poly)
	if !ok {
		return 0, 0, ErrNoCentroid
	}

	defer func() {
		if r := recover(); r != nil {
			lon, lat, err = 0, 0, ErrNoCentroid
		}
	}()

	c, err := xy.Centroid(clean)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geometry: centroid")
	}
	if len(c) < 2 || !finite(c[0]) || !finite(c[1]) {
		return 0, 0, ErrNoCentroid
	}

	return c[0], c[1], nil
}

// usablePolygon returns a copy of poly with every ring closed and unusable
// holes dropped. It reports false when the shell itself is unusable.
func usablePolygon(poly *geom.Polygon) (*geom.Polygon, bool) {
	if poly == nil || poly.NumLinearRings() == 0 {
		return nil, false
	}

	shell := poly.LinearRing(0).Coords()
	if !usableRing(shell) {
		return nil, false
	}
	rings := [][]geom.Coord{closeRing(shell)}
	for i := 1; i < poly.NumLinearRings(); i++ {
		hole := poly.LinearRing(i).Coords()
		if usableRing(hole) {
			rings = append(rings, closeRing(hole))
		}
	}

	clean, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, false
	}
	return clean, true
}

// usableRing reports whether a ring has at least three distinct points.
func usableRing(coords []geom.Coord) bool {
	distinct := make([]geom.Coord, 0, 3)
	for _, c := range coords {
		if len(c) < 2 {
			return false
		}
		seen := false
		for _, d := range distinct {
			if d[0] == c[0] && d[1] == c[1] {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, c)
			if len(distinct) == 3 {
				return true
			}
		}
	}
	return false
}

// closeRing returns the XY coordinates of a ring with the first point
// repeated at the end when missing.
func closeRing(coords []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, 0, len(coords)+1)
	for _, c := range coords {
		out = append(out, geom.Coord{c[0], c[1]})
	}
	first, last := out[0], out[len(out)-1]
	if first[0] != last[0] || first[1] != last[1] {
		out = append(out, geom.Coord{first[0], first[1]})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
