// Package geom provides the planar geometry primitives used by the
// trajectory association pipeline: WKT parsing, polyline buffering, and the
// intersection/distance predicates the in-memory road graph needs. All
// measured quantities are meters; WGS84 coordinates are mapped to a local
// planar frame with Projection before any metric operation.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// EarthRadiusM is the WGS84 equatorial radius used by Projection and
// GeodesicLength.
const EarthRadiusM = 6378137.0

// Point is a 2D coordinate. Depending on context it holds either WGS84
// lon/lat degrees (X=lon, Y=lat) or local planar meters.
type Point struct {
	X float64
	Y float64
}

// LineString is an ordered sequence of points.
type LineString []Point

// Ring is a closed linear ring: the first and last points are equal.
type Ring []Point

// Polygon is a simple polygon with a single exterior ring. Interior rings do
// not occur in the road-graph geometries this system consumes.
type Polygon struct {
	Exterior Ring
}

func vec(p Point) r2.Vec   { return r2.Vec{X: p.X, Y: p.Y} }
func point(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

// Length returns the planar length of the line.
func Length(line LineString) float64 {
	var total float64
	for i := 1; i < len(line); i++ {
		total += r2.Norm(r2.Sub(vec(line[i]), vec(line[i-1])))
	}
	return total
}

// GeodesicLength returns the haversine length in meters of a lon/lat line.
func GeodesicLength(line LineString) float64 {
	var total float64
	for i := 1; i < len(line); i++ {
		total += haversine(line[i-1], line[i])
	}
	return total
}

func haversine(a, b Point) float64 {
	lat1 := a.Y * math.Pi / 180
	lat2 := b.Y * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.X - a.X) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Area returns the absolute shoelace area of the polygon's exterior ring.
func Area(p Polygon) float64 {
	ring := p.Exterior
	if len(ring) < 4 {
		return 0
	}
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return math.Abs(sum) / 2
}

// PointInPolygon reports whether pt lies inside the polygon (ray casting;
// boundary points count as inside).
func PointInPolygon(pt Point, p Polygon) bool {
	ring := p.Exterior
	if len(ring) < 4 {
		return false
	}
	inside := false
	for i := 0; i < len(ring)-1; i++ {
		a, b := ring[i], ring[i+1]
		if pointOnSegment(pt, a, b) {
			return true
		}
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			x := a.X + (pt.Y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
			if pt.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

const epsilon = 1e-12

func pointOnSegment(p, a, b Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > epsilon*(math.Abs(b.X-a.X)+math.Abs(b.Y-a.Y)+1) {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-epsilon && p.X <= math.Max(a.X, b.X)+epsilon &&
		p.Y >= math.Min(a.Y, b.Y)-epsilon && p.Y <= math.Max(a.Y, b.Y)+epsilon
}

// SegmentsIntersect reports whether segments [a1,a2] and [b1,b2] intersect,
// including shared endpoints and collinear overlap.
func SegmentsIntersect(a1, a2, b1, b2 Point) bool {
	d1 := orient(b1, b2, a1)
	d2 := orient(b1, b2, a2)
	d3 := orient(a1, a2, b1)
	d4 := orient(a1, a2, b2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && pointOnSegment(a1, b1, b2)) ||
		(d2 == 0 && pointOnSegment(a2, b1, b2)) ||
		(d3 == 0 && pointOnSegment(b1, a1, a2)) ||
		(d4 == 0 && pointOnSegment(b2, a1, a2))
}

func orient(a, b, c Point) float64 {
	v := r2.Cross(r2.Sub(vec(b), vec(a)), r2.Sub(vec(c), vec(a)))
	if math.Abs(v) < epsilon {
		return 0
	}
	return v
}

// Intersects reports whether the line touches or crosses the polygon.
func Intersects(p Polygon, line LineString) bool {
	if len(line) == 0 || len(p.Exterior) < 4 {
		return false
	}
	ring := p.Exterior
	for i := 1; i < len(line); i++ {
		for j := 0; j < len(ring)-1; j++ {
			if SegmentsIntersect(line[i-1], line[i], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	// No boundary crossing: the line is entirely inside or entirely outside.
	return PointInPolygon(line[0], p)
}

// PolygonsIntersect reports whether two polygons touch or overlap.
func PolygonsIntersect(a, b Polygon) bool {
	if len(a.Exterior) < 4 || len(b.Exterior) < 4 {
		return false
	}
	for i := 0; i < len(a.Exterior)-1; i++ {
		for j := 0; j < len(b.Exterior)-1; j++ {
			if SegmentsIntersect(a.Exterior[i], a.Exterior[i+1], b.Exterior[j], b.Exterior[j+1]) {
				return true
			}
		}
	}
	return PointInPolygon(a.Exterior[0], b) || PointInPolygon(b.Exterior[0], a)
}

// DistancePointSegment returns the distance from p to segment [a,b].
func DistancePointSegment(p, a, b Point) float64 {
	ab := r2.Sub(vec(b), vec(a))
	ap := r2.Sub(vec(p), vec(a))
	ab2 := r2.Norm2(ab)
	if ab2 == 0 {
		return r2.Norm(ap)
	}
	t := r2.Dot(ap, ab) / ab2
	t = math.Max(0, math.Min(1, t))
	closest := r2.Add(vec(a), r2.Scale(t, ab))
	return r2.Norm(r2.Sub(vec(p), closest))
}

// DistanceLineLine returns the minimum planar distance between two lines,
// zero if they intersect.
func DistanceLineLine(a, b LineString) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	if len(a) == 1 {
		a = LineString{a[0], a[0]}
	}
	if len(b) == 1 {
		b = LineString{b[0], b[0]}
	}
	min := math.Inf(1)
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if SegmentsIntersect(a[i-1], a[i], b[j-1], b[j]) {
				return 0
			}
			for _, d := range []float64{
				DistancePointSegment(a[i-1], b[j-1], b[j]),
				DistancePointSegment(a[i], b[j-1], b[j]),
				DistancePointSegment(b[j-1], a[i-1], a[i]),
				DistancePointSegment(b[j], a[i-1], a[i]),
			} {
				if d < min {
					min = d
				}
			}
		}
	}
	return min
}

// Projection maps WGS84 lon/lat degrees to a local equirectangular planar
// frame in meters centred on the origin point. Accurate to well under a
// meter over the few-kilometer extents a single trajectory covers.
type Projection struct {
	originLon float64
	originLat float64
	cosLat    float64
}

// NewProjection creates a projection centred on origin (lon/lat degrees).
func NewProjection(origin Point) Projection {
	return Projection{
		originLon: origin.X,
		originLat: origin.Y,
		cosLat:    math.Cos(origin.Y * math.Pi / 180),
	}
}

// Forward converts lon/lat degrees to local meters.
func (p Projection) Forward(pt Point) Point {
	return Point{
		X: (pt.X - p.originLon) * math.Pi / 180 * EarthRadiusM * p.cosLat,
		Y: (pt.Y - p.originLat) * math.Pi / 180 * EarthRadiusM,
	}
}

// Inverse converts local meters back to lon/lat degrees.
func (p Projection) Inverse(pt Point) Point {
	return Point{
		X: p.originLon + pt.X/(EarthRadiusM*p.cosLat)*180/math.Pi,
		Y: p.originLat + pt.Y/EarthRadiusM*180/math.Pi,
	}
}

// ForwardLine projects a lon/lat line to local meters.
func (p Projection) ForwardLine(line LineString) LineString {
	out := make(LineString, len(line))
	for i, pt := range line {
		out[i] = p.Forward(pt)
	}
	return out
}

// InverseLine unprojects a local-meter line to lon/lat.
func (p Projection) InverseLine(line LineString) LineString {
	out := make(LineString, len(line))
	for i, pt := range line {
		out[i] = p.Inverse(pt)
	}
	return out
}

// ForwardPolygon projects a lon/lat polygon to local meters.
func (p Projection) ForwardPolygon(poly Polygon) Polygon {
	out := make(Ring, len(poly.Exterior))
	for i, pt := range poly.Exterior {
		out[i] = p.Forward(pt)
	}
	return Polygon{Exterior: out}
}

// InversePolygon unprojects a local-meter polygon to lon/lat.
func (p Projection) InversePolygon(poly Polygon) Polygon {
	out := make(Ring, len(poly.Exterior))
	for i, pt := range poly.Exterior {
		out[i] = p.Inverse(pt)
	}
	return Polygon{Exterior: out}
}
