package geom

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidGeometryError reports input geometry that is empty, malformed, or
// of the wrong type for the operation. It is never retried: the caller
// surfaces it immediately.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

func invalidGeometry(format string, v ...interface{}) error {
	return &InvalidGeometryError{Reason: fmt.Sprintf(format, v...)}
}

// ParseLineString parses a WKT LINESTRING with at least two coordinates.
// Any other geometry type, an EMPTY body, or malformed coordinates yield an
// InvalidGeometryError.
func ParseLineString(wkt string) (LineString, error) {
	body, err := wktBody(wkt, "LINESTRING")
	if err != nil {
		return nil, err
	}
	line, err := parseCoordList(body)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 {
		return nil, invalidGeometry("linestring needs at least 2 points, got %d", len(line))
	}
	return LineString(line), nil
}

// ParsePolygon parses a WKT POLYGON. Only the exterior ring is kept.
func ParsePolygon(wkt string) (Polygon, error) {
	body, err := wktBody(wkt, "POLYGON")
	if err != nil {
		return Polygon{}, err
	}
	// Exterior ring is the first parenthesised list; interior rings are ignored.
	if !strings.HasPrefix(body, "(") {
		return Polygon{}, invalidGeometry("polygon body must contain a ring")
	}
	depth := 0
	end := -1
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return Polygon{}, invalidGeometry("unbalanced parentheses in polygon")
	}
	ring, err := parseCoordList(body[1:end])
	if err != nil {
		return Polygon{}, err
	}
	if len(ring) < 3 {
		return Polygon{}, invalidGeometry("polygon ring needs at least 3 points, got %d", len(ring))
	}
	// Close the ring if the source left it open.
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return Polygon{Exterior: Ring(ring)}, nil
}

// FormatLineString renders a line as WKT with full float precision.
func FormatLineString(line LineString) string {
	var b strings.Builder
	b.WriteString("LINESTRING (")
	writeCoords(&b, line)
	b.WriteString(")")
	return b.String()
}

// FormatPolygon renders a polygon's exterior ring as WKT.
func FormatPolygon(p Polygon) string {
	var b strings.Builder
	b.WriteString("POLYGON ((")
	writeCoords(&b, []Point(p.Exterior))
	b.WriteString("))")
	return b.String()
}

func writeCoords(b *strings.Builder, pts []Point) {
	for i, pt := range pts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(pt.X, 'f', -1, 64))
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(pt.Y, 'f', -1, 64))
	}
}

// wktBody validates the tag and strips the outermost parentheses.
func wktBody(wkt, wantTag string) (string, error) {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return "", invalidGeometry("empty geometry text")
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, wantTag) {
		tag := upper
		if i := strings.IndexAny(upper, " ("); i > 0 {
			tag = upper[:i]
		}
		return "", invalidGeometry("expected %s, got %s", wantTag, tag)
	}
	rest := strings.TrimSpace(s[len(wantTag):])
	if strings.EqualFold(rest, "EMPTY") {
		return "", invalidGeometry("%s is empty", wantTag)
	}
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", invalidGeometry("malformed %s body", wantTag)
	}
	return strings.TrimSpace(rest[1 : len(rest)-1]), nil
}

func parseCoordList(body string) ([]Point, error) {
	parts := strings.Split(body, ",")
	pts := make([]Point, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) < 2 {
			return nil, invalidGeometry("coordinate %q needs two ordinates", strings.TrimSpace(part))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, invalidGeometry("bad ordinate %q", fields[0])
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, invalidGeometry("bad ordinate %q", fields[1])
		}
		pts = append(pts, Point{X: x, Y: y})
	}
	return pts, nil
}
