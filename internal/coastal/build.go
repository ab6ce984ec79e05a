package coastal

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// BuildCoastalTiles keeps the tiles of grid that touch coastline and returns
// one Point feature per tile, located at the tile's planar centroid and
// carrying the tile id in the "name" property.
func BuildCoastalTiles(grid, coastline *geojson.FeatureCollection, logger *slog.Logger) (*geojson.FeatureCollection, error) {
	if grid == nil || coastline == nil {
		return nil, fmt.Errorf("grid and coastline are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	lines := coastlineStrings(coastline)
	if len(lines) == 0 {
		return nil, fmt.Errorf("coastline dataset holds no line geometry")
	}

	out := geojson.NewFeatureCollection()
	for i, feature := range grid.Features {
		name := tileName(feature)
		if name == "" {
			logger.Debug("skip unnamed tile", "index", i)
			continue
		}

		polygons := asMultiPolygon(feature.Geometry)
		if len(polygons) == 0 {
			logger.Debug("skip non polygonal tile", "tile", name)
			continue
		}

		if !intersectsAny(polygons, lines) {
			continue
		}

		c, _ := planar.CentroidArea(polygons)
		point := geojson.NewFeature(c)
		point.Properties["name"] = name
		out.Append(point)
	}

	logger.Info("coastal tiles built", "grid", len(grid.Features), "coastal", len(out.Features))
	return out, nil
}

func coastlineStrings(fc *geojson.FeatureCollection) []orb.LineString {
	var lines []orb.LineString
	for _, feature := range fc.Features {
		switch g := feature.Geometry.(type) {
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, g...)
		case orb.Ring:
			lines = append(lines, orb.LineString(g))
		case orb.Polygon:
			for _, ring := range g {
				lines = append(lines, orb.LineString(ring))
			}
		case orb.MultiPolygon:
			for _, poly := range g {
				for _, ring := range poly {
					lines = append(lines, orb.LineString(ring))
				}
			}
		}
	}
	return lines
}

func asMultiPolygon(geom orb.Geometry) orb.MultiPolygon {
	switch g := geom.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}
	case orb.MultiPolygon:
		return g
	default:
		return nil
	}
}

func intersectsAny(polygons orb.MultiPolygon, lines []orb.LineString) bool {
	bound := polygons.Bound()
	for _, line := range lines {
		if !bound.Intersects(line.Bound()) {
			continue
		}
		for _, poly := range polygons {
			if lineTouchesPolygon(line, poly) {
				return true
			}
		}
	}
	return false
}

// lineTouchesPolygon is true when a vertex of line lies inside poly or a
// segment of line crosses one of the polygon rings.
func lineTouchesPolygon(line orb.LineString, poly orb.Polygon) bool {
	bound := poly.Bound()
	for _, pt := range line {
		if bound.Contains(pt) && planar.PolygonContains(poly, pt) {
			return true
		}
	}
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		for _, ring := range poly {
			for j := 1; j < len(ring); j++ {
				if segmentsIntersect(a, b, ring[j-1], ring[j]) {
					return true
				}
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}
