package catalog

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Geometry selects how unit shapes are published.
type Geometry string

const (
	// GeometryPoint publishes each unit as its centroid.
	GeometryPoint Geometry = "Point"
	// GeometryPolygon publishes each unit with its full boundary.
	GeometryPolygon Geometry = "Polygon"
)

// ParseGeometry converts "point" or "polygon" (case-insensitive) into a Geometry.
func ParseGeometry(s string) (Geometry, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point", "points", "centroid":
		return GeometryPoint, nil
	case "polygon", "polygons":
		return GeometryPolygon, nil
	default:
		return "", eris.Errorf("catalog: unknown geometry %q (valid: Point, Polygon)", s)
	}
}

// ForGeometry returns an independent catalog whose geometries match g.
func (c *Catalog) ForGeometry(g Geometry) (*Catalog, error) {
	switch g {
	case GeometryPolygon:
		return c.Clone(), nil
	case GeometryPoint:
		return c.Map(func(u Unit) (Unit, error) {
			pt, err := Centroid(u.Geometry)
			if err != nil {
				return u, err
			}
			u.Geometry = pt
			return u, nil
		})
	default:
		return nil, eris.Errorf("catalog: unsupported geometry %q", g)
	}
}

// Centroid returns the centroid of g as a point with the same SRID.
// A nil geometry stays nil.
func Centroid(g geom.T) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	if pt, ok := g.(*geom.Point); ok {
		return pt, nil
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: centroid")
	}
	return geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}).SetSRID(g.SRID()), nil
}

// shapeToGeom converts a go-shp shape into a go-geom geometry with SRID 4326.
// Unsupported or empty shapes return nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(4326)
	case *shp.Polygon:
		return polygonToMultiPolygon(s)
	default:
		return nil
	}
}

// polygonToMultiPolygon converts every ring of a shapefile polygon into a
// polygon part of a MultiPolygon.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("catalog: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("catalog: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
