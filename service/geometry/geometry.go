package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

var TOLERANCE_GEOG = 0.000001

// Footprint returns the polygon of the four corners of a scene (upper-left, upper-right, lower-right, lower-left)
func Footprint(ul, ur, lr, ll [2]float64) geom.Polygon {
	return geom.Polygon{{ul, ur, lr, ll, ul}}
}

// UnmarshalGeometry, merging featureCollections and geometryCollections into a multipolygon
func UnmarshalGeometry(data []byte) (geom.Geometry, error) {
	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("UnmarshalGeometry: %w", err)
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		var mp geom.MultiPolygon
		for _, f := range geo.Features {
			if err := mergeMultiPolygons(f.Geometry.Geometry, &mp); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case geojson.Feature:
		return geo.Geometry.Geometry, nil
	default:
		return g.Geometry, nil
	}
}

// MarshalFeature encodes the geometry and its properties as a GeoJSON feature
func MarshalFeature(g geom.Geometry, properties map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(geojson.Feature{Geometry: geojson.Geometry{Geometry: g}, Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("MarshalFeature: %w", err)
	}
	return b, nil
}

func mergeMultiPolygons(g geom.Geometry, mp *geom.MultiPolygon) error {
	switch g := g.(type) {
	case geom.MultiPolygon:
		*mp = append(*mp, g.Polygons()...)
	case geom.Polygon:
		*mp = append(*mp, g.LinearRings())
	case geom.Collection:
		for _, g := range g.Geometries() {
			if err := mergeMultiPolygons(g, mp); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("mergeMultiPolygons: unsupported geometry %T", g)
	}
	return nil
}

// Generates a geom.Geometry from a geos.Geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

// Generates a geos.Geometry from a geom.Geometry
func GeomToGeos(g geom.Geometry) (*geos.Geometry, error) {
	wkt, err := geomwkt.EncodeString(g)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.EncodeString: %w", err)
	}
	geometry, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.FromWKT: %w", err)
	}
	return geometry, nil
}

// Intersects returns true if the two geometries share at least one point
func Intersects(g1, g2 geom.Geometry) (bool, error) {
	geos1, err := GeomToGeos(g1)
	if err != nil {
		return false, fmt.Errorf("Intersects.%w", err)
	}
	geos2, err := GeomToGeos(g2)
	if err != nil {
		return false, fmt.Errorf("Intersects.%w", err)
	}
	return geos1.Intersects(geos2)
}

// Contains returns true if g2 is inside g1 (up to tolerance)
func Contains(g1, g2 geom.Geometry, tolerance float64) (bool, error) {
	geos1, err := GeomToGeos(g1)
	if err != nil {
		return false, fmt.Errorf("Contains.%w", err)
	}
	geos2, err := GeomToGeos(g2)
	if err != nil {
		return false, fmt.Errorf("Contains.%w", err)
	}
	if tolerance > 0 {
		if geos1, err = geos1.Buffer(tolerance); err != nil {
			return false, fmt.Errorf("Contains.Buffer: %w", err)
		}
	}
	return geos1.Contains(geos2)
}

// GeomUnion merges the geometries into one (multi)polygon
func GeomUnion(geoms []geom.Geometry, tolerance float64) (geom.Geometry, error) {
	var gs []*geos.Geometry
	for _, g := range geoms {
		gg, err := GeomToGeos(g)
		if err != nil {
			return nil, fmt.Errorf("GeomUnion.%w", err)
		}
		gs = append(gs, gg)
	}
	union, err := Union(gs, tolerance)
	if err != nil {
		return nil, fmt.Errorf("GeomUnion.%w", err)
	}
	return GeosToGeom(union)
}

// Union merges the geometries, simplified with tolerance
func Union(geoms []*geos.Geometry, tolerance float64) (*geos.Geometry, error) {
	if len(geoms) == 0 {
		return nil, fmt.Errorf("Union: no geometry")
	}
	aoi, err := UnaryUnion(geoms)
	if err == nil {
		if aoi, err = aoi.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		return aoi, nil
	}
	// Union all failed, retry one by one with simplify
	aoi = nil
	for _, geom := range geoms {
		if geom, err = geom.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		if aoi == nil {
			aoi = geom
		} else if aoi, err = geom.Union(aoi); err != nil {
			return nil, fmt.Errorf("Union: %w", err)
		}
	}
	return aoi, nil
}

// UnaryUnion merges the polygons in one pass
func UnaryUnion(geoms []*geos.Geometry) (*geos.Geometry, error) {
	aoi, err := geos.NewCollection(geos.MULTIPOLYGON, geoms...)
	if err != nil {
		return nil, fmt.Errorf("UnaryUnion.NewCollection: %w", err)
	}
	if aoi, err = aoi.UnaryUnion(); err != nil {
		return nil, fmt.Errorf("UnaryUnion.UnaryUnion: %w", err)
	}
	return aoi, nil
}
