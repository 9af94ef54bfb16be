package geo

import (
	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
)

// PointGeoJSON encodes a point as a GeoJSON Point geometry.
func PointGeoJSON(p Point) ([]byte, error) {
	return gjson.Marshal(geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}))
}

// ZoneFeature encodes a circular zone as a GeoJSON Feature: a Point geometry
// carrying the radius and name as properties, which map clients render as a circle.
func ZoneFeature(name string, center Point, radiusMeters float64, version int64) ([]byte, error) {
	f := &gjson.Feature{
		Geometry: geom.NewPointFlat(geom.XY, []float64{center.Lon, center.Lat}),
		Properties: map[string]interface{}{
			"name":          name,
			"radius_meters": radiusMeters,
			"version":       version,
		},
	}
	return f.MarshalJSON()
}

// TrackGeoJSON encodes an ordered list of points as a LineString Feature.
// A single point is encoded as a Point geometry; an empty track has a nil geometry.
func TrackGeoJSON(points []Point, properties map[string]interface{}) ([]byte, error) {
	f := &gjson.Feature{Properties: properties}
	switch len(points) {
	case 0:
	case 1:
		f.Geometry = geom.NewPointFlat(geom.XY, []float64{points[0].Lon, points[0].Lat})
	default:
		flat := make([]float64, 0, 2*len(points))
		for _, p := range points {
			flat = append(flat, p.Lon, p.Lat)
		}
		f.Geometry = geom.NewLineStringFlat(geom.XY, flat)
	}
	return f.MarshalJSON()
}
