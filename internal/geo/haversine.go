package geo

import (
	"fmt"
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points on a
// spherical Earth, using the same arc-cosine form the SQL predicate emits.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	arg := math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Cos(lon2*rad-lon1*rad) +
		math.Sin(lat1*rad)*math.Sin(lat2*rad)
	// float error can push coincident or antipodal points just outside
	// acos's domain
	if arg > 1 {
		arg = 1
	} else if arg < -1 {
		arg = -1
	}
	return earthRadiusKm * math.Acos(arg)
}

// SQLCondition renders the proximity filter as a SQL boolean expression over
// the given latitude/longitude columns. The synthesizer injects this text
// verbatim; it must stay a single self-contained expression with no
// placeholders.
func (ref *Reference) SQLCondition(latCol, lonCol string) string {
	lat := strconv.FormatFloat(ref.Lat, 'f', -1, 64)
	lon := strconv.FormatFloat(ref.Lon, 'f', -1, 64)
	radius := strconv.FormatFloat(ref.RadiusKm, 'f', -1, 64)
	return fmt.Sprintf(
		"(%v * acos(cos(radians(%s)) * cos(radians(%s)) * cos(radians(%s) - radians(%s)) + sin(radians(%s)) * sin(radians(%s)))) <= %s",
		earthRadiusKm, lat, latCol, lonCol, lon, lat, latCol, radius)
}
