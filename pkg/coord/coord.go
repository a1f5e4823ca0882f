// Package coord implements the pure coordinate arithmetic that combines a
// GPS fix with a relative acoustic fix: degrees/degrees-minutes conversion,
// latitude-dependent metres-per-degree, and the RMC+RTH combiner.
package coord

import (
	"fmt"
	"math"

	"github.com/tzneal/coordconv"

	"github.com/bramburn/usbl-relay/pkg/nmea"
)

// DegreesToSDM splits signed decimal degrees into a sign, whole-degree
// count, and fractional minutes such that
//
//	(positive ? 1 : -1) * (float64(degrees) + minutes/60) == signed
//
// to within floating-point tolerance, with 0 <= minutes < 60.
func DegreesToSDM(signed float64) (positive bool, degrees int, minutes float64) {
	unsigned := math.Abs(signed)
	positive = signed >= 0
	degrees = int(unsigned)
	minutes = (unsigned - float64(degrees)) * 60
	return positive, degrees, minutes
}

// MetersPerDegree returns the length, in metres, of one degree of latitude
// and one degree of longitude at the given latitude. phiDeg is in decimal
// degrees. The series is the standard WGS84 length-of-a-degree
// approximation; despite the name its counterpart in the source project
// ("lat_long_per_meter"), the constants here only make sense as metres per
// degree, not the reciprocal.
func MetersPerDegree(phiDeg float64) (metersPerDegLat, metersPerDegLon float64) {
	phi := phiDeg * math.Pi / 180
	metersPerDegLat = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
	metersPerDegLon = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
	return metersPerDegLat, metersPerDegLon
}

// latHemisphere and lonHemisphere translate a DegreesToSDM sign into the
// coordconv hemisphere enum, mirroring how the doismellburning-samoyed code
// (in the wider retrieval pack) bridges NMEA hemisphere letters to
// coordconv's Hemisphere type rather than juggling bare "N"/"S" strings.
func latHemisphere(positive bool) coordconv.Hemisphere {
	if positive {
		return coordconv.HemisphereNorth
	}
	return coordconv.HemisphereSouth
}

func lonHemisphere(positive bool) coordconv.Hemisphere {
	if positive {
		return coordconv.HemisphereEast
	}
	return coordconv.HemisphereWest
}

func hemisphereLetter(h coordconv.Hemisphere) string {
	switch h {
	case coordconv.HemisphereNorth:
		return "N"
	case coordconv.HemisphereSouth:
		return "S"
	case coordconv.HemisphereEast:
		return "E"
	case coordconv.HemisphereWest:
		return "W"
	default:
		return ""
	}
}

// Combine projects an RTH relative acoustic fix onto an RMC absolute fix
// and returns a new synthetic RMC for the transponder's absolute position.
// The bearing convention is fixed: 0 degrees is north, 90 degrees is east,
// so Δnorth = cos(cb)*horizontalRange and Δeast = sin(cb)*horizontalRange.
func Combine(rmc nmea.RMC, rth nmea.RTH) (nmea.RMC, error) {
	if len(rmc.Fields) < 11 {
		return nmea.RMC{}, fmt.Errorf("coord: rmc has %d fields, need at least 11", len(rmc.Fields))
	}

	horizontalRange := rth.SlantRange * math.Cos(rth.TrueElevation*math.Pi/180)
	metersPerDegLat, metersPerDegLon := MetersPerDegree(rmc.Latitude)

	bearingRad := rth.CompassBearing * math.Pi / 180
	deltaLatDeg := horizontalRange * math.Cos(bearingRad) / metersPerDegLat
	deltaLonDeg := horizontalRange * math.Sin(bearingRad) / metersPerDegLon

	newLat := rmc.Latitude + deltaLatDeg
	newLon := rmc.Longitude + deltaLonDeg

	latPositive, latDeg, latMin := DegreesToSDM(newLat)
	lonPositive, lonDeg, lonMin := DegreesToSDM(newLon)

	latField := fmt.Sprintf("%02d%08.5f", latDeg, latMin)
	lonField := fmt.Sprintf("%03d%08.5f", lonDeg, lonMin)

	fields := make([]string, 0, len(rmc.Fields))
	fields = append(fields, rmc.Fields[0], rmc.Fields[1])
	fields = append(fields, latField, hemisphereLetter(latHemisphere(latPositive)))
	fields = append(fields, lonField, hemisphereLetter(lonHemisphere(lonPositive)))
	fields = append(fields, "", "") // speed, course: cleared per the wire format
	fields = append(fields, rmc.Fields[8:]...)

	return nmea.RMC{
		Fields:    fields,
		Latitude:  newLat,
		Longitude: newLon,
		Valid:     rmc.Valid,
	}, nil
}
