package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Site is the radar's location in both geodetic and ECEF frames. ECEF
// coordinates are computed once and reused for every look-angle query.
type Site struct {
	LatRad, LonRad, AltM float64
	ECEF                 Vector // meters
}

// LookAngles holds azimuth, elevation, and range from the site to a target.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewSite creates a Site from latitude and longitude in degrees and
// altitude in meters above the WGS-84 ellipsoid.
func NewSite(latDeg, lonDeg, altM float64) Site {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Site{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEF: Vector{
			X: (N + altM) * cosLat * math.Cos(lon),
			Y: (N + altM) * cosLat * math.Sin(lon),
			Z: (N*(1-wgs84E2) + altM) * sinLat,
		},
	}
}

// LookAt computes azimuth, elevation and range to a target given in ECEF
// meters, through the SEZ (South-East-Zenith) rotation of Vallado 4.4.
func (s Site) LookAt(target Vector) LookAngles {
	rx := target.X - s.ECEF.X
	ry := target.Y - s.ECEF.Y
	rz := target.Z - s.ECEF.Z

	sinLat := math.Sin(s.LatRad)
	cosLat := math.Cos(s.LatRad)
	sinLon := math.Sin(s.LonRad)
	cosLon := math.Cos(s.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)
	el := math.Asin(zenith / rangeMag)

	// North is -South in SEZ.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeKm:      rangeMag / 1000.0,
	}
}
