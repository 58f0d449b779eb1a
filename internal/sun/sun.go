// Package sun computes the sun's apparent position from the radar site
// and steers the antenna toward it while the simulator is in follow_sun
// mode.
package sun

import (
	"math"
	"time"

	"github.com/star/radarsim/internal/transform"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi

	astronomicalUnit = 1.495978707e11 // meters
)

// Position is the sun's location as seen from a site.
type Position struct {
	Time           time.Time `json:"time"`
	Azimuth        float64   `json:"azimuth"`   // deg, clockwise from North
	Elevation      float64   `json:"elevation"` // deg above the horizon
	RightAscension float64   `json:"right_ascension"`
	Declination    float64   `json:"declination"`
	DistanceAU     float64   `json:"distance_au"`
}

// Equatorial returns the sun's right ascension and declination (radians)
// and distance (AU) at t, from the low-precision formulae of the
// Astronomical Almanac. Accuracy is about 0.01 degrees through 2050.
func Equatorial(t time.Time) (ra, dec, distAU float64) {
	n := transform.DaysSinceJ2000(t)

	L := math.Mod(280.460+0.9856474*n, 360)           // mean longitude
	g := math.Mod(357.528+0.9856003*n, 360) * deg2rad // mean anomaly
	lambda := (L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)) * deg2rad
	eps := (23.439 - 0.0000004*n) * deg2rad

	ra = math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda))
	if ra < 0 {
		ra += 2 * math.Pi
	}
	dec = math.Asin(math.Sin(eps) * math.Sin(lambda))
	distAU = 1.00014 - 0.01671*math.Cos(g) - 0.00014*math.Cos(2*g)
	return ra, dec, distAU
}

// At returns the sun's position as seen from site at time t.
func At(site transform.Site, t time.Time) Position {
	ra, dec, distAU := Equatorial(t)
	eq := transform.FromRADec(ra, dec, distAU*astronomicalUnit)
	la := site.LookAt(transform.EquatorialToECEF(eq, t))

	return Position{
		Time:           t.UTC(),
		Azimuth:        la.AzimuthDeg,
		Elevation:      la.ElevationDeg,
		RightAscension: ra * rad2deg,
		Declination:    dec * rad2deg,
		DistanceAU:     distAU,
	}
}
