// Package transform converts between the celestial and site-local frames
// used to point the antenna at a sky target.
//
// Celestial positions are taken in an Earth-centred equatorial frame
// (mean equator and equinox of date) and rotated into ECEF with GMST
// alone. Precession, nutation and polar motion are ignored; the error is
// far below the antenna's beamwidth.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// Vector is a Cartesian position.
type Vector struct {
	X, Y, Z float64
}

// Norm returns the vector length.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Scale multiplies every component by k.
func (v Vector) Scale(k float64) Vector {
	return Vector{v.X * k, v.Y * k, v.Z * k}
}

// EquatorialToECEF rotates an equatorial position into ECEF at the given
// UTC time. Units are preserved.
func EquatorialToECEF(eq Vector, t time.Time) Vector {
	return EquatorialToECEFWithGMST(eq, GMST(t))
}

// EquatorialToECEFWithGMST applies r_ECEF = R3(θ) * r_EQ using a
// precomputed GMST angle θ (radians).
func EquatorialToECEFWithGMST(eq Vector, gmst float64) Vector {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)
	return Vector{
		X: eq.X*cosG + eq.Y*sinG,
		Y: -eq.X*sinG + eq.Y*cosG,
		Z: eq.Z,
	}
}

// FromRADec returns the equatorial position at distance r for right
// ascension ra and declination dec (radians).
func FromRADec(ra, dec, r float64) Vector {
	cosDec := math.Cos(dec)
	return Vector{
		X: r * cosDec * math.Cos(ra),
		Y: r * cosDec * math.Sin(ra),
		Z: r * math.Sin(dec),
	}
}
