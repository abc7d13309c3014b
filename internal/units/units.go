// Package units holds the physical constants and the pure conversions
// between kinetic energy, Lorentz factors, momentum and phases.
//
// Energies are in MeV, lengths in m, frequencies in MHz and angles in rad.
// Degrees only appear at input/output boundaries.
package units

import (
	"fmt"
	"math"

	"github.com/san-kum/linacsim/internal/dynamo"
)

const (
	// C is the speed of light in m/s.
	C = 2.99792458e8

	// ProtonRestEnergy in MeV.
	ProtonRestEnergy = 938.27203

	TwoPi = 2 * math.Pi
)

func checkRest(eRest float64) error {
	if !(eRest > 0) {
		return fmt.Errorf("%w: rest energy must be positive, got %g", dynamo.ErrDomain, eRest)
	}
	return nil
}

// GammaFromKinetic returns the Lorentz gamma of a particle of kinetic energy
// wKin and rest energy eRest.
func GammaFromKinetic(wKin, eRest float64) (float64, error) {
	if err := checkRest(eRest); err != nil {
		return math.NaN(), err
	}
	return 1. + wKin/eRest, nil
}

// KineticFromGamma is the inverse of GammaFromKinetic.
func KineticFromGamma(gamma, eRest float64) (float64, error) {
	if err := checkRest(eRest); err != nil {
		return math.NaN(), err
	}
	return (gamma - 1.) * eRest, nil
}

// BetaFromGamma fails with ErrDomain when gamma < 1.
func BetaFromGamma(gamma float64) (float64, error) {
	if !(gamma >= 1.) {
		return math.NaN(), fmt.Errorf("%w: gamma=%g yields an imaginary beta", dynamo.ErrDomain, gamma)
	}
	return math.Sqrt(1. - 1./(gamma*gamma)), nil
}

func GammaFromBeta(beta float64) (float64, error) {
	if !(beta >= 0. && beta < 1.) {
		return math.NaN(), fmt.Errorf("%w: beta=%g outside [0, 1)", dynamo.ErrDomain, beta)
	}
	return 1. / math.Sqrt(1.-beta*beta), nil
}

// BetaFromKinetic chains GammaFromKinetic and BetaFromGamma.
func BetaFromKinetic(wKin, eRest float64) (float64, error) {
	gamma, err := GammaFromKinetic(wKin, eRest)
	if err != nil {
		return math.NaN(), err
	}
	return BetaFromGamma(gamma)
}

func KineticFromBeta(beta, eRest float64) (float64, error) {
	gamma, err := GammaFromBeta(beta)
	if err != nil {
		return math.NaN(), err
	}
	return KineticFromGamma(gamma, eRest)
}

// MomentumFromKinetic returns p·c in MeV.
func MomentumFromKinetic(wKin, eRest float64) (float64, error) {
	if err := checkRest(eRest); err != nil {
		return math.NaN(), err
	}
	if wKin < 0 {
		return math.NaN(), fmt.Errorf("%w: negative kinetic energy %g", dynamo.ErrDomain, wKin)
	}
	return math.Sqrt(wKin * (wKin + 2.*eRest)), nil
}

func KineticFromMomentum(pc, eRest float64) (float64, error) {
	if err := checkRest(eRest); err != nil {
		return math.NaN(), err
	}
	return math.Sqrt(pc*pc+eRest*eRest) - eRest, nil
}

// Omega converts a frequency in MHz to a pulsation in rad/s.
func Omega(freqMHz float64) float64 {
	return TwoPi * freqMHz * 1e6
}

// Wavelength in m of a wave of frequency freqMHz.
func Wavelength(freqMHz float64) float64 {
	return C / (freqMHz * 1e6)
}

// RFToBunch converts a phase expressed at the cavity frequency to the bunch
// frequency.
func RFToBunch(phiRF, fBunchMHz, fRFMHz float64) float64 {
	return phiRF * fBunchMHz / fRFMHz
}

func BunchToRF(phiBunch, fBunchMHz, fRFMHz float64) float64 {
	return phiBunch * fRFMHz / fBunchMHz
}

func Deg(rad float64) float64 { return rad * 180. / math.Pi }

func Rad(deg float64) float64 { return deg * math.Pi / 180. }

// Mod2Pi maps phi into [0, 2π).
func Mod2Pi(phi float64) float64 {
	r := math.Mod(phi, TwoPi)
	if r < 0 {
		r += TwoPi
	}
	return r
}

// WrapPi maps phi into [-π, π).
func WrapPi(phi float64) float64 {
	return Mod2Pi(phi+math.Pi) - math.Pi
}
