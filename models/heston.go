package models

import (
	"math"
	"math/cmplx"
)

// HestonParameters holds the five parameters of the Heston (1993)
// stochastic-volatility model.
type HestonParameters struct {
	Kappa float64 // Mean reversion speed of variance
	Theta float64 // Long-term variance
	Sigma float64 // Volatility of variance
	Rho   float64 // Correlation between asset returns and variance
	V0    float64 // Initial variance
}

func NewHestonParameters(kappa, theta, sigma, rho, v0 float64) HestonParameters {
	return HestonParameters{
		Kappa: kappa,
		Theta: theta,
		Sigma: sigma,
		Rho:   rho,
		V0:    v0,
	}
}

// Validate checks the hard parameter domain. The Feller condition is a soft
// invariant and is reported separately by FellerSatisfied.
func (p HestonParameters) Validate() error {
	switch {
	case p.Kappa <= 0:
		return &DomainError{Field: "kappa", Value: p.Kappa}
	case p.Theta <= 0:
		return &DomainError{Field: "theta", Value: p.Theta}
	case p.Sigma <= 0:
		return &DomainError{Field: "sigma", Value: p.Sigma}
	case p.Rho <= -1 || p.Rho >= 1:
		return &DomainError{Field: "rho", Value: p.Rho}
	case p.V0 <= 0:
		return &DomainError{Field: "v0", Value: p.V0}
	}
	return nil
}

// FellerSatisfied reports whether 2*kappa*theta >= sigma^2, the condition
// under which the variance process cannot reach zero. Violating parameter
// sets still price fine through the characteristic function; callers flag
// them rather than reject them.
func (p HestonParameters) FellerSatisfied() bool {
	return 2*p.Kappa*p.Theta >= p.Sigma*p.Sigma
}

// Vector returns the parameters in the fixed optimizer ordering
// [kappa, theta, sigma, rho, v0].
func (p HestonParameters) Vector() []float64 {
	return []float64{p.Kappa, p.Theta, p.Sigma, p.Rho, p.V0}
}

func ParametersFromVector(x []float64) HestonParameters {
	return HestonParameters{Kappa: x[0], Theta: x[1], Sigma: x[2], Rho: x[3], V0: x[4]}
}

// rootBranch tags one of the two algebraically equivalent formulations of
// the complex square root inside the Heston characteristic function. The
// principal branch of the root is discontinuous in the integration frequency
// for some parameter regions ("little Heston trap"); exactly one of the two
// formulations keeps |G| <= 1 and the argument of the complex log continuous.
type rootBranch int

const (
	naturalBranch rootBranch = iota
	reciprocalBranch
)

// selectBranch picks the branch whose ratio G stays inside the unit disk.
func selectBranch(beta, d complex128) rootBranch {
	if cmplx.Abs(beta-d) <= cmplx.Abs(beta+d) {
		return reciprocalBranch
	}
	return naturalBranch
}

// CharacteristicFunction evaluates the Heston characteristic function for
// probability phase 1 or 2 at complex frequency u. Each phase carries its
// own drift coefficients per the standard two-phase formulation.
//
// On the reciprocal branch, beta-d is computed as psi/(beta+d),
// which removes the catastrophic cancellation that otherwise destroys the
// sigma -> 0 deterministic-variance limit.
func CharacteristicFunction(u complex128, phase int, p HestonParameters, spot, maturity, rate, carry float64) complex128 {
	var uj, b float64
	if phase == 1 {
		uj = 0.5
		b = p.Kappa - p.Rho*p.Sigma
	} else {
		uj = -0.5
		b = p.Kappa
	}

	iu := complex(0, 1) * u
	a := p.Kappa * p.Theta
	sigma2 := p.Sigma * p.Sigma

	beta := complex(b, 0) - complex(p.Rho*p.Sigma, 0)*iu
	psi := complex(sigma2, 0) * (complex(2*uj, 0)*iu - u*u)
	d := cmplx.Sqrt(beta*beta - psi)

	// bmd is beta minus the signed root; G = bmd / (beta plus the signed root).
	var bmd, g, ds complex128
	if selectBranch(beta, d) == reciprocalBranch {
		bmd = psi / (beta + d)
		g = bmd / (beta + d)
		ds = d
	} else {
		bmd = beta + d
		g = bmd / (beta - d)
		ds = -d
	}

	t := complex(maturity, 0)
	e := cmplx.Exp(-ds * t)
	cTerm := iu*complex((rate-carry)*maturity, 0) +
		complex(a/sigma2, 0)*(bmd*t-2*cmplx.Log((1-g*e)/(1-g)))
	dTerm := bmd / complex(sigma2, 0) * (1 - e) / (1 - g*e)

	return cmplx.Exp(cTerm + dTerm*complex(p.V0, 0) + iu*complex(math.Log(spot), 0))
}
