package models

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

const (
	// VegaFloor is the minimum vega returned by BSVega. Vega is used as a
	// weighting denominator during calibration, so it must stay strictly
	// positive even for deep ITM/OTM strikes.
	VegaFloor = 1e-8

	ivMaxIterations  = 100
	ivTolerance      = 1e-10
	ivBracketLow     = 1e-4
	ivBracketHigh    = 0.5
	maxBracketGrowth = 32
)

var stdNormal = distuv.UnitNormal

func checkBSDomain(spot, strike, maturity, vol float64) error {
	switch {
	case maturity <= 0:
		return &DomainError{Field: "maturity", Value: maturity}
	case vol < 0:
		return &DomainError{Field: "vol", Value: vol}
	case spot <= 0:
		return &DomainError{Field: "spot", Value: spot}
	case strike <= 0:
		return &DomainError{Field: "strike", Value: strike}
	}
	return nil
}

// BSPrice returns the Black-Scholes price of a European option with a
// continuous carry rate (dividend/repo yield).
func BSPrice(spot, strike, maturity, rate, carry, vol float64, optionType OptionType) (float64, error) {
	if err := checkBSDomain(spot, strike, maturity, vol); err != nil {
		return 0, err
	}

	fwdSpot := spot * math.Exp(-carry*maturity)
	discStrike := strike * math.Exp(-rate*maturity)

	if vol == 0 {
		// Deterministic limit
		if optionType == Call {
			return math.Max(fwdSpot-discStrike, 0), nil
		}
		return math.Max(discStrike-fwdSpot, 0), nil
	}

	sqT := vol * math.Sqrt(maturity)
	d1 := (math.Log(spot/strike) + (rate-carry+0.5*vol*vol)*maturity) / sqT
	d2 := d1 - sqT

	if optionType == Call {
		return fwdSpot*stdNormal.CDF(d1) - discStrike*stdNormal.CDF(d2), nil
	}
	return discStrike*stdNormal.CDF(-d2) - fwdSpot*stdNormal.CDF(-d1), nil
}

// BSVega returns the Black-Scholes vega, floored at VegaFloor. Vega is the
// same for calls and puts.
func BSVega(spot, strike, maturity, rate, carry, vol float64) (float64, error) {
	if err := checkBSDomain(spot, strike, maturity, vol); err != nil {
		return 0, err
	}
	if vol == 0 {
		return VegaFloor, nil
	}

	d1 := (math.Log(spot/strike) + (rate-carry+0.5*vol*vol)*maturity) / (vol * math.Sqrt(maturity))
	vega := spot * math.Exp(-carry*maturity) * stdNormal.Prob(d1) * math.Sqrt(maturity)
	if vega < VegaFloor || math.IsNaN(vega) {
		return VegaFloor, nil
	}
	return vega, nil
}

// ImpliedVol inverts BSPrice for the vol matching targetPrice using Brent's
// method. The initial bracket [ivBracketLow, ivBracketHigh] is expanded by
// doubling the upper bound until the bracket straddles the target, up to
// maxBracketGrowth expansions.
func ImpliedVol(targetPrice, spot, strike, maturity, rate, carry float64, optionType OptionType) (float64, error) {
	if err := checkBSDomain(spot, strike, maturity, 0); err != nil {
		return 0, err
	}

	f := func(vol float64) float64 {
		p, err := BSPrice(spot, strike, maturity, rate, carry, vol, optionType)
		if err != nil {
			return math.NaN()
		}
		return p - targetPrice
	}

	lo, hi := ivBracketLow, ivBracketHigh
	fLo, fHi := f(lo), f(hi)
	for i := 0; fLo*fHi > 0 && i < maxBracketGrowth; i++ {
		hi *= 2
		fHi = f(hi)
	}
	if fLo*fHi > 0 || math.IsNaN(fLo) || math.IsNaN(fHi) {
		return 0, &RootBracketFailure{Target: targetPrice, Low: lo, High: hi}
	}

	return brent(f, lo, hi, fLo, fHi)
}

// brent is the standard Brent root-finder: inverse quadratic interpolation
// with secant and bisection safeguards, guaranteed to stay bracketed. The
// step-halving conditions force a bisection whenever interpolation stops
// shrinking the bracket fast enough, which matters for the flat-vega region
// of deep ITM/OTM options.
func brent(f func(float64) float64, a, b, fa, fb float64) (float64, error) {
	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}
	c, fc := a, fa
	var d float64
	bisected := true

	for i := 0; i < ivMaxIterations; i++ {
		tol := 2 * ivTolerance * math.Max(math.Abs(b), 1)
		if fb == 0 || math.Abs(b-a) < tol {
			return b, nil
		}

		var s float64
		if fa != fc && fb != fc {
			// Inverse quadratic interpolation
			s = a*fb*fc/((fa-fb)*(fa-fc)) +
				b*fa*fc/((fb-fa)*(fb-fc)) +
				c*fa*fb/((fc-fa)*(fc-fb))
		} else {
			// Secant step
			s = b - fb*(b-a)/(fb-fa)
		}

		bisect := math.IsNaN(s) || math.IsInf(s, 0) ||
			(s-(3*a+b)/4)*(s-b) >= 0 ||
			(bisected && math.Abs(s-b) >= math.Abs(b-c)/2) ||
			(!bisected && math.Abs(s-b) >= math.Abs(c-d)/2) ||
			(bisected && math.Abs(b-c) < tol) ||
			(!bisected && math.Abs(c-d) < tol)
		if bisect {
			s = 0.5 * (a + b)
		}
		bisected = bisect

		fs := f(s)
		d = c
		c, fc = b, fb
		if fa*fs < 0 {
			b, fb = s, fs
		} else {
			a, fa = s, fs
		}
		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}
	return 0, &RootNotConverged{Iterations: ivMaxIterations, LastVol: b}
}
