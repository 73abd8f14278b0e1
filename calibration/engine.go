package calibration

import (
	"math"

	"github.com/stochvol/hestonfit/models"
	"github.com/stochvol/hestonfit/surface"
)

// Calibrate fits Heston parameters to the surface: Differential Evolution
// over cfg.Bounds, then L-BFGS refinement seeded at the global optimum and
// at the surface-derived heuristic guess, keeping the better polish.
//
// The only fatal error is an unusable surface (or broken configuration)
// detected before optimization starts. Once the search is running it always
// produces a Result; non-convergence of either stage is reported through
// the PartialConvergence flag, never as an error.
func Calibrate(s *surface.Surface, cfg Config) (Result, error) {
	if s == nil || s.Len() == 0 {
		return Result{}, &surface.InvalidSurfaceError{Row: -1, Reason: "no quotes to calibrate against"}
	}

	obj, err := newObjective(s, cfg)
	if err != nil {
		return Result{}, err
	}

	// Polish runs from the global optimum and from the surface-derived
	// heuristic; the heuristic seed rescues runs where DE stalls far from
	// the basin. With the global stage disabled only the heuristic remains.
	generations := uint(0)
	globalConverged := true
	seeds := [][]float64{cfg.Bounds.Clip(InitialGuess(s).Vector())}
	if cfg.DE.MaxGenerations > 0 {
		global, err := globalSearch(obj, cfg)
		if err != nil {
			return Result{}, err
		}
		seeds = append(seeds, global.Params.Vector())
		generations = global.Generations
		globalConverged = global.Converged
	}

	refined := LocalRefinementResult{Objective: math.Inf(1)}
	for _, seed := range seeds {
		if r := localRefine(obj, seed, obj.lossVector(seed), cfg); r.Objective < refined.Objective {
			refined = r
		}
	}

	result := Result{
		Params:           refined.Params,
		Objective:        refined.Objective,
		Converged:        globalConverged && refined.Converged,
		FellerSatisfied:  refined.Params.FellerSatisfied(),
		Generations:      generations,
		RefineIterations: refined.Iterations,
		Residuals:        residuals(obj, refined.Params),
	}
	result.PartialConvergence = !result.Converged
	return result, nil
}

// residuals prices every quote at the fitted parameters and reports errors
// in price and implied-vol units. An implied-vol inversion failure degrades
// to a NaN IV residual for that quote only.
func residuals(obj *objective, p models.HestonParameters) []QuoteResidual {
	out := make([]QuoteResidual, len(obj.quotes))
	for i, q := range obj.quotes {
		model, err := obj.pricer.Price(p, q.Spot, q.Strike, q.Maturity, q.Rate, q.Carry, q.Type)
		if err != nil {
			model = math.NaN()
		}

		modelIV := math.NaN()
		if !math.IsNaN(model) {
			if iv, err := models.ImpliedVol(model, q.Spot, q.Strike, q.Maturity, q.Rate, q.Carry, q.Type); err == nil {
				modelIV = iv
			}
		}

		out[i] = QuoteResidual{
			Maturity:   q.Maturity,
			Strike:     q.Strike,
			Type:       q.Type,
			MarketMid:  obj.targets[i],
			ModelPrice: model,
			PriceError: model - obj.targets[i],
			MarketIV:   obj.midIVs[i],
			ModelIV:    modelIV,
			IVError:    modelIV - obj.midIVs[i],
		}
	}
	return out
}

// InitialGuess derives a heuristic seed from the surface itself: v0 as the
// squared ATM implied vol of the shortest tenor, theta equal to v0, and
// typical equity-index values for the remaining parameters.
func InitialGuess(s *surface.Surface) models.HestonParameters {
	v0 := 0.04
	quotes := s.Quotes()
	if len(quotes) > 0 {
		shortest := quotes[0].Maturity
		bestDist := math.Inf(1)
		for _, q := range quotes {
			if q.Maturity != shortest {
				break
			}
			dist := math.Abs(q.Moneyness() - 1)
			if dist < bestDist {
				if iv, err := q.MidImpliedVol(); err == nil {
					bestDist = dist
					v0 = math.Max(1e-6, iv*iv)
				}
			}
		}
	}
	return models.HestonParameters{Kappa: 3, Theta: v0, Sigma: 0.5, Rho: -0.5, V0: v0}
}
