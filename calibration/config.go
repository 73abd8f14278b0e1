// Package calibration fits Heston parameters to an observed implied-vol
// surface: a Differential Evolution global search over a bounded box,
// polished by an L-BFGS local refinement, under a vega-weighted price loss.
package calibration

import (
	"github.com/stochvol/hestonfit/models"
)

// QuadratureConfig controls the pricer used inside the objective.
type QuadratureConfig struct {
	NodeCount int     // Gauss-Laguerre nodes; 0 selects models.DefaultNodeCount
	Damping   float64 // node rescale factor; 0 selects models.DefaultDamping
}

// DEConfig controls the Differential Evolution global stage.
type DEConfig struct {
	PopulationSize       uint
	MaxGenerations       uint
	MutationFactor       float64
	MutationDither       float64 // +/- half-width applied to MutationFactor per restart
	CrossoverProbability float64
	ConvergenceTolerance float64 // absolute best-objective improvement considered progress
	MinRelImprovement    float64 // relative improvement considered progress
	Patience             int     // stale generations before a run stops and counts as converged
	Restarts             int     // independent runs, best optimum kept; values below 1 mean one run
	Seed                 uint64
}

// RefineConfig controls the L-BFGS local refinement stage.
type RefineConfig struct {
	MaxIterations     int
	GradientTolerance float64
}

// Interval is a closed [Low, High] range for one parameter.
type Interval struct {
	Low  float64
	High float64
}

func (iv Interval) clip(x float64) float64 {
	if x < iv.Low {
		return iv.Low
	}
	if x > iv.High {
		return iv.High
	}
	return x
}

// Bounds is the per-parameter search box.
type Bounds struct {
	Kappa Interval
	Theta Interval
	Sigma Interval
	Rho   Interval
	V0    Interval
}

// DefaultBounds covers typical equity-index regimes.
func DefaultBounds() Bounds {
	return Bounds{
		Kappa: Interval{1e-2, 15},
		Theta: Interval{1e-4, 1},
		Sigma: Interval{1e-2, 2},
		Rho:   Interval{-0.95, 0.5},
		V0:    Interval{1e-4, 1},
	}
}

func (b Bounds) intervals() [5]Interval {
	return [5]Interval{b.Kappa, b.Theta, b.Sigma, b.Rho, b.V0}
}

// Clip projects a parameter vector onto the box.
func (b Bounds) Clip(x []float64) []float64 {
	ivs := b.intervals()
	out := make([]float64, len(x))
	for i := range x {
		out[i] = ivs[i].clip(x[i])
	}
	return out
}

// FromUnit maps a point in the unit box [0,1]^5 into the bounds box. The DE
// stage searches the unit box so per-parameter bounds stay a pure mapping.
func (b Bounds) FromUnit(u []float64) []float64 {
	ivs := b.intervals()
	out := make([]float64, len(u))
	for i := range u {
		out[i] = ivs[i].clip(ivs[i].Low + u[i]*(ivs[i].High-ivs[i].Low))
	}
	return out
}

// Config is the full calibration configuration. Search state lives in
// explicit values passed between stages; nothing here is process-global.
type Config struct {
	Quadrature QuadratureConfig
	DE         DEConfig
	Refine     RefineConfig
	Bounds     Bounds

	// Verbose enables per-generation/iteration progress lines.
	Verbose bool
	// OnEvaluation, when set, is called once per objective evaluation.
	// Hook for progress bars; must be cheap.
	OnEvaluation func()
}

// DefaultConfig carries hyperparameters that recover clean synthetic
// surfaces reliably, with the population sized at 15x dimension.
func DefaultConfig() Config {
	return Config{
		Quadrature: QuadratureConfig{NodeCount: models.DefaultNodeCount, Damping: models.DefaultDamping},
		DE: DEConfig{
			PopulationSize:       75, // 15 * dim
			MaxGenerations:       100,
			MutationFactor:       0.55,
			MutationDither:       0.25, // factor drawn from (0.3, 0.8) per restart
			CrossoverProbability: 0.9,
			ConvergenceTolerance: 1e-6,
			MinRelImprovement:    1e-5,
			Patience:             8,
			Restarts:             2,
			Seed:                 7,
		},
		Refine: RefineConfig{
			MaxIterations:     100,
			GradientTolerance: 1e-8,
		},
		Bounds: DefaultBounds(),
	}
}
