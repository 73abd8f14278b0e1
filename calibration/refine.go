package calibration

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/stochvol/hestonfit/models"
)

// interiorMargin keeps transformed seeds strictly inside the box: the
// sine-squared map has a vanishing derivative exactly at the bounds, so a
// seed pinned there would start with a zero gradient.
const interiorMargin = 1e-3

// LocalRefinementResult is the typed outcome of the L-BFGS stage.
type LocalRefinementResult struct {
	Params     models.HestonParameters
	Objective  float64
	Iterations int
	Converged  bool
}

// localRefine polishes the global-stage optimum with L-BFGS under the same
// bounds. The search runs in unconstrained coordinates through the smooth
// map x = low + (high-low)*sin^2(z), so every iterate lies inside the box
// and the objective stays differentiable even where the optimum sits on a
// bound. Gradients come from finite differences of the transformed
// objective. A refinement failure never aborts calibration: the seed is
// returned with Converged set to false.
func localRefine(obj *objective, seed []float64, seedObjective float64, cfg Config) LocalRefinementResult {
	ivs := cfg.Bounds.intervals()
	fromZ := func(z []float64) []float64 {
		x := make([]float64, len(z))
		for i := range z {
			s := math.Sin(z[i])
			x[i] = ivs[i].Low + (ivs[i].High-ivs[i].Low)*s*s
		}
		return x
	}
	toZ := func(x []float64) []float64 {
		z := make([]float64, len(x))
		for i := range x {
			t := (x[i] - ivs[i].Low) / (ivs[i].High - ivs[i].Low)
			if t < interiorMargin {
				t = interiorMargin
			}
			if t > 1-interiorMargin {
				t = 1 - interiorMargin
			}
			z[i] = math.Asin(math.Sqrt(t))
		}
		return z
	}
	boxed := func(z []float64) float64 {
		return obj.lossVector(fromZ(z))
	}

	start := time.Now()
	iteration := 0
	problem := optimize.Problem{
		Func: boxed,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, boxed, z, nil)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   cfg.Refine.MaxIterations,
		GradientThreshold: cfg.Refine.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 20,
		},
	}
	if cfg.Verbose {
		settings.Recorder = recorderFunc(func(loc *optimize.Location) {
			iteration++
			fmt.Printf("LBFGS iteration %3d - Elapsed: %.2f ms - Loss: %.6e\n",
				iteration, float64(time.Since(start).Microseconds())/1000, loc.F)
		})
	}

	fallback := LocalRefinementResult{
		Params:    models.ParametersFromVector(cfg.Bounds.Clip(seed)),
		Objective: seedObjective,
	}
	result, err := optimize.Minimize(problem, toZ(cfg.Bounds.Clip(seed)), settings, &optimize.LBFGS{})
	if result == nil || !isFiniteVector(result.X) {
		return fallback
	}

	x := cfg.Bounds.Clip(fromZ(result.X))
	refined := LocalRefinementResult{
		Params:     models.ParametersFromVector(x),
		Objective:  obj.lossVector(x),
		Iterations: result.Stats.MajorIterations,
		Converged: err == nil &&
			(result.Status == optimize.GradientThreshold || result.Status == optimize.FunctionConvergence),
	}
	// Keep the seed if the polish somehow made things worse.
	if math.IsNaN(refined.Objective) || refined.Objective > seedObjective {
		return fallback
	}
	return refined
}

func isFiniteVector(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// recorderFunc adapts a function to optimize.Recorder.
type recorderFunc func(*optimize.Location)

func (recorderFunc) Init() error { return nil }

func (f recorderFunc) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op == optimize.MajorIteration {
		f(loc)
	}
	return nil
}
