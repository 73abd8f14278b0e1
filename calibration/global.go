package calibration

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/MaxHalford/eaopt"

	"github.com/stochvol/hestonfit/models"
)

// GlobalSearchResult is the typed outcome of the Differential Evolution
// stage.
type GlobalSearchResult struct {
	Params      models.HestonParameters
	Objective   float64
	Generations uint
	Converged   bool
}

// globalSearch runs Differential Evolution over the unit box mapped into the
// parameter bounds: Restarts independent runs, each with a mutation factor
// dithered around MutationFactor, keeping the best optimum found. Box
// constraints only: Feller-violating members stay in the population, the
// objective itself penalizes poor fits.
//
// Convergence is stall-based: a generation counts as progress only if the
// best objective improves by more than the configured relative or absolute
// threshold, and a run stops early once Patience stale generations
// accumulate.
func globalSearch(obj *objective, cfg Config) (GlobalSearchResult, error) {
	restarts := cfg.DE.Restarts
	if restarts < 1 {
		restarts = 1
	}
	rng := rand.New(rand.NewSource(int64(cfg.DE.Seed)))

	unitLoss := func(u []float64) float64 {
		return obj.lossVector(cfg.Bounds.FromUnit(u))
	}

	start := time.Now()
	out := GlobalSearchResult{Objective: math.Inf(1)}
	for run := 0; run < restarts; run++ {
		mutation := cfg.DE.MutationFactor
		if cfg.DE.MutationDither > 0 {
			mutation += cfg.DE.MutationDither * (2*rng.Float64() - 1)
		}
		de, err := eaopt.NewDiffEvo(
			cfg.DE.PopulationSize, cfg.DE.MaxGenerations,
			0, 1,
			cfg.DE.CrossoverProbability, mutation,
			false,
			rand.New(rand.NewSource(int64(rng.Uint64()))),
		)
		if err != nil {
			return GlobalSearchResult{}, fmt.Errorf("differential evolution setup: %w", err)
		}

		best := math.Inf(1)
		stale := 0
		generations := uint(0)
		de.GA.Callback = func(ga *eaopt.GA) {
			generations++
			cur := ga.HallOfFame[0].Fitness
			relImpr := (best - cur) / math.Max(math.Abs(best), 1e-12)
			if cur < best && (relImpr > cfg.DE.MinRelImprovement || best-cur > cfg.DE.ConvergenceTolerance) {
				best = cur
				stale = 0
			} else {
				stale++
			}
			if cfg.Verbose {
				fmt.Printf("DE run %d generation %3d - Elapsed: %.2f ms - Loss: %.6e - Stale: %d\n",
					run+1, generations, float64(time.Since(start).Microseconds())/1000, cur, stale)
			}
		}
		de.GA.EarlyStop = func(ga *eaopt.GA) bool {
			return cfg.DE.Patience > 0 && stale >= cfg.DE.Patience
		}

		u, y, err := de.Minimize(unitLoss, 5)
		if err != nil {
			return GlobalSearchResult{}, fmt.Errorf("differential evolution: %w", err)
		}

		out.Generations += generations
		if y < out.Objective {
			out.Params = models.ParametersFromVector(cfg.Bounds.FromUnit(u))
			out.Objective = y
			out.Converged = stale >= cfg.DE.Patience
		}
	}
	return out, nil
}
