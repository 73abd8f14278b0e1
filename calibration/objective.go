package calibration

import (
	"math"

	"github.com/stochvol/hestonfit/models"
	"github.com/stochvol/hestonfit/surface"
)

// penaltyObjective replaces the loss whenever a candidate produces a
// non-finite model price. Large but finite, so the optimizer steps away from
// the bad region instead of being corrupted by NaN/Inf.
const penaltyObjective = 1e10

// objective is the vega-weighted price loss shared by both stages. Quote
// order, targets and weights are fixed at construction, so candidate
// evaluation is deterministic and independent of the candidate itself.
type objective struct {
	pricer  *models.HestonPricer
	quotes  []surface.MarketQuote
	targets []float64 // mid prices
	midIVs  []float64 // NaN where inversion failed
	weights []float64 // 1 / max(vega at mid IV, floor)
	onEval  func()
}

func newObjective(s *surface.Surface, cfg Config) (*objective, error) {
	pricer, err := models.NewHestonPricer(cfg.Quadrature.NodeCount, cfg.Quadrature.Damping)
	if err != nil {
		return nil, err
	}

	quotes := s.Quotes()
	o := &objective{
		pricer:  pricer,
		quotes:  quotes,
		targets: make([]float64, len(quotes)),
		onEval:  cfg.OnEvaluation,
	}
	for i, q := range quotes {
		o.targets[i] = q.Mid()
	}
	o.midIVs, o.weights = quoteWeights(quotes)
	return o, nil
}

// quoteWeights precomputes each quote's mid implied vol and loss weight.
// Weights use the quote's own mid implied vol, never the candidate model
// vol, so the weighting does not move with the search. A quote whose mid
// cannot be inverted gets the largest weight among inverted quotes rather
// than the floor-driven maximum, so one degenerate quote cannot dominate
// the loss.
func quoteWeights(quotes []surface.MarketQuote) (midIVs, weights []float64) {
	midIVs = make([]float64, len(quotes))
	weights = make([]float64, len(quotes))
	maxWeight := 0.0
	var failed []int
	for i, q := range quotes {
		midIV, err := q.MidImpliedVol()
		if err != nil {
			midIVs[i] = math.NaN()
			failed = append(failed, i)
			continue
		}
		midIVs[i] = midIV
		vega, err := models.BSVega(q.Spot, q.Strike, q.Maturity, q.Rate, q.Carry, midIV)
		if err != nil {
			vega = models.VegaFloor
		}
		weights[i] = 1 / vega
		if weights[i] > maxWeight {
			maxWeight = weights[i]
		}
	}
	if maxWeight == 0 {
		maxWeight = 1 / models.VegaFloor
	}
	for _, i := range failed {
		weights[i] = maxWeight
	}
	return midIVs, weights
}

// loss is the mean vega-weighted squared price error over all quotes in the
// surface, all maturities and strikes jointly. Summation order follows the
// fixed surface order.
func (o *objective) loss(p models.HestonParameters) float64 {
	if o.onEval != nil {
		o.onEval()
	}
	sum := 0.0
	for i := range o.quotes {
		q := o.quotes[i]
		model, err := o.pricer.Price(p, q.Spot, q.Strike, q.Maturity, q.Rate, q.Carry, q.Type)
		if err != nil || math.IsNaN(model) || math.IsInf(model, 0) {
			return penaltyObjective
		}
		d := (model - o.targets[i]) * o.weights[i]
		sum += d * d
	}
	return sum / float64(len(o.quotes))
}

func (o *objective) lossVector(x []float64) float64 {
	return o.loss(models.ParametersFromVector(x))
}
