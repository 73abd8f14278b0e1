package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/stochvol/hestonfit/models"
)

// QuoteResidual reports the fit at one quote, in price units and in implied
// vol units. IVError is NaN when the model price cannot be inverted.
type QuoteResidual struct {
	Maturity   float64           `json:"maturity"`
	Strike     float64           `json:"strike"`
	Type       models.OptionType `json:"type"`
	MarketMid  float64           `json:"market_mid"`
	ModelPrice float64           `json:"model_price"`
	PriceError float64           `json:"price_error"` // model - market mid
	MarketIV   float64           `json:"market_iv"`
	ModelIV    float64           `json:"model_iv"`
	IVError    float64           `json:"iv_error"`
}

// Result is the immutable outcome of one calibration run. Non-convergence
// is not an error: the best parameters found are always present, with
// PartialConvergence set when either stage stopped short.
type Result struct {
	Params             models.HestonParameters `json:"params"`
	Objective          float64                 `json:"objective"`
	Converged          bool                    `json:"converged"`
	PartialConvergence bool                    `json:"partial_convergence"`
	FellerSatisfied    bool                    `json:"feller_satisfied"`
	Generations        uint                    `json:"generations"`
	RefineIterations   int                     `json:"refine_iterations"`
	Residuals          []QuoteResidual         `json:"residuals"`
}

// PriceRMSE is the root mean squared price error across all quotes.
func (r Result) PriceRMSE() float64 {
	if len(r.Residuals) == 0 {
		return 0
	}
	errs := make([]float64, len(r.Residuals))
	for i, res := range r.Residuals {
		errs[i] = res.PriceError
	}
	return math.Sqrt(floats.Dot(errs, errs) / float64(len(errs)))
}

// IVRMSE is the root mean squared implied-vol error, skipping quotes whose
// model price could not be inverted.
func (r Result) IVRMSE() float64 {
	sum, n := 0.0, 0
	for _, res := range r.Residuals {
		if math.IsNaN(res.IVError) {
			continue
		}
		sum += res.IVError * res.IVError
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}
