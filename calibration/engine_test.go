package calibration_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stochvol/hestonfit/calibration"
	"github.com/stochvol/hestonfit/models"
	"github.com/stochvol/hestonfit/surface"
)

// syntheticSurface prices a strike/maturity grid under known parameters so
// calibration has an exact solution to recover.
func syntheticSurface(t *testing.T, params models.HestonParameters) *surface.Surface {
	t.Helper()
	pricer, err := models.NewHestonPricer(48, 1)
	require.NoError(t, err)

	s := surface.NewSurface()
	for _, maturity := range []float64{0.25, 0.5, 1.0} {
		for _, strike := range []float64{80, 90, 100, 110, 120} {
			typ := surface.OTMType(100, strike, maturity, 0.02, 0)
			price, err := pricer.Price(params, 100, strike, maturity, 0.02, 0, typ)
			require.NoError(t, err)
			spread := math.Max(0.02*price, 1e-4)
			require.NoError(t, s.Add(surface.MarketQuote{
				Maturity: maturity,
				Strike:   strike,
				Spot:     100,
				Rate:     0.02,
				Carry:    0,
				Bid:      price - spread/2,
				Ask:      price + spread/2,
				Type:     typ,
			}))
		}
	}
	return s
}

func testConfig() calibration.Config {
	cfg := calibration.DefaultConfig()
	cfg.Quadrature.NodeCount = 48
	cfg.DE.PopulationSize = 45
	cfg.DE.MaxGenerations = 60
	cfg.Refine.MaxIterations = 60
	return cfg
}

// The canonical end-to-end scenario: calibrating against quotes generated
// by a known parameter set recovers that set.
func TestCalibrationSelfConsistency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping calibration in short mode")
	}

	truth := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	s := syntheticSurface(t, truth)

	result, err := calibration.Calibrate(s, testConfig())
	require.NoError(t, err)

	assert.InEpsilon(t, truth.V0, result.Params.V0, 0.05)
	assert.InEpsilon(t, truth.Theta, result.Params.Theta, 0.05)
	assert.InDelta(t, truth.Rho, result.Params.Rho, 0.05)
	assert.InEpsilon(t, truth.Kappa, result.Params.Kappa, 0.40)
	assert.InEpsilon(t, truth.Sigma, result.Params.Sigma, 0.40)

	assert.Less(t, result.IVRMSE(), 2e-3)
	assert.Less(t, result.Objective, 1e-4)
	assert.True(t, result.FellerSatisfied)
	require.Len(t, result.Residuals, s.Len())
	for _, res := range result.Residuals {
		assert.False(t, math.IsNaN(res.PriceError))
	}
}

// Same surface, same seed, same config: results must be bit-identical.
func TestCalibrationDeterminism(t *testing.T) {
	truth := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	s := syntheticSurface(t, truth)

	cfg := testConfig()
	cfg.DE.PopulationSize = 10
	cfg.DE.MaxGenerations = 5
	cfg.Refine.MaxIterations = 10

	first, err := calibration.Calibrate(s, cfg)
	require.NoError(t, err)
	second, err := calibration.Calibrate(s, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Params, second.Params)
	assert.Equal(t, first.Objective, second.Objective)
}

// An exhausted generation budget is not an error: the best candidate comes
// back flagged as a partial convergence.
func TestCalibrationPartialConvergence(t *testing.T) {
	truth := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	s := syntheticSurface(t, truth)

	cfg := testConfig()
	cfg.DE.PopulationSize = 8
	cfg.DE.MaxGenerations = 3 // far below the patience window
	cfg.Refine.MaxIterations = 5

	result, err := calibration.Calibrate(s, cfg)
	require.NoError(t, err)
	assert.False(t, result.Converged)
	assert.True(t, result.PartialConvergence)
	require.NoError(t, result.Params.Validate(), "best-found parameters must still be valid")
}

// With the global stage disabled, refinement runs from the surface-derived
// heuristic seed.
func TestCalibrationRefineOnly(t *testing.T) {
	truth := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	s := syntheticSurface(t, truth)

	cfg := testConfig()
	cfg.DE.MaxGenerations = 0

	result, err := calibration.Calibrate(s, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint(0), result.Generations)
	assert.False(t, math.IsNaN(result.Objective))
	require.NoError(t, result.Params.Validate())
}

func TestCalibrateEmptySurface(t *testing.T) {
	var surfErr *surface.InvalidSurfaceError
	_, err := calibration.Calibrate(surface.NewSurface(), calibration.DefaultConfig())
	require.ErrorAs(t, err, &surfErr)

	_, err = calibration.Calibrate(nil, calibration.DefaultConfig())
	require.ErrorAs(t, err, &surfErr)
}

func TestInitialGuess(t *testing.T) {
	// ATM implied vol 0.25 on the shortest tenor seeds v0 = theta = 0.0625
	price, err := models.BSPrice(100, 100, 0.25, 0.02, 0, 0.25, models.Call)
	require.NoError(t, err)
	s := surface.NewSurface()
	require.NoError(t, s.Add(surface.MarketQuote{
		Maturity: 0.25, Strike: 100, Spot: 100, Rate: 0.02,
		Bid: price - 0.05, Ask: price + 0.05, Type: models.Call,
	}))
	require.NoError(t, s.Add(surface.MarketQuote{
		Maturity: 1.0, Strike: 100, Spot: 100, Rate: 0.02,
		Bid: 2, Ask: 30, Type: models.Call,
	}))

	guess := calibration.InitialGuess(s)
	assert.InDelta(t, 0.0625, guess.V0, 1e-3)
	assert.Equal(t, guess.V0, guess.Theta)
	require.NoError(t, guess.Validate())
}

func TestOnEvaluationHook(t *testing.T) {
	truth := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	s := syntheticSurface(t, truth)

	cfg := testConfig()
	cfg.DE.PopulationSize = 8
	cfg.DE.MaxGenerations = 2
	cfg.Refine.MaxIterations = 3
	count := 0
	cfg.OnEvaluation = func() { count++ }

	_, err := calibration.Calibrate(s, cfg)
	require.NoError(t, err)
	assert.Greater(t, count, int(cfg.DE.PopulationSize))
}