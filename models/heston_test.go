package models_test

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stochvol/hestonfit/models"
)

func TestHestonParametersValidate(t *testing.T) {
	valid := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		params models.HestonParameters
	}{
		{"zero kappa", models.NewHestonParameters(0, 0.04, 0.3, -0.7, 0.04)},
		{"zero theta", models.NewHestonParameters(2, 0, 0.3, -0.7, 0.04)},
		{"zero sigma", models.NewHestonParameters(2, 0.04, 0, -0.7, 0.04)},
		{"rho at -1", models.NewHestonParameters(2, 0.04, 0.3, -1, 0.04)},
		{"rho at 1", models.NewHestonParameters(2, 0.04, 0.3, 1, 0.04)},
		{"zero v0", models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var domainErr *models.DomainError
			require.ErrorAs(t, tc.params.Validate(), &domainErr)
		})
	}
}

func TestFellerCondition(t *testing.T) {
	// 2*2*0.04 = 0.16 >= 0.09
	assert.True(t, models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04).FellerSatisfied())
	// 2*0.5*0.04 = 0.04 < 1
	assert.False(t, models.NewHestonParameters(0.5, 0.04, 1.0, -0.7, 0.04).FellerSatisfied())
}

func TestParameterVectorRoundTrip(t *testing.T) {
	p := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.09)
	assert.Equal(t, p, models.ParametersFromVector(p.Vector()))
}

// The characteristic function of a probability density has modulus at most
// one on the real axis, for both phases.
func TestCharacteristicFunctionModulus(t *testing.T) {
	p := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)
	for u := 0.1; u <= 100; u += 0.1 {
		for _, phase := range []int{1, 2} {
			m := cmplx.Abs(models.CharacteristicFunction(complex(u, 0), phase, p, 100, 0.5, 0.02, 0))
			require.Falsef(t, math.IsNaN(m), "NaN at u=%g phase=%d", u, phase)
			assert.LessOrEqualf(t, m, 1+1e-9, "u=%g phase=%d", u, phase)
		}
	}
}

// Trap-safe branch selection: |CF| as a function of the integration
// frequency must have no jump discontinuities, including for high vol-of-vol
// and long maturities where the principal log branch is discontinuous.
func TestTrapSafeContinuity(t *testing.T) {
	battery := []struct {
		name     string
		params   models.HestonParameters
		maturity float64
	}{
		{"base", models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04), 0.5},
		{"high vol-of-vol", models.NewHestonParameters(1, 0.16, 2.0, -0.5, 0.04), 10},
		{"long maturity", models.NewHestonParameters(0.5, 0.09, 1.0, -0.9, 0.09), 15},
		{"low mean reversion", models.NewHestonParameters(0.1, 0.25, 1.5, -0.8, 0.16), 5},
	}

	const du = 0.05
	for _, tc := range battery {
		t.Run(tc.name, func(t *testing.T) {
			for _, phase := range []int{1, 2} {
				prev := math.NaN()
				maxJump := 0.0
				for u := du; u <= 200; u += du {
					m := cmplx.Abs(models.CharacteristicFunction(complex(u, 0), phase, tc.params, 100, tc.maturity, 0.02, 0))
					require.Falsef(t, math.IsNaN(m) || math.IsInf(m, 0), "non-finite |CF| at u=%g phase=%d", u, phase)
					if !math.IsNaN(prev) && math.Abs(m-prev) > maxJump {
						maxJump = math.Abs(m - prev)
					}
					prev = m
				}
				assert.Lessf(t, maxJump, 0.05, "phase %d: discontinuous |CF|, max step %g", phase, maxJump)
			}
		})
	}
}

// As sigma -> 0 with v0 = theta the model degenerates to constant variance;
// the CF must approach that limit continuously, with error shrinking along
// with sigma.
func TestSigmaZeroLimit(t *testing.T) {
	pricer, err := models.NewHestonPricer(64, 1)
	require.NoError(t, err)
	bs, err := models.BSPrice(100, 100, 0.5, 0.02, 0, 0.2, models.Call)
	require.NoError(t, err)

	sigmas := []float64{0.1, 0.01, 0.001}
	tolerances := []float64{3e-2, 3e-4, 3e-6}
	prevDiff := math.Inf(1)
	for i, sigma := range sigmas {
		p := models.NewHestonParameters(2, 0.04, sigma, -0.7, 0.04)
		price, err := pricer.CallPrice(p, 100, 100, 0.5, 0.02, 0)
		require.NoError(t, err)
		diff := math.Abs(price - bs)
		assert.Lessf(t, diff, tolerances[i], "sigma=%g", sigma)
		assert.Lessf(t, diff, prevDiff, "error must shrink with sigma (sigma=%g)", sigma)
		prevDiff = diff
	}
}

func TestMaturityZeroLimit(t *testing.T) {
	p := models.NewHestonParameters(2, 0.04, 0.3, -0.7, 0.04)

	// At T=0 the T-dependent terms vanish algebraically
	v := models.CharacteristicFunction(complex(1.3, 0), 1, p, 100, 0, 0.02, 0)
	expected := cmplx.Exp(complex(0, 1.3*math.Log(100)))
	assert.InDelta(t, real(expected), real(v), 1e-12)
	assert.InDelta(t, imag(expected), imag(v), 1e-12)

	// Tiny maturities must price without division blow-ups
	pricer, err := models.NewHestonPricer(64, 1)
	require.NoError(t, err)
	price, err := pricer.CallPrice(p, 100, 100, 1e-8, 0.02, 0)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(price))
	assert.GreaterOrEqual(t, price, 0.0)

	// Deep ITM at tiny T: the fixed rule loses accuracy as the integrand
	// decay slows, but the result must stay finite and near intrinsic.
	itm, err := pricer.CallPrice(p, 100, 60, 1e-8, 0.02, 0)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, itm, 2.0)
}
