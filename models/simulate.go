package models

import (
	"math"
	"runtime"
	"sync"

	"golang.org/x/exp/rand"
)

var rngPool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(uint64(rand.Int63())))
	},
}

// SimulatePrice draws one terminal spot under the Heston dynamics with an
// Euler full-truncation scheme. It is an independent cross-check of the
// quadrature pricer, not a pricing path used in calibration.
func (p HestonParameters) SimulatePrice(spot, rate, carry, maturity float64, steps int, rng *rand.Rand) float64 {
	dt := maturity / float64(steps)
	sqrtDt := math.Sqrt(dt)

	s := spot
	v := p.V0

	for i := 0; i < steps; i++ {
		z1 := rng.NormFloat64()
		z2 := rng.NormFloat64()
		z2 = p.Rho*z1 + math.Sqrt(1-p.Rho*p.Rho)*z2

		vPos := math.Max(v, 0)
		s *= math.Exp((rate-carry-0.5*vPos)*dt + math.Sqrt(vPos)*sqrtDt*z1)
		v += p.Kappa*(p.Theta-vPos)*dt + p.Sigma*math.Sqrt(vPos)*sqrtDt*z2
	}

	return s
}

// SimulateCallPrice estimates the European call price by Monte Carlo,
// fanning simulations out across GOMAXPROCS workers. Returns the discounted
// mean payoff and its standard error.
func (p HestonParameters) SimulateCallPrice(spot, strike, maturity, rate, carry float64, steps, numSimulations int) (price, stdErr float64) {
	payoffs := make([]float64, numSimulations)
	var wg sync.WaitGroup
	numWorkers := runtime.GOMAXPROCS(0)
	perWorker := (numSimulations + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > numSimulations {
			end = numSimulations
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			rng := rngPool.Get().(*rand.Rand)
			defer rngPool.Put(rng)
			for j := start; j < end; j++ {
				s := p.SimulatePrice(spot, rate, carry, maturity, steps, rng)
				payoffs[j] = math.Max(s-strike, 0)
			}
		}(start, end)
	}
	wg.Wait()

	disc := math.Exp(-rate * maturity)
	mean := 0.0
	for _, pay := range payoffs {
		mean += pay
	}
	mean /= float64(numSimulations)

	variance := 0.0
	for _, pay := range payoffs {
		d := pay - mean
		variance += d * d
	}
	variance /= float64(numSimulations - 1)

	return disc * mean, disc * math.Sqrt(variance/float64(numSimulations))
}
