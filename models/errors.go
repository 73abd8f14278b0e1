package models

import "fmt"

// DomainError marks market or model inputs outside the valid pricing domain.
// It aborts only the single call that received the bad input.
type DomainError struct {
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error: %s = %g is outside the valid range", e.Field, e.Value)
}

// RootBracketFailure is returned when the implied-vol search cannot find a
// vol bracket whose prices straddle the target, typically because the target
// price violates no-arbitrage bounds.
type RootBracketFailure struct {
	Target float64
	Low    float64
	High   float64
}

func (e *RootBracketFailure) Error() string {
	return fmt.Sprintf("implied vol: no bracket found for target price %g in vol range [%g, %g]", e.Target, e.Low, e.High)
}

// RootNotConverged is returned when Brent's method exhausts its iteration
// budget without reaching tolerance.
type RootNotConverged struct {
	Iterations int
	LastVol    float64
}

func (e *RootNotConverged) Error() string {
	return fmt.Sprintf("implied vol: no convergence after %d iterations (last vol %g)", e.Iterations, e.LastVol)
}
