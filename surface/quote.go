// Package surface holds the market-quote data model consumed by the
// calibration engine. Quotes arrive from an external ingestion adapter as a
// long-format table; this package validates the table and exposes it as an
// ordered implied-vol surface.
package surface

import (
	"fmt"
	"math"
	"sort"

	"github.com/stochvol/hestonfit/models"
)

// InvalidSurfaceError marks a malformed input table. It is fatal: it is
// raised before any optimization begins.
type InvalidSurfaceError struct {
	Row    int // -1 when the problem is not tied to a row
	Reason string
}

func (e *InvalidSurfaceError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("invalid surface: %s", e.Reason)
	}
	return fmt.Sprintf("invalid surface: row %d: %s", e.Row, e.Reason)
}

// MarketQuote is one observed option quote. Immutable after construction.
type MarketQuote struct {
	Maturity float64 // Year fraction, > 0
	Strike   float64
	Spot     float64
	Rate     float64 // Continuously compounded risk-free rate
	Carry    float64 // Dividend/repo yield
	Bid      float64
	Ask      float64
	Type     models.OptionType
}

// Mid returns the bid/ask midpoint.
func (q MarketQuote) Mid() float64 {
	return 0.5 * (q.Bid + q.Ask)
}

// Forward returns the implied forward spot*e^{(r-carry)*T}.
func (q MarketQuote) Forward() float64 {
	return q.Spot * math.Exp((q.Rate-q.Carry)*q.Maturity)
}

// Moneyness is strike over forward.
func (q MarketQuote) Moneyness() float64 {
	return q.Strike / q.Forward()
}

// MidImpliedVol inverts Black-Scholes at the mid price.
func (q MarketQuote) MidImpliedVol() (float64, error) {
	return models.ImpliedVol(q.Mid(), q.Spot, q.Strike, q.Maturity, q.Rate, q.Carry, q.Type)
}

// Validate enforces the quote invariants: positive maturity/strike/spot,
// bid <= ask, a known option type, and a mid price inside the no-arbitrage
// bounds for that type.
func (q MarketQuote) Validate() error {
	switch {
	case q.Maturity <= 0:
		return fmt.Errorf("maturity %g must be positive", q.Maturity)
	case q.Strike <= 0:
		return fmt.Errorf("strike %g must be positive", q.Strike)
	case q.Spot <= 0:
		return fmt.Errorf("spot %g must be positive", q.Spot)
	case q.Bid > q.Ask:
		return fmt.Errorf("bid %g exceeds ask %g", q.Bid, q.Ask)
	case q.Type != models.Call && q.Type != models.Put:
		return fmt.Errorf("unknown option type %q", q.Type)
	}

	fwd := q.Spot * math.Exp(-q.Carry*q.Maturity)
	disc := q.Strike * math.Exp(-q.Rate*q.Maturity)
	mid := q.Mid()
	var lower, upper float64
	if q.Type == models.Call {
		lower, upper = math.Max(fwd-disc, 0), fwd
	} else {
		lower, upper = math.Max(disc-fwd, 0), disc
	}
	if mid < lower || mid > upper {
		return fmt.Errorf("mid price %g outside no-arbitrage bounds [%g, %g]", mid, lower, upper)
	}
	return nil
}

type quoteKey struct {
	maturity float64
	strike   float64
	typ      models.OptionType
}

// Surface is an ordered collection of quotes keyed by
// (maturity, strike, type). Iteration order is deterministic regardless of
// insertion order: ascending maturity, then strike, calls before puts.
type Surface struct {
	quotes []MarketQuote
	seen   map[quoteKey]struct{}
	sorted bool
}

func NewSurface() *Surface {
	return &Surface{seen: make(map[quoteKey]struct{})}
}

// Add validates and inserts a quote. Duplicate (maturity, strike, type)
// keys are rejected.
func (s *Surface) Add(q MarketQuote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	key := quoteKey{q.Maturity, q.Strike, q.Type}
	if _, dup := s.seen[key]; dup {
		return fmt.Errorf("duplicate quote (maturity=%g, strike=%g, type=%s)", q.Maturity, q.Strike, q.Type)
	}
	s.seen[key] = struct{}{}
	s.quotes = append(s.quotes, q)
	s.sorted = false
	return nil
}

func (s *Surface) Len() int { return len(s.quotes) }

func (s *Surface) sortQuotes() {
	if s.sorted {
		return
	}
	sort.Slice(s.quotes, func(i, j int) bool {
		a, b := s.quotes[i], s.quotes[j]
		if a.Maturity != b.Maturity {
			return a.Maturity < b.Maturity
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Type < b.Type
	})
	s.sorted = true
}

// Quotes returns the quotes in deterministic surface order. The returned
// slice is shared; callers must treat it as read-only.
func (s *Surface) Quotes() []MarketQuote {
	s.sortQuotes()
	return s.quotes
}

// Maturities returns the distinct maturities in ascending order.
func (s *Surface) Maturities() []float64 {
	s.sortQuotes()
	var out []float64
	for _, q := range s.quotes {
		if len(out) == 0 || q.Maturity != out[len(out)-1] {
			out = append(out, q.Maturity)
		}
	}
	return out
}

// FilterMoneyness returns a new surface keeping only quotes whose forward
// moneyness K/F lies in [lo, hi], the liquid band typically used for
// calibration.
func (s *Surface) FilterMoneyness(lo, hi float64) *Surface {
	out := NewSurface()
	for _, q := range s.Quotes() {
		m := q.Moneyness()
		if m >= lo && m <= hi {
			// Quotes already validated on the way in
			out.seen[quoteKey{q.Maturity, q.Strike, q.Type}] = struct{}{}
			out.quotes = append(out.quotes, q)
		}
	}
	return out
}

// ParityGap measures how far a call/put pair at the same strike and
// maturity sits from put-call parity:
// mid(call) - mid(put) - (S e^{-qT} - K e^{-rT}). A gap wider than the
// quoted spreads flags a stale or crossed pair before it pollutes the fit.
func ParityGap(call, put MarketQuote) (float64, error) {
	if call.Type != models.Call || put.Type != models.Put {
		return 0, fmt.Errorf("parity gap needs a call/put pair, got %s/%s", call.Type, put.Type)
	}
	if call.Strike != put.Strike || call.Maturity != put.Maturity {
		return 0, fmt.Errorf("parity gap needs matching strike and maturity, got K=%g/%g T=%g/%g",
			call.Strike, put.Strike, call.Maturity, put.Maturity)
	}
	parity := call.Spot*math.Exp(-call.Carry*call.Maturity) - call.Strike*math.Exp(-call.Rate*call.Maturity)
	return call.Mid() - put.Mid() - parity, nil
}

// OTMType picks the out-of-the-money side for a strike: calls at or above
// the forward, puts below. Calibrating on OTM quotes is the usual choice;
// put-call parity makes the fit independent of the side.
func OTMType(spot, strike, maturity, rate, carry float64) models.OptionType {
	if strike >= spot*math.Exp((rate-carry)*maturity) {
		return models.Call
	}
	return models.Put
}
