package surface

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stochvol/hestonfit/models"
)

// Required columns of the long-format quote table. "forward" is accepted in
// place of "spot". Column matching is case-insensitive.
var requiredColumns = []string{"maturity", "strike", "bid", "ask", "spot", "rate", "carry", "type"}

// FromRecords validates the long-format table produced by the external
// ingestion adapter and builds a Surface from it. A missing required column
// or any row violating the quote invariants yields an InvalidSurfaceError.
//
// Bid and ask are parsed through decimal so the bid <= ask comparison and
// the midpoint are exact in quote ticks before conversion to float64.
func FromRecords(header []string, rows [][]string) (*Surface, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["spot"]; !ok {
		if i, ok := col["forward"]; ok {
			col["spot"] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, &InvalidSurfaceError{Row: -1, Reason: fmt.Sprintf("missing required column %q", name)}
		}
	}

	s := NewSurface()
	for i, row := range rows {
		if len(row) < len(header) {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(row))}
		}

		bid, err := decimal.NewFromString(strings.TrimSpace(row[col["bid"]]))
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad bid: %v", err)}
		}
		ask, err := decimal.NewFromString(strings.TrimSpace(row[col["ask"]]))
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad ask: %v", err)}
		}
		if bid.Cmp(ask) > 0 {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bid %s exceeds ask %s", bid, ask)}
		}

		numeric := func(name string) (float64, error) {
			return strconv.ParseFloat(strings.TrimSpace(row[col[name]]), 64)
		}
		maturity, err := numeric("maturity")
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad maturity: %v", err)}
		}
		strike, err := numeric("strike")
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad strike: %v", err)}
		}
		spot, err := numeric("spot")
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad spot: %v", err)}
		}
		rate, err := numeric("rate")
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad rate: %v", err)}
		}
		carry, err := numeric("carry")
		if err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: fmt.Sprintf("bad carry: %v", err)}
		}

		typ := models.OptionType(strings.ToLower(strings.TrimSpace(row[col["type"]])))

		q := MarketQuote{
			Maturity: maturity,
			Strike:   strike,
			Spot:     spot,
			Rate:     rate,
			Carry:    carry,
			Bid:      bid.InexactFloat64(),
			Ask:      ask.InexactFloat64(),
			Type:     typ,
		}
		if err := s.Add(q); err != nil {
			return nil, &InvalidSurfaceError{Row: i, Reason: err.Error()}
		}
	}
	return s, nil
}
