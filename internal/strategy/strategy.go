// Package strategy computes candidate reduced prices for a listing. The
// calculator is pure: all inputs, including the clock, arrive through Input,
// and universal floor/rounding clamps run regardless of the chosen strategy.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy selector names as stored on a listing row.
const (
	NameFixedPercentage = "fixed_percentage"
	NameMarketBased     = "market_based"
	NameTimeBased       = "time_based"
	NameCustom          = "custom"
)

// Outcome of one calculation.
type Outcome int

const (
	// OutcomeSuccess means NewPrice is a strict reduction above the floor.
	OutcomeSuccess Outcome = iota
	// OutcomeSkip means no reduction is possible; the normal terminal state
	// once a listing has bottomed out at its floor.
	OutcomeSkip
)

// Input carries the pricing state a calculation works on.
type Input struct {
	CurrentPrice decimal.Decimal
	MinimumPrice decimal.Decimal
	ListingStart time.Time
	Now          time.Time
}

// Decision is the result of one calculation.
type Decision struct {
	NewPrice decimal.Decimal
	Outcome  Outcome
	Reason   string
}

// Strategy is a closed set of reduction variants. The unexported method keeps
// the set closed to this package; dispatch happens through the interface, not
// by string branching at the call site.
type Strategy interface {
	// Name returns the selector recorded on audit rows.
	Name() string

	raw(in Input) decimal.Decimal
}

// FixedPercentage reduces by a flat percentage of the current price.
type FixedPercentage struct {
	Pct decimal.Decimal
}

// Name implements Strategy.
func (s FixedPercentage) Name() string { return NameFixedPercentage }

func (s FixedPercentage) raw(in Input) decimal.Decimal {
	return in.CurrentPrice.Mul(decimal.NewFromInt(1).Sub(s.Pct.Div(decimal.NewFromInt(100))))
}

// MarketBased reduces by a flat percentage of the current price. The formula
// currently matches FixedPercentage; snapshot-driven pricing is not wired in
// yet, but the variant stays distinct in the audit log.
type MarketBased struct {
	Pct decimal.Decimal
}

// Name implements Strategy.
func (s MarketBased) Name() string { return NameMarketBased }

func (s MarketBased) raw(in Input) decimal.Decimal {
	return FixedPercentage{Pct: s.Pct}.raw(in)
}

// TimeBased reduces more aggressively the longer a listing has been live:
// the percentage scales by min(1 + (days_listed/30) * 0.5, 2).
type TimeBased struct {
	Pct decimal.Decimal
}

// Name implements Strategy.
func (s TimeBased) Name() string { return NameTimeBased }

func (s TimeBased) raw(in Input) decimal.Decimal {
	days := int(in.Now.Sub(in.ListingStart).Hours() / 24)
	if days < 0 {
		days = 0
	}
	factor := 1 + float64(days)/30*0.5
	if factor > 2 {
		factor = 2
	}
	multiplier := s.Pct.Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(factor))
	return in.CurrentPrice.Mul(decimal.NewFromInt(1).Sub(multiplier))
}

// Custom targets an operator-chosen price, bypassing the percentage math.
// The target never undercuts the floor.
type Custom struct {
	Target decimal.Decimal
}

// Name implements Strategy.
func (s Custom) Name() string { return NameCustom }

func (s Custom) raw(in Input) decimal.Decimal {
	if s.Target.LessThan(in.MinimumPrice) {
		return in.MinimumPrice
	}
	return s.Target
}

// Parse maps a listing's stored selector to its strategy variant. Unknown
// selectors fail here, at parse time, so Calculate never sees one.
func Parse(name string, pct decimal.Decimal, customTarget *decimal.Decimal) (Strategy, error) {
	switch name {
	case NameFixedPercentage:
		return FixedPercentage{Pct: pct}, nil
	case NameMarketBased:
		return MarketBased{Pct: pct}, nil
	case NameTimeBased:
		return TimeBased{Pct: pct}, nil
	case NameCustom:
		if customTarget == nil {
			return nil, fmt.Errorf("strategy %q requires a custom target price", name)
		}
		return Custom{Target: *customTarget}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Calculate applies the strategy and the universal post-processing clamps:
// floor clamp, rounding to 2 decimal places, and the non-decrease check. A
// result at or above the current price is a Skip, never an error.
func Calculate(in Input, s Strategy) Decision {
	price := s.raw(in)

	if price.LessThan(in.MinimumPrice) {
		price = in.MinimumPrice
	}
	price = price.Round(2)

	if price.GreaterThanOrEqual(in.CurrentPrice) {
		return Decision{
			NewPrice: in.CurrentPrice,
			Outcome:  OutcomeSkip,
			Reason: fmt.Sprintf("computed price %s is not below current price %s",
				price.StringFixed(2), in.CurrentPrice.StringFixed(2)),
		}
	}

	return Decision{NewPrice: price, Outcome: OutcomeSuccess}
}
