package resolver

import (
	"sort"

	"github.com/shopspring/decimal"
)

// median returns the median of prices. Callers guarantee len > 0.
func median(prices []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// rejectOutliers drops prices above upper*median or below lower*median.
// May return an empty slice when every price is an outlier relative to the
// median, which happens with tiny bimodal samples.
func rejectOutliers(prices []decimal.Decimal, upper, lower decimal.Decimal) []decimal.Decimal {
	if len(prices) == 0 {
		return nil
	}

	med := median(prices)
	high := med.Mul(upper)
	low := med.Mul(lower)

	kept := make([]decimal.Decimal, 0, len(prices))
	for _, p := range prices {
		if p.GreaterThan(high) || p.LessThan(low) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func minOf(prices []decimal.Decimal) decimal.Decimal {
	min := prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(min) {
			min = p
		}
	}
	return min
}

func meanOf(prices []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}
