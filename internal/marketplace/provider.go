package marketplace

import (
	"context"

	"github.com/shopspring/decimal"
)

// Candidate is one normalized competitor listing returned by a search.
type Candidate struct {
	ItemID    string
	Title     string
	Price     decimal.Decimal
	Currency  string
	SellerID  string
	Condition string
}

// Query describes exactly one upstream search call. ProductCode takes
// precedence over free-text fields when set; Title with CategoryID narrows a
// text search to one category.
type Query struct {
	ProductCode string
	Title       string
	CategoryID  string
	Limit       int
}

// SearchProvider issues marketplace searches for competitor listings.
type SearchProvider interface {
	Search(ctx context.Context, query Query) ([]Candidate, error)
}
