// Package commission computes the platform's share of an order price.
package commission

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrNegativePrice = errors.New("price must not be negative")

var hundred = decimal.NewFromInt(100)

// Tier applies RatePercent to prices up to and including UpTo. A nil UpTo
// is unbounded.
type Tier struct {
	UpTo        *decimal.Decimal
	RatePercent decimal.Decimal
}

// DefaultTiers returns the standard commission table.
func DefaultTiers() []Tier {
	fifty := decimal.NewFromInt(50)
	twoHundred := decimal.NewFromInt(200)
	return []Tier{
		{UpTo: &fifty, RatePercent: decimal.NewFromInt(12)},
		{UpTo: &twoHundred, RatePercent: decimal.NewFromInt(16)},
		{UpTo: nil, RatePercent: decimal.NewFromInt(20)},
	}
}

// DefaultFineRatePercent is the late-payment surcharge on an unpaid fee.
const DefaultFineRatePercent = 15

type Breakdown struct {
	Price         decimal.Decimal `json:"price"`
	RatePercent   decimal.Decimal `json:"rate_percent"`
	AdminFee      decimal.Decimal `json:"admin_fee"`
	ArtisanAmount decimal.Decimal `json:"artisan_amount"`
}

type Calculator struct {
	tiers    []Tier
	fineRate decimal.Decimal
}

// NewCalculator validates and orders the tier table. Exactly one tier must be
// unbounded and it is always scanned last.
func NewCalculator(tiers []Tier, fineRatePercent decimal.Decimal) (*Calculator, error) {
	if len(tiers) == 0 {
		return nil, errors.New("commission: at least one tier is required")
	}
	if fineRatePercent.IsNegative() {
		return nil, errors.New("commission: fine rate must not be negative")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)

	unbounded := 0
	for _, t := range sorted {
		if t.UpTo == nil {
			unbounded++
		}
		if t.RatePercent.IsNegative() || t.RatePercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("commission: rate %s out of range", t.RatePercent)
		}
	}
	if unbounded != 1 {
		return nil, errors.New("commission: exactly one unbounded tier is required")
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UpTo == nil {
			return false
		}
		if sorted[j].UpTo == nil {
			return true
		}
		return sorted[i].UpTo.LessThan(*sorted[j].UpTo)
	})

	return &Calculator{tiers: sorted, fineRate: fineRatePercent}, nil
}

// NewDefaultCalculator uses DefaultTiers and DefaultFineRatePercent.
func NewDefaultCalculator() *Calculator {
	c, err := NewCalculator(DefaultTiers(), decimal.NewFromInt(DefaultFineRatePercent))
	if err != nil {
		panic(err)
	}
	return c
}

// Rate returns the percentage of the first tier whose bound is >= price.
func (c *Calculator) Rate(price decimal.Decimal) decimal.Decimal {
	for _, t := range c.tiers {
		if t.UpTo == nil || price.LessThanOrEqual(*t.UpTo) {
			return t.RatePercent
		}
	}
	return c.tiers[len(c.tiers)-1].RatePercent
}

// Compute splits price into the platform fee and the artisan's amount.
func (c *Calculator) Compute(price decimal.Decimal) (Breakdown, error) {
	if price.IsNegative() {
		return Breakdown{}, ErrNegativePrice
	}
	rate := c.Rate(price)
	fee := price.Mul(rate).Div(hundred).Round(2)
	return Breakdown{
		Price:         price,
		RatePercent:   rate,
		AdminFee:      fee,
		ArtisanAmount: price.Sub(fee),
	}, nil
}

// LateFine returns the fine on an overdue fee and the total now due.
func (c *Calculator) LateFine(fee decimal.Decimal) (fine, total decimal.Decimal) {
	fine = fee.Mul(c.fineRate).Div(hundred).Round(2)
	return fine, fee.Add(fine)
}
