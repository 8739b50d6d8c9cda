package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Calculator turns raw provider leg prices into the billable total.
type Calculator struct {
	factor   decimal.Decimal
	sentinel float64
}

func NewCalculator(factor, sentinel float64) Calculator {
	return Calculator{factor: decimal.NewFromFloat(factor), sentinel: sentinel}
}

func (c Calculator) Sentinel() float64 { return c.sentinel }

// Total computes (|leg| + |parent|) * factor. An empty parent counts as zero.
// Providers report cost as a negative amount; each leg's magnitude is billed,
// so a leg reported with the opposite sign never offsets the other.
func (c Calculator) Total(leg, parent string) (float64, error) {
	l, err := parsePrice(leg)
	if err != nil {
		return 0, err
	}
	p := decimal.Zero
	if strings.TrimSpace(parent) != "" {
		if p, err = parsePrice(parent); err != nil {
			return 0, err
		}
	}
	return l.Add(p).Mul(c.factor).InexactFloat64(), nil
}

// Apply returns the billable total for q and whether real prices were used.
// Exhausted, canceled or unparsable quotes yield the sentinel.
func (c Calculator) Apply(q Quote) (float64, bool) {
	if q.Exhausted || q.Canceled || q.LegPrice == "" {
		return c.sentinel, false
	}
	total, err := c.Total(q.LegPrice, q.ParentPrice)
	if err != nil {
		return c.sentinel, false
	}
	return total, true
}

// parsePrice returns the magnitude of a provider price.
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return d.Abs(), nil
}
