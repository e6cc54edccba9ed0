package valuation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Windows are the observation windows used to decide whether a value is still provisional.
type Windows struct {
	GraceDays       int `yaml:"grace_days" mapstructure:"grace_days" validate:"gte=0"`
	TrialWindowDays int `yaml:"trial_window_days" mapstructure:"trial_window_days" validate:"gte=0"`
}

var DefaultWindows = Windows{GraceDays: 30, TrialWindowDays: 7}

type Price struct {
	ProductID string          `yaml:"product_id" validate:"required"`
	Currency  string          `yaml:"currency"`
	Amount    decimal.Decimal `yaml:"amount"`
	Bucket    string          `yaml:"bucket"`
}

// PriceTable maps products to list prices. Currency-specific rows win over blank ones.
type PriceTable struct {
	rows map[string]Price
}

func NewPriceTable(prices []Price) PriceTable {
	pt := PriceTable{rows: make(map[string]Price, len(prices))}
	for _, p := range prices {
		p.ProductID = strings.TrimSpace(p.ProductID)
		p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		pt.rows[p.ProductID+"|"+p.Currency] = p
	}
	return pt
}

func (pt PriceTable) Lookup(productID, currency string) (Price, bool) {
	if p, ok := pt.rows[productID+"|"+strings.ToUpper(currency)]; ok {
		return p, true
	}
	p, ok := pt.rows[productID+"|"]
	return p, ok
}

// ApplyPrice sets the lifecycle price and price bucket. Without a table entry the largest
// observed positive revenue stands in for the price.
func ApplyPrice(lc models.Lifecycle, prices PriceTable) models.Lifecycle {
	lc.Price = decimal.Zero
	lc.PriceBucket = ""
	if p, ok := prices.Lookup(lc.Key.ProductID, lc.Currency); ok && p.Amount.IsPositive() {
		lc.Price = p.Amount
		lc.PriceBucket = p.Bucket
	} else if lc.GrossRevenue.IsPositive() {
		lc.Price = lc.GrossRevenue
	}
	if lc.PriceBucket == "" && lc.Price.IsPositive() {
		lc.PriceBucket = lc.Price.StringFixed(2)
	}
	return lc
}

type Estimator struct {
	Windows Windows
}

func NewEstimator(w Windows) Estimator { return Estimator{Windows: w} }

// Estimate computes the current value and value status of lc as of asOf.
// Rules are evaluated in strict priority; a true refund overrides everything.
func (e Estimator) Estimate(lc models.Lifecycle, asOf time.Time) models.Lifecycle {
	value, status := e.value(lc, asOf)
	if value.IsNegative() {
		value = decimal.Zero
	}
	lc.CurrentValue = value.Round(4)
	lc.ValueStatus = status
	return lc
}

func (e Estimator) value(lc models.Lifecycle, asOf time.Time) (decimal.Decimal, models.ValueStatus) {
	if lc.HasTrueRefund {
		return decimal.Zero, models.ValueRefunded
	}

	confirmed := lc.Converted || lc.Purchased
	refundRate := lc.Rates.PurchaseRefund
	if lc.Converted {
		refundRate = lc.Rates.TrialRefund
	}

	if confirmed && !lc.ConfirmedAt.IsZero() && within(lc.ConfirmedAt, asOf, e.Windows.GraceDays) {
		return times(lc.Price, 1-refundRate), models.ValuePostConversionGrace
	}

	if lc.HasTrial && !lc.Converted && !lc.Cancelled &&
		within(lc.TrialStartedAt, asOf, e.Windows.TrialWindowDays) {
		return times(lc.Price, lc.Rates.Conversion, 1-lc.Rates.TrialRefund), models.ValuePendingTrial
	}

	switch {
	case lc.NetRevenue.IsPositive() && lc.HasConfirmedRevenue:
		return lc.NetRevenue, models.ValueFinal
	case confirmed:
		return times(lc.Price, 1-refundRate), models.ValueFinal
	}
	// Trials past their window that never converted or cancelled, and cancelled trials,
	// end here: nothing was paid and nothing is expected.
	return decimal.Zero, models.ValueFinal
}

// within reports whether asOf falls less than days after start.
func within(start, asOf time.Time, days int) bool {
	if start.IsZero() || days <= 0 {
		return false
	}
	return asOf.Before(start.AddDate(0, 0, days))
}

// times multiplies a price by rate factors, treating out-of-range factors as zero.
func times(price decimal.Decimal, factors ...float64) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	out := price
	for _, f := range factors {
		if !(f > 0) {
			return decimal.Zero
		}
		out = out.Mul(decimal.NewFromFloat(f))
	}
	return out
}
