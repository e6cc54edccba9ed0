package valuation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelcm/admira-attribution/internal/lifecycle"
	"github.com/angelcm/admira-attribution/internal/models"
	"github.com/angelcm/admira-attribution/internal/rates"
)

var d0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func event(kind models.EventKind, day int, revenue string) models.RawEvent {
	return models.RawEvent{
		UserID:      "u",
		ProductID:   "pro_monthly",
		Kind:        kind,
		Timestamp:   d0.AddDate(0, 0, day),
		Revenue:     decimal.RequireFromString(revenue),
		Currency:    "USD",
		Attribution: models.Attribution{AdID: "ad1"},
	}
}

var (
	prices = NewPriceTable([]Price{{ProductID: "pro_monthly", Amount: decimal.RequireFromString("50"), Bucket: "40-60"}})
	assign = rates.NewAssigner(rates.Table{Defaults: rates.Defaults{TrialConversion: 0.4, TrialRefund: 0.1, PurchaseRefund: 0.05}})
	est    = NewEstimator(DefaultWindows)
)

func run(asOf time.Time, events ...models.RawEvent) models.Lifecycle {
	lc := lifecycle.Classify(models.LifecycleKey{UserID: "u", ProductID: "pro_monthly"}, events)
	lc = ApplyPrice(lc, prices)
	lc.Rates = assign.Assign(lc)
	return est.Estimate(lc, asOf)
}

func TestEstimateTrialConvertedThenCancelledKeepsGraceValue(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 12),
		event(models.TrialStarted, 0, "0"),
		event(models.TrialConverted, 7, "50"),
		event(models.Cancellation, 10, "0"),
	)
	assert.Equal(t, models.StatusTrialConvertedCancelled, lc.Status)
	assert.Equal(t, models.ValuePostConversionGrace, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.Equal(decimal.RequireFromString("45")), lc.CurrentValue.String())
}

func TestEstimatePurchaseRefundIsZero(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 6),
		event(models.InitialPurchase, 0, "20"),
		event(models.Cancellation, 5, "-20"),
	)
	assert.Equal(t, models.ValueRefunded, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.IsZero())
}

func TestEstimatePendingTrial(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 3), event(models.TrialStarted, 0, "0"))
	assert.Equal(t, models.ValuePendingTrial, lc.ValueStatus)
	// 50 * 0.4 * 0.9
	assert.True(t, lc.CurrentValue.Equal(decimal.RequireFromString("18")), lc.CurrentValue.String())
}

func TestEstimateExpiredTrialIsZero(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 9), event(models.TrialStarted, 0, "0"))
	assert.Equal(t, models.ValueFinal, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.IsZero())

	lc = run(d0.AddDate(0, 0, 3), event(models.TrialStarted, 0, "0"), event(models.TrialCancelled, 2, "0"))
	assert.Equal(t, models.ValueFinal, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.IsZero())
}

func TestEstimateFinalUsesNetRevenue(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 90),
		event(models.InitialPurchase, 0, "50"),
		event(models.Renewal, 30, "50"),
	)
	assert.Equal(t, models.ValueFinal, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.Equal(decimal.RequireFromString("100")))
}

func TestEstimateFinalWithoutReportedAmount(t *testing.T) {
	lc := run(d0.AddDate(0, 0, 90), event(models.InitialPurchase, 0, "0"))
	assert.Equal(t, models.ValueFinal, lc.ValueStatus)
	assert.True(t, lc.CurrentValue.Equal(decimal.RequireFromString("47.5")))
}

func TestEstimateZeroPriceGuard(t *testing.T) {
	lc := lifecycle.Classify(models.LifecycleKey{UserID: "u", ProductID: "unknown"},
		[]models.RawEvent{{UserID: "u", ProductID: "unknown", Kind: models.TrialStarted, Timestamp: d0}})
	lc = ApplyPrice(lc, prices)
	lc.Rates = assign.Assign(lc)
	lc = est.Estimate(lc, d0.AddDate(0, 0, 1))
	assert.True(t, lc.Price.IsZero())
	assert.Equal(t, "", lc.PriceBucket)
	assert.True(t, lc.CurrentValue.IsZero())
}

func TestApplyPriceFallsBackToObservedRevenue(t *testing.T) {
	lc := lifecycle.Classify(models.LifecycleKey{UserID: "u", ProductID: "annual"},
		[]models.RawEvent{{UserID: "u", ProductID: "annual", Kind: models.InitialPurchase, Timestamp: d0, Revenue: decimal.RequireFromString("59.99")}})
	lc = ApplyPrice(lc, prices)
	assert.True(t, lc.Price.Equal(decimal.RequireFromString("59.99")))
	assert.Equal(t, "59.99", lc.PriceBucket)
}

// Any negative cancellation zeroes the value; any confirmed revenue without one keeps it positive.
func TestEstimateRefundPropertyAcrossOrders(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	kinds := []models.EventKind{models.TrialStarted, models.TrialConverted, models.InitialPurchase, models.Renewal, models.Cancellation, models.TrialCancelled}
	revenues := []string{"0", "9.99", "-9.99", "50"}

	for i := 0; i < 500; i++ {
		n := 1 + r.Intn(6)
		events := make([]models.RawEvent, 0, n)
		for j := 0; j < n; j++ {
			events = append(events, event(kinds[r.Intn(len(kinds))], r.Intn(60), revenues[r.Intn(len(revenues))]))
		}
		asOf := d0.AddDate(0, 0, r.Intn(120))
		lc := run(asOf, events...)

		hasRefund, hasConfirmed := false, false
		for _, e := range events {
			if e.Kind == models.Cancellation && e.Revenue.IsNegative() {
				hasRefund = true
			}
			if (e.Kind == models.TrialConverted || e.Kind == models.InitialPurchase || e.Kind == models.Renewal) && e.Revenue.IsPositive() {
				hasConfirmed = true
			}
		}

		require.False(t, lc.CurrentValue.IsNegative())
		if hasRefund {
			require.True(t, lc.CurrentValue.IsZero(), "events=%+v", events)
			require.Equal(t, models.ValueRefunded, lc.ValueStatus)
		} else if hasConfirmed {
			require.True(t, lc.CurrentValue.IsPositive(), "events=%+v value=%s", events, lc.CurrentValue)
		}

		reversed := make([]models.RawEvent, len(events))
		for j := range events {
			reversed[len(events)-1-j] = events[j]
		}
		again := run(asOf, reversed...)
		require.True(t, lc.CurrentValue.Equal(again.CurrentValue))
		require.Equal(t, lc.ValueStatus, again.ValueStatus)
	}
}

func TestEstimateTrialPastWindowIsWorthNothing(t *testing.T) {
	start := event(models.TrialStarted, 0, "0")

	open := run(d0.AddDate(0, 0, DefaultWindows.TrialWindowDays-1), start)
	assert.Equal(t, models.ValuePendingTrial, open.ValueStatus)
	assert.True(t, open.CurrentValue.IsPositive())

	expired := run(d0.AddDate(0, 0, DefaultWindows.TrialWindowDays), start)
	assert.Equal(t, models.StatusPendingTrial, expired.Status)
	assert.Equal(t, models.ValueFinal, expired.ValueStatus)
	assert.True(t, expired.CurrentValue.IsZero(), expired.CurrentValue.String())
}
