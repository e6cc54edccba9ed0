package accuracy

import (
	"github.com/shopspring/decimal"
)

// Ratio compares the behavioral (local) count with the ad platform (reference) count,
// as a percentage. A zero reference cannot disprove local data: any local activity
// reads as fully accurate, no activity on either side reads as zero.
func Ratio(local, reference int64) float64 {
	if reference <= 0 {
		if local > 0 {
			return 100
		}
		return 0
	}
	return float64(local) / float64(reference) * 100
}

type Counts struct {
	LocalTrials        int64
	LocalPurchases     int64
	ReferenceTrials    int64
	ReferencePurchases int64
}

type Result struct {
	TrialRatio    float64
	PurchaseRatio float64
	ChosenRatio   float64
	UsedTrial     bool
	Adjusted      decimal.Decimal
	// Guarded is set when the chosen ratio was zero and no adjustment was applied.
	Guarded bool
}

var hundred = decimal.NewFromInt(100)

// Reconcile computes both ratios and scales estimated revenue by the dominant signal's
// ratio. Ties favor the trial signal.
func Reconcile(c Counts, estimated decimal.Decimal) Result {
	r := Result{
		TrialRatio:    Ratio(c.LocalTrials, c.ReferenceTrials),
		PurchaseRatio: Ratio(c.LocalPurchases, c.ReferencePurchases),
		UsedTrial:     c.LocalTrials >= c.LocalPurchases,
	}
	r.ChosenRatio = r.PurchaseRatio
	if r.UsedTrial {
		r.ChosenRatio = r.TrialRatio
	}
	if !(r.ChosenRatio > 0) {
		r.Adjusted = estimated
		r.Guarded = true
		return r
	}
	r.Adjusted = estimated.Mul(hundred).Div(decimal.NewFromFloat(r.ChosenRatio))
	return r
}
