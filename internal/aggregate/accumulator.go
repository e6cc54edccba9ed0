package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelcm/admira-attribution/internal/models"
)

// cell holds the raw sums for one leaf (ad) cell. Everything is additive so partial
// accumulators from different partitions merge by plain addition.
type cell struct {
	users            int64
	localTrials      int64
	localPurchases   int64
	localConversions int64
	localRefunds     int64
	payers           int64
	refundedPayers   int64

	actualRevenue decimal.Decimal
	estimated     decimal.Decimal

	convSum           float64
	convN             int64
	trialRefundSum    float64
	trialRefundN      int64
	purchaseRefundSum float64
	purchaseRefundN   int64

	spend              decimal.Decimal
	impressions        int64
	clicks             int64
	referenceTrials    int64
	referencePurchases int64
}

func newCell() *cell {
	return &cell{actualRevenue: decimal.Zero, estimated: decimal.Zero, spend: decimal.Zero}
}

func (c *cell) addLifecycle(lc models.Lifecycle) {
	c.users++
	if lc.TrialPath() {
		c.localTrials++
		c.convSum += lc.Rates.Conversion
		c.convN++
		c.trialRefundSum += lc.Rates.TrialRefund
		c.trialRefundN++
	}
	if lc.PurchasePath() {
		c.localPurchases++
	}
	if lc.Converted {
		c.localConversions++
	}
	if lc.Purchased && !lc.Converted {
		c.purchaseRefundSum += lc.Rates.PurchaseRefund
		c.purchaseRefundN++
	}
	if lc.HasConfirmedRevenue {
		c.payers++
	}
	if lc.HasTrueRefund {
		c.localRefunds++
		if lc.HasConfirmedRevenue {
			c.refundedPayers++
		}
	}
	if lc.NetRevenue.IsPositive() {
		c.actualRevenue = c.actualRevenue.Add(lc.NetRevenue)
	}
	c.estimated = c.estimated.Add(lc.CurrentValue)
}

func (c *cell) addPerformance(p models.AdPerformance) {
	if p.Spend.IsPositive() {
		c.spend = c.spend.Add(p.Spend)
	}
	c.impressions += nonNeg(p.Impressions)
	c.clicks += nonNeg(p.Clicks)
	c.referenceTrials += nonNeg(p.PlatformTrials)
	c.referencePurchases += nonNeg(p.PlatformPurchase)
}

func (c *cell) merge(o *cell) {
	c.users += o.users
	c.localTrials += o.localTrials
	c.localPurchases += o.localPurchases
	c.localConversions += o.localConversions
	c.localRefunds += o.localRefunds
	c.payers += o.payers
	c.refundedPayers += o.refundedPayers
	c.actualRevenue = c.actualRevenue.Add(o.actualRevenue)
	c.estimated = c.estimated.Add(o.estimated)
	c.convSum += o.convSum
	c.convN += o.convN
	c.trialRefundSum += o.trialRefundSum
	c.trialRefundN += o.trialRefundN
	c.purchaseRefundSum += o.purchaseRefundSum
	c.purchaseRefundN += o.purchaseRefundN
	c.spend = c.spend.Add(o.spend)
	c.impressions += o.impressions
	c.clicks += o.clicks
	c.referenceTrials += o.referenceTrials
	c.referencePurchases += o.referencePurchases
}

// Outcome of offering a lifecycle to the accumulator.
type Outcome int

const (
	Added Outcome = iota
	Unattributed
	OutOfRange
)

// Accumulator collects leaf cells for one run window. "All" cells and breakdown cells are
// both fed from the lifecycle itself, never from each other.
type Accumulator struct {
	from, to    time.Time
	breakdowns  []string
	cells       map[models.MetricKey]*cell
	observed    map[string]models.Attribution
	ignoredPerf int
}

// NewAccumulator accepts credited dates in [from, to] (UTC days, inclusive).
func NewAccumulator(from, to time.Time, breakdowns []string) *Accumulator {
	return &Accumulator{
		from:       from,
		to:         to,
		breakdowns: breakdowns,
		cells:      map[models.MetricKey]*cell{},
		observed:   map[string]models.Attribution{},
	}
}

func (a *Accumulator) inRange(d time.Time) bool {
	return !d.Before(a.from) && !d.After(a.to)
}

func (a *Accumulator) get(k models.MetricKey) *cell {
	c, ok := a.cells[k]
	if !ok {
		c = newCell()
		a.cells[k] = c
	}
	return c
}

func (a *Accumulator) AddLifecycle(lc models.Lifecycle) Outcome {
	if lc.Attribution.Empty() {
		return Unattributed
	}
	if !a.inRange(lc.CreditedDate) {
		return OutOfRange
	}
	ad := models.Ad(lc.Attribution.AdID)
	a.observe(lc.Attribution)
	a.get(models.MetricKey{Entity: ad, Date: lc.CreditedDate}).addLifecycle(lc)
	for _, b := range a.breakdowns {
		v := lc.Dimensions.Get(b)
		if v == "" {
			continue
		}
		k := models.MetricKey{Entity: ad, Date: lc.CreditedDate, Breakdown: models.Breakdown{Type: b, Value: v}}
		a.get(k).addLifecycle(lc)
	}
	return Added
}

func (a *Accumulator) AddPerformance(p models.AdPerformance) {
	p.Date = models.Day(p.Date)
	if p.AdID == "" || !a.inRange(p.Date) {
		a.ignoredPerf++
		return
	}
	if !p.Breakdown.IsAll() && !a.tracks(p.Breakdown.Type) {
		a.ignoredPerf++
		return
	}
	a.observe(models.Attribution{AdID: p.AdID, AdsetID: p.AdsetID, CampaignID: p.CampaignID})
	a.get(models.MetricKey{Entity: models.Ad(p.AdID), Date: p.Date, Breakdown: p.Breakdown}).addPerformance(p)
}

func (a *Accumulator) tracks(b string) bool {
	for _, t := range a.breakdowns {
		if t == b {
			return true
		}
	}
	return false
}

// observe keeps, per ad, the smallest non-empty parent ids seen so the result does not
// depend on arrival order.
func (a *Accumulator) observe(at models.Attribution) {
	cur, ok := a.observed[at.AdID]
	if !ok {
		a.observed[at.AdID] = at
		return
	}
	a.observed[at.AdID] = smallerAttribution(cur, at)
}

func smallerAttribution(x, y models.Attribution) models.Attribution {
	if x.AdsetID == "" {
		return y
	}
	if y.AdsetID == "" {
		return x
	}
	if y.AdsetID < x.AdsetID || (y.AdsetID == x.AdsetID && x.CampaignID == "") ||
		(y.AdsetID == x.AdsetID && y.CampaignID != "" && y.CampaignID < x.CampaignID) {
		return y
	}
	return x
}

// Merge folds o into a. o must not be used afterwards.
func (a *Accumulator) Merge(o *Accumulator) {
	for k, c := range o.cells {
		if cur, ok := a.cells[k]; ok {
			cur.merge(c)
		} else {
			a.cells[k] = c
		}
	}
	for _, at := range o.observed {
		a.observe(at)
	}
	a.ignoredPerf += o.ignoredPerf
}

// Len is the number of leaf cells, breakdown cells included.
func (a *Accumulator) Len() int { return len(a.cells) }

// IgnoredPerformance counts performance rows with no ad, out of range, or an untracked breakdown.
func (a *Accumulator) IgnoredPerformance() int { return a.ignoredPerf }

func nonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
