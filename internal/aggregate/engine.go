package aggregate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelcm/admira-attribution/internal/accuracy"
	"github.com/angelcm/admira-attribution/internal/models"
)

// Grid is the output of one build: "all" rows and breakdown rows for every level.
type Grid struct {
	Overall   []models.EntityDailyMetric
	Breakdown []models.EntityDailyMetric
	Stats     Stats
}

type Stats struct {
	LeafCells         int
	GuardedDivisions  int
	RejectedEdges     int
	OrphanLeafCells   int
	IgnoredPerfRows   int
	RolledUpAdsets    int
	RolledUpCampaigns int
}

type Engine struct {
	Workers int
}

func NewEngine(workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{Workers: workers}
}

type dayResult struct {
	rows    []models.EntityDailyMetric
	guarded int
	orphans int
	adsets  int
	camps   int
}

// Build finalizes the leaf cells and rolls them up the hierarchy. Dates are independent
// and are processed in parallel; nothing is returned unless every date succeeds.
func (e *Engine) Build(ctx context.Context, acc *Accumulator, h models.Hierarchy) (Grid, error) {
	tree := NewTree(h)
	tree.fill(acc.observed)

	byDate := map[time.Time][]models.MetricKey{}
	for k := range acc.cells {
		byDate[k.Date] = append(byDate[k.Date], k)
	}
	dates := lo.Keys(byDate)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	results := make([]dayResult, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i, d := range dates {
		i, keys := i, byDate[d]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = buildDay(acc, keys, tree)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Grid{}, err
	}

	grid := Grid{Stats: Stats{
		LeafCells:       acc.Len(),
		RejectedEdges:   tree.Rejected(),
		IgnoredPerfRows: acc.IgnoredPerformance(),
	}}
	for _, r := range results {
		for _, row := range r.rows {
			if row.Breakdown.IsAll() {
				grid.Overall = append(grid.Overall, row)
			} else {
				grid.Breakdown = append(grid.Breakdown, row)
			}
		}
		grid.Stats.GuardedDivisions += r.guarded
		grid.Stats.OrphanLeafCells += r.orphans
		grid.Stats.RolledUpAdsets += r.adsets
		grid.Stats.RolledUpCampaigns += r.camps
	}
	SortRows(grid.Overall)
	SortRows(grid.Breakdown)
	return grid, nil
}

// buildDay finalizes one date's leaf cells, then sums ads into adsets and adsets into
// campaigns. Parents never look at lifecycles.
func buildDay(acc *Accumulator, keys []models.MetricKey, tree *Tree) dayResult {
	var res dayResult

	leaves := make([]models.EntityDailyMetric, 0, len(keys))
	for _, k := range keys {
		row, guarded := finalizeLeaf(k, acc.cells[k])
		row.EntityName = tree.Name(k.Entity)
		if guarded {
			res.guarded++
		}
		leaves = append(leaves, row)
	}
	SortRows(leaves)

	adsets, orphans := rollup(leaves, tree)
	res.orphans = orphans
	campaigns, _ := rollup(adsets, tree)
	res.adsets, res.camps = len(adsets), len(campaigns)

	res.rows = make([]models.EntityDailyMetric, 0, len(leaves)+len(adsets)+len(campaigns))
	res.rows = append(res.rows, leaves...)
	res.rows = append(res.rows, adsets...)
	res.rows = append(res.rows, campaigns...)
	return res
}

func finalizeLeaf(k models.MetricKey, c *cell) (models.EntityDailyMetric, bool) {
	m := models.Metrics{
		LocalTrials:        c.localTrials,
		LocalPurchases:     c.localPurchases,
		LocalConversions:   c.localConversions,
		LocalRefunds:       c.localRefunds,
		ReferenceTrials:    c.referenceTrials,
		ReferencePurchases: c.referencePurchases,
		Users:              c.users,
		Spend:              money(c.spend),
		Impressions:        c.impressions,
		Clicks:             c.clicks,
		ActualRevenue:      money(c.actualRevenue),
		EstimatedRevenue:   money(c.estimated),
	}

	rec := accuracy.Reconcile(accuracy.Counts{
		LocalTrials:        c.localTrials,
		LocalPurchases:     c.localPurchases,
		ReferenceTrials:    c.referenceTrials,
		ReferencePurchases: c.referencePurchases,
	}, m.EstimatedRevenue)
	m.TrialAccuracy = ratio(rec.TrialRatio)
	m.PurchaseAccuracy = ratio(rec.PurchaseRatio)
	m.AdjustedRevenue = money(rec.Adjusted)

	m.EstConversionRate = ratio(mean(c.convSum, c.convN))
	m.EstTrialRefundRate = ratio(mean(c.trialRefundSum, c.trialRefundN))
	m.EstPurchaseRefundRate = ratio(mean(c.purchaseRefundSum, c.purchaseRefundN))
	m.ActualConversionRate = ratio(safeDiv(float64(c.localConversions), float64(c.localTrials)))
	m.ActualRefundRate = ratio(safeDiv(float64(c.refundedPayers), float64(c.payers)))

	derive(&m)
	// A cell with nothing to reconcile is not a guarded division worth reporting.
	guarded := rec.Guarded && (c.users > 0 || c.referenceTrials > 0 || c.referencePurchases > 0)
	return models.EntityDailyMetric{MetricKey: k, Metrics: m}, guarded
}

type parentAcc struct {
	row       models.EntityDailyMetric
	children  int
	ratioSums [7]float64
}

// rollup sums child rows into their parents for the same date and breakdown. Additive
// fields are summed; ratio fields become the plain mean over children. Children with no
// known parent are counted as orphans.
func rollup(children []models.EntityDailyMetric, tree *Tree) ([]models.EntityDailyMetric, int) {
	parents := map[models.MetricKey]*parentAcc{}
	orphans := 0
	for _, ch := range children {
		p, ok := tree.Parent(ch.Entity)
		if !ok {
			orphans++
			continue
		}
		k := models.MetricKey{Entity: p, Date: ch.Date, Breakdown: ch.Breakdown}
		pa, ok := parents[k]
		if !ok {
			pa = &parentAcc{row: models.EntityDailyMetric{MetricKey: k, EntityName: tree.Name(p), Metrics: zeroMetrics()}}
			parents[k] = pa
		}
		addMetrics(&pa.row.Metrics, ch.Metrics)
		for i, v := range ratioFields(ch.Metrics) {
			pa.ratioSums[i] += v
		}
		pa.children++
	}

	out := make([]models.EntityDailyMetric, 0, len(parents))
	for _, pa := range parents {
		n := float64(pa.children)
		m := &pa.row.Metrics
		m.TrialAccuracy = ratio(pa.ratioSums[0] / n)
		m.PurchaseAccuracy = ratio(pa.ratioSums[1] / n)
		m.EstConversionRate = ratio(pa.ratioSums[2] / n)
		m.EstTrialRefundRate = ratio(pa.ratioSums[3] / n)
		m.EstPurchaseRefundRate = ratio(pa.ratioSums[4] / n)
		m.ActualConversionRate = ratio(pa.ratioSums[5] / n)
		m.ActualRefundRate = ratio(pa.ratioSums[6] / n)
		derive(m)
		out = append(out, pa.row)
	}
	SortRows(out)
	return out, orphans
}

func ratioFields(m models.Metrics) [7]float64 {
	return [7]float64{
		m.TrialAccuracy,
		m.PurchaseAccuracy,
		m.EstConversionRate,
		m.EstTrialRefundRate,
		m.EstPurchaseRefundRate,
		m.ActualConversionRate,
		m.ActualRefundRate,
	}
}

func addMetrics(dst *models.Metrics, src models.Metrics) {
	dst.LocalTrials += src.LocalTrials
	dst.LocalPurchases += src.LocalPurchases
	dst.LocalConversions += src.LocalConversions
	dst.LocalRefunds += src.LocalRefunds
	dst.ReferenceTrials += src.ReferenceTrials
	dst.ReferencePurchases += src.ReferencePurchases
	dst.Users += src.Users
	dst.Spend = dst.Spend.Add(src.Spend)
	dst.Impressions += src.Impressions
	dst.Clicks += src.Clicks
	dst.ActualRevenue = dst.ActualRevenue.Add(src.ActualRevenue)
	dst.EstimatedRevenue = dst.EstimatedRevenue.Add(src.EstimatedRevenue)
	dst.AdjustedRevenue = dst.AdjustedRevenue.Add(src.AdjustedRevenue)
}

func zeroMetrics() models.Metrics {
	return models.Metrics{
		Spend:            decimal.Zero,
		ActualRevenue:    decimal.Zero,
		EstimatedRevenue: decimal.Zero,
		AdjustedRevenue:  decimal.Zero,
	}
}

// derive fills the metrics that follow from the summed fields.
func derive(m *models.Metrics) {
	m.Profit = m.AdjustedRevenue.Sub(m.Spend)
	m.ROAS = 0
	if m.Spend.IsPositive() {
		m.ROAS = ratio(m.AdjustedRevenue.Div(m.Spend).InexactFloat64())
	}
	m.CostPerTrial = costPer(m.Spend, m.LocalTrials)
	m.CostPerPurchase = costPer(m.Spend, m.LocalPurchases)
	m.CPC = costPer(m.Spend, m.Clicks)
}

func costPer(spend decimal.Decimal, n int64) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return money(spend.Div(decimal.NewFromInt(n)))
}

// SortRows orders rows by level, entity, date and breakdown.
func SortRows(rows []models.EntityDailyMetric) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].MetricKey, rows[j].MetricKey
		if a.Entity.Type != b.Entity.Type {
			return a.Entity.Type < b.Entity.Type
		}
		if a.Entity.ID != b.Entity.ID {
			return a.Entity.ID < b.Entity.ID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Breakdown.Type != b.Breakdown.Type {
			return a.Breakdown.Type < b.Breakdown.Type
		}
		return a.Breakdown.Value < b.Breakdown.Value
	})
}

func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func ratio(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Round(f*1e4) / 1e4
}

func mean(sum float64, n int64) float64 { return safeDiv(sum, float64(n)) }

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
