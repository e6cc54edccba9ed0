package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelcm/admira-attribution/internal/models"
)

var day = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lifecycle(user, ad, adset, campaign string, value string) models.Lifecycle {
	return models.Lifecycle{
		Key:                 models.LifecycleKey{UserID: user, ProductID: "p1"},
		CreditedDate:        day,
		Attribution:         models.Attribution{AdID: ad, AdsetID: adset, CampaignID: campaign},
		Dimensions:          models.Dimensions{Country: "US"},
		Purchased:           true,
		HasConfirmedRevenue: true,
		NetRevenue:          dec(value),
		CurrentValue:        dec(value),
		Rates:               models.Rates{PurchaseRefund: 0.05},
		Valid:               true,
	}
}

func hierarchy() models.Hierarchy {
	return models.Hierarchy{
		Edges: []models.HierarchyEdge{
			{Child: models.Ad("A1"), Parent: models.Adset("S1")},
			{Child: models.Ad("A2"), Parent: models.Adset("S2")},
			{Child: models.Adset("S1"), Parent: models.Campaign("C1")},
			{Child: models.Adset("S2"), Parent: models.Campaign("C1")},
		},
		Names: map[models.EntityRef]string{models.Campaign("C1"): "Summer"},
	}
}

func find(t *testing.T, rows []models.EntityDailyMetric, ref models.EntityRef, b models.Breakdown) models.EntityDailyMetric {
	t.Helper()
	for _, r := range rows {
		if r.Entity == ref && r.Breakdown == b {
			return r
		}
	}
	t.Fatalf("row %s %v not found", ref, b)
	return models.EntityDailyMetric{}
}

func TestCampaignIsSumOfChildren(t *testing.T) {
	acc := NewAccumulator(day, day, []string{models.BreakdownCountry})
	assert.Equal(t, Added, acc.AddLifecycle(lifecycle("u1", "A1", "S1", "C1", "100")))
	assert.Equal(t, Added, acc.AddLifecycle(lifecycle("u2", "A2", "S2", "C1", "50")))
	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A1", Spend: dec("40"), Clicks: 8, PlatformPurchase: 1})
	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A2", Spend: dec("10"), Clicks: 2, PlatformPurchase: 1})

	grid, err := NewEngine(2).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	c := find(t, grid.Overall, models.Campaign("C1"), models.Breakdown{})
	assert.True(t, dec("150").Equal(c.EstimatedRevenue), c.EstimatedRevenue.String())
	assert.True(t, dec("150").Equal(c.AdjustedRevenue))
	assert.True(t, dec("50").Equal(c.Spend))
	assert.True(t, dec("100").Equal(c.Profit))
	assert.Equal(t, 3.0, c.ROAS)
	assert.True(t, dec("5").Equal(c.CPC))
	assert.Equal(t, int64(2), c.LocalPurchases)
	assert.Equal(t, "Summer", c.EntityName)

	// every parent equals the sum of its children
	for _, parent := range []models.EntityRef{models.Adset("S1"), models.Adset("S2"), models.Campaign("C1")} {
		p := find(t, grid.Overall, parent, models.Breakdown{})
		sum := decimal.Zero
		var users int64
		for _, r := range grid.Overall {
			if pr, ok := childOf(r.Entity); ok && pr == parent {
				sum = sum.Add(r.AdjustedRevenue)
				users += r.Users
			}
		}
		assert.True(t, sum.Equal(p.AdjustedRevenue), parent.String())
		assert.Equal(t, users, p.Users, parent.String())
	}
	assert.Equal(t, 0, grid.Stats.OrphanLeafCells)
}

func childOf(r models.EntityRef) (models.EntityRef, bool) {
	switch r {
	case models.Ad("A1"):
		return models.Adset("S1"), true
	case models.Ad("A2"):
		return models.Adset("S2"), true
	case models.Adset("S1"), models.Adset("S2"):
		return models.Campaign("C1"), true
	}
	return models.EntityRef{}, false
}

func TestBreakdownRowsAreIndependentOfAll(t *testing.T) {
	acc := NewAccumulator(day, day, []string{models.BreakdownCountry})
	withCountry := lifecycle("u1", "A1", "S1", "C1", "30")
	noCountry := lifecycle("u2", "A1", "S1", "C1", "20")
	noCountry.Dimensions = models.Dimensions{}
	acc.AddLifecycle(withCountry)
	acc.AddLifecycle(noCountry)

	grid, err := NewEngine(1).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	all := find(t, grid.Overall, models.Ad("A1"), models.Breakdown{})
	us := find(t, grid.Breakdown, models.Ad("A1"), models.Breakdown{Type: models.BreakdownCountry, Value: "US"})
	assert.Equal(t, int64(2), all.Users)
	assert.Equal(t, int64(1), us.Users)
	assert.True(t, dec("50").Equal(all.EstimatedRevenue))
	assert.True(t, dec("30").Equal(us.EstimatedRevenue))
}

func TestAccuracyWithoutReferenceCounts(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		lc := lifecycle(u, "A1", "S1", "C1", "0")
		lc.Purchased, lc.HasTrial = false, true
		lc.CurrentValue = dec("10")
		acc.AddLifecycle(lc)
	}
	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A1", Spend: dec("25")})

	grid, err := NewEngine(1).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	ad := find(t, grid.Overall, models.Ad("A1"), models.Breakdown{})
	assert.Equal(t, int64(5), ad.LocalTrials)
	assert.Equal(t, 100.0, ad.TrialAccuracy)
	assert.True(t, dec("50").Equal(ad.AdjustedRevenue))
	assert.True(t, dec("5").Equal(ad.CostPerTrial))
	assert.Equal(t, 0, grid.Stats.GuardedDivisions)
}

func TestUndercountAdjustsUpward(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	for _, u := range []string{"u1", "u2"} {
		lc := lifecycle(u, "A1", "S1", "C1", "0")
		lc.Purchased, lc.HasTrial = false, true
		lc.CurrentValue = dec("10")
		acc.AddLifecycle(lc)
	}
	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A1", Spend: dec("10"), PlatformTrials: 4})

	grid, err := NewEngine(1).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	ad := find(t, grid.Overall, models.Ad("A1"), models.Breakdown{})
	assert.Equal(t, 50.0, ad.TrialAccuracy)
	assert.True(t, dec("40").Equal(ad.AdjustedRevenue), ad.AdjustedRevenue.String())
}

func TestGuardedDivisionWhenNoLocalCounts(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A1", Spend: dec("10"), PlatformTrials: 3})

	grid, err := NewEngine(1).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	ad := find(t, grid.Overall, models.Ad("A1"), models.Breakdown{})
	assert.Equal(t, 0.0, ad.TrialAccuracy)
	assert.True(t, ad.AdjustedRevenue.IsZero())
	assert.Equal(t, 0.0, ad.ROAS)
	assert.True(t, dec("-10").Equal(ad.Profit))
	assert.Equal(t, 1, grid.Stats.GuardedDivisions)
}

func TestBuildIsDeterministic(t *testing.T) {
	build := func(reverse bool) Grid {
		lcs := []models.Lifecycle{
			lifecycle("u1", "A1", "S1", "C1", "10.10"),
			lifecycle("u2", "A2", "S2", "C1", "20.20"),
			lifecycle("u3", "A2", "S2", "C1", "5.05"),
		}
		if reverse {
			lcs[0], lcs[2] = lcs[2], lcs[0]
		}
		acc := NewAccumulator(day, day.AddDate(0, 0, 1), []string{models.BreakdownCountry})
		for _, lc := range lcs {
			acc.AddLifecycle(lc)
		}
		g, err := NewEngine(4).Build(context.Background(), acc, hierarchy())
		require.NoError(t, err)
		return g
	}
	a, b := build(false), build(true)
	require.Equal(t, len(a.Overall), len(b.Overall))
	for i := range a.Overall {
		assert.Equal(t, a.Overall[i].MetricKey, b.Overall[i].MetricKey)
		assert.True(t, a.Overall[i].AdjustedRevenue.Equal(b.Overall[i].AdjustedRevenue))
	}
}

func TestHierarchyFilledFromObservedAttribution(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	acc.AddLifecycle(lifecycle("u1", "A9", "S9", "C9", "12"))

	grid, err := NewEngine(1).Build(context.Background(), acc, models.Hierarchy{})
	require.NoError(t, err)

	c := find(t, grid.Overall, models.Campaign("C9"), models.Breakdown{})
	assert.True(t, dec("12").Equal(c.EstimatedRevenue))
}

func TestTreeRejectsLevelSkippingEdges(t *testing.T) {
	tree := NewTree(models.Hierarchy{Edges: []models.HierarchyEdge{
		{Child: models.Ad("A1"), Parent: models.Campaign("C1")},
		{Child: models.Ad("A1"), Parent: models.Adset("S2")},
		{Child: models.Ad("A1"), Parent: models.Adset("S1")},
	}})
	p, ok := tree.Parent(models.Ad("A1"))
	require.True(t, ok)
	assert.Equal(t, models.Adset("S1"), p)
	assert.Equal(t, 1, tree.Rejected())
}

func TestAccumulatorMergeMatchesSinglePass(t *testing.T) {
	lcs := []models.Lifecycle{
		lifecycle("u1", "A1", "S1", "C1", "10"),
		lifecycle("u2", "A1", "S1", "C1", "15"),
		lifecycle("u3", "A2", "S2", "C1", "7"),
	}
	single := NewAccumulator(day, day, nil)
	for _, lc := range lcs {
		single.AddLifecycle(lc)
	}
	left, right := NewAccumulator(day, day, nil), NewAccumulator(day, day, nil)
	left.AddLifecycle(lcs[0])
	right.AddLifecycle(lcs[1])
	right.AddLifecycle(lcs[2])
	left.Merge(right)

	require.Equal(t, single.Len(), left.Len())
	for k, c := range single.cells {
		assert.Equal(t, c.users, left.cells[k].users)
		assert.True(t, c.estimated.Equal(left.cells[k].estimated))
	}
}

func TestAccumulatorDropsOutOfRangeAndUnattributed(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	late := lifecycle("u1", "A1", "S1", "C1", "1")
	late.CreditedDate = day.AddDate(0, 0, 1)
	assert.Equal(t, OutOfRange, acc.AddLifecycle(late))
	assert.Equal(t, Unattributed, acc.AddLifecycle(lifecycle("u2", "", "", "", "1")))

	acc.AddPerformance(models.AdPerformance{Date: day, AdID: "A1", Breakdown: models.Breakdown{Type: "age", Value: "18-24"}})
	acc.AddPerformance(models.AdPerformance{Date: day})
	assert.Equal(t, 2, acc.IgnoredPerformance())
	assert.Equal(t, 0, acc.Len())
}

func TestSafeDivGuards(t *testing.T) {
	assert.Equal(t, 0.0, safeDiv(1, 0))
	assert.Equal(t, 0.5, safeDiv(1, 2))
	assert.Equal(t, 0.0, ratio(safeDiv(0, 0)))
}

func TestActualRefundRateCountsRefundedPayersOnly(t *testing.T) {
	acc := NewAccumulator(day, day, nil)
	paid := lifecycle("u1", "A1", "S1", "C1", "100")
	paidRefunded := lifecycle("u2", "A1", "S1", "C1", "0")
	paidRefunded.HasTrueRefund = true
	acc.AddLifecycle(paid)
	acc.AddLifecycle(paidRefunded)
	for _, u := range []string{"u3", "u4"} {
		lc := lifecycle(u, "A1", "S1", "C1", "0")
		lc.HasConfirmedRevenue = false
		lc.HasTrueRefund = true
		acc.AddLifecycle(lc)
	}

	grid, err := NewEngine(1).Build(context.Background(), acc, hierarchy())
	require.NoError(t, err)

	a1 := find(t, grid.Overall, models.Ad("A1"), models.Breakdown{})
	assert.Equal(t, int64(3), a1.LocalRefunds)
	assert.Equal(t, 0.5, a1.ActualRefundRate)
}
