package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Invalid reasons.
const (
	InvalidNoActivity   = "no_trial_or_purchase"
	InvalidUnattributed = "unattributed"
)

// Classify derives one lifecycle from every event of a key. The result depends only on
// the set of events: flags are OR-ed over the whole history and timestamps are taken as
// minimums, so input order never matters.
func Classify(key models.LifecycleKey, events []models.RawEvent) models.Lifecycle {
	evs := make([]models.RawEvent, len(events))
	copy(evs, events)
	SortEvents(evs)

	lc := models.Lifecycle{
		Key:          key,
		Status:       models.StatusNoActivity,
		NetRevenue:   decimal.Zero,
		GrossRevenue: decimal.Zero,
		CurrentValue: decimal.Zero,
		Price:        decimal.Zero,
		EventCount:   len(evs),
	}
	if len(evs) == 0 {
		lc.InvalidReason = InvalidNoActivity
		return lc
	}

	var (
		trialCancelled bool
		zeroCancel     bool
		confirmedAt    time.Time
		anchor         models.CreditAnchor
	)
	for _, ev := range evs {
		anchor.Observe(ev)
		positive := ev.Revenue.IsPositive()
		lc.NetRevenue = lc.NetRevenue.Add(ev.Revenue)
		if positive && ev.Revenue.GreaterThan(lc.GrossRevenue) {
			lc.GrossRevenue = ev.Revenue
		}
		if lc.Currency == "" && ev.Currency != "" {
			lc.Currency = ev.Currency
		}

		switch ev.Kind {
		case models.TrialStarted:
			lc.HasTrial = true
			lc.TrialStartedAt = minTime(lc.TrialStartedAt, ev.Timestamp)
		case models.TrialConverted:
			lc.Converted = true
			confirmedAt = minTime(confirmedAt, ev.Timestamp)
		case models.InitialPurchase:
			lc.Purchased = true
			confirmedAt = minTime(confirmedAt, ev.Timestamp)
		case models.Renewal:
			lc.Purchased = true
			confirmedAt = minTime(confirmedAt, ev.Timestamp)
		case models.TrialCancelled:
			trialCancelled = true
		case models.Cancellation:
			switch {
			case ev.Revenue.IsNegative():
				lc.HasTrueRefund = true
			case ev.Revenue.IsZero():
				zeroCancel = true
			}
		}
		if positive && confirmsRevenue(ev.Kind) {
			lc.HasConfirmedRevenue = true
		}
	}
	lc.ConfirmedAt = confirmedAt
	lc.Cancelled = zeroCancel || trialCancelled
	lc.Status = status(lc, trialCancelled, zeroCancel)

	// Sources partition keys by the same anchor, so a key is read by exactly one run.
	credited := anchor.Time()
	if credited.IsZero() {
		credited = evs[0].Timestamp
	}
	lc.CreditedDate = models.Day(credited)

	lc.Attribution = attribution(evs)
	lc.Dimensions = dimensions(evs)

	lc.Valid = true
	switch {
	case lc.Status == models.StatusNoActivity:
		lc.Valid = false
		lc.InvalidReason = InvalidNoActivity
	case lc.Attribution.Empty():
		lc.Valid = false
		lc.InvalidReason = InvalidUnattributed
	}
	return lc
}

func status(lc models.Lifecycle, trialCancelled, zeroCancel bool) models.LifecycleStatus {
	if lc.HasTrueRefund {
		return models.StatusRefunded
	}
	if lc.HasTrial || lc.Converted {
		switch {
		case lc.Converted && zeroCancel:
			return models.StatusTrialConvertedCancelled
		case lc.Converted:
			return models.StatusTrialConverted
		case trialCancelled || zeroCancel:
			return models.StatusTrialCancelled
		}
		return models.StatusPendingTrial
	}
	if lc.Purchased {
		if zeroCancel {
			return models.StatusPurchasedCancelled
		}
		return models.StatusPurchased
	}
	return models.StatusNoActivity
}

func confirmsRevenue(k models.EventKind) bool {
	return k == models.TrialConverted || k == models.InitialPurchase || k == models.Renewal
}

// attribution picks the ad seen on most events; ties go to the earliest one.
func attribution(evs []models.RawEvent) models.Attribution {
	counts := map[string]int{}
	first := map[string]models.Attribution{}
	order := []string{}
	for _, ev := range evs {
		id := ev.Attribution.AdID
		if id == "" {
			continue
		}
		if _, ok := first[id]; !ok {
			first[id] = ev.Attribution
			order = append(order, id)
		}
		counts[id]++
		a := first[id]
		if a.AdsetID == "" {
			a.AdsetID = ev.Attribution.AdsetID
		}
		if a.CampaignID == "" {
			a.CampaignID = ev.Attribution.CampaignID
		}
		first[id] = a
	}
	best := ""
	for _, id := range order {
		if best == "" || counts[id] > counts[best] {
			best = id
		}
	}
	if best == "" {
		return models.Attribution{}
	}
	return first[best]
}

func dimensions(evs []models.RawEvent) models.Dimensions {
	var d models.Dimensions
	for _, ev := range evs {
		if d.Country == "" {
			d.Country = ev.Dimensions.Country
		}
		if d.Device == "" {
			d.Device = ev.Dimensions.Device
		}
		if d.Store == "" {
			d.Store = ev.Dimensions.Store
		}
		if d.Platform == "" {
			d.Platform = ev.Dimensions.Platform
		}
	}
	return d
}

func minTime(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}
