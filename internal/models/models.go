package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	TrialStarted    EventKind = "trial_started"
	TrialConverted  EventKind = "trial_converted"
	TrialCancelled  EventKind = "trial_cancelled"
	InitialPurchase EventKind = "initial_purchase"
	Renewal         EventKind = "renewal"
	Cancellation    EventKind = "cancellation"
)

// Rank orders kinds that share a timestamp.
func (k EventKind) Rank() int {
	switch k {
	case TrialStarted:
		return 0
	case InitialPurchase:
		return 1
	case TrialConverted:
		return 2
	case Renewal:
		return 3
	case TrialCancelled:
		return 4
	case Cancellation:
		return 5
	}
	return 6
}

func (k EventKind) Valid() bool { return k.Rank() < 6 }

// Dimensions are the optional slicing attributes carried by events.
type Dimensions struct {
	Country  string
	Device   string
	Store    string
	Platform string
}

// Get returns the value of a breakdown dimension by name.
func (d Dimensions) Get(name string) string {
	switch name {
	case BreakdownCountry:
		return d.Country
	case BreakdownDevice:
		return d.Device
	case BreakdownStore:
		return d.Store
	case BreakdownPlatform:
		return d.Platform
	}
	return ""
}

type Attribution struct {
	AdID       string
	AdsetID    string
	CampaignID string
}

func (a Attribution) Empty() bool { return a.AdID == "" }

type RawEvent struct {
	UserID      string
	ProductID   string
	Kind        EventKind
	Timestamp   time.Time
	Revenue     decimal.Decimal
	Currency    string
	Attribution Attribution
	Dimensions  Dimensions
}

// CreditAnchor tracks the instant a key's credited date comes from: the earliest trial
// start, else the earliest paid conversion, purchase or renewal, else the earliest unpaid
// one, else the earliest event. Event order does not matter.
type CreditAnchor struct {
	trial, paid, confirmed, first time.Time
}

func (a *CreditAnchor) Observe(ev RawEvent) {
	if ev.Timestamp.IsZero() || !ev.Kind.Valid() {
		return
	}
	a.first = earliest(a.first, ev.Timestamp)
	switch ev.Kind {
	case TrialStarted:
		a.trial = earliest(a.trial, ev.Timestamp)
	case TrialConverted, InitialPurchase, Renewal:
		a.confirmed = earliest(a.confirmed, ev.Timestamp)
		if ev.Revenue.IsPositive() {
			a.paid = earliest(a.paid, ev.Timestamp)
		}
	}
}

// Time is zero when no usable event was observed.
func (a CreditAnchor) Time() time.Time {
	switch {
	case !a.trial.IsZero():
		return a.trial
	case !a.paid.IsZero():
		return a.paid
	case !a.confirmed.IsZero():
		return a.confirmed
	}
	return a.first
}

func earliest(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}

type LifecycleKey struct {
	UserID    string
	ProductID string
}

type LifecycleStatus string

const (
	StatusNoActivity              LifecycleStatus = "no_activity"
	StatusPendingTrial            LifecycleStatus = "pending_trial"
	StatusTrialCancelled          LifecycleStatus = "trial_cancelled"
	StatusTrialConverted          LifecycleStatus = "trial_converted"
	StatusTrialConvertedCancelled LifecycleStatus = "trial_converted_cancelled"
	StatusPurchased               LifecycleStatus = "purchased"
	StatusPurchasedCancelled      LifecycleStatus = "purchased_cancelled"
	StatusRefunded                LifecycleStatus = "refunded"
)

type ValueStatus string

const (
	ValuePendingTrial        ValueStatus = "pending_trial"
	ValuePostConversionGrace ValueStatus = "post_conversion_grace"
	ValueFinal               ValueStatus = "final_value"
	ValueRefunded            ValueStatus = "refunded"
)

// Rates are the cohort-assigned (or confirmed) probabilities for one lifecycle.
type Rates struct {
	Conversion          float64
	ConversionConfirmed bool
	TrialRefund         float64
	PurchaseRefund      float64
	Defaulted           bool
}

// Lifecycle is the classified state of one (user, product) relationship.
type Lifecycle struct {
	Key          LifecycleKey
	CreditedDate time.Time
	Status       LifecycleStatus
	Attribution  Attribution
	Dimensions   Dimensions
	Currency     string

	HasTrial            bool
	Converted           bool
	Purchased           bool
	Cancelled           bool
	HasConfirmedRevenue bool
	HasTrueRefund       bool

	TrialStartedAt time.Time
	ConfirmedAt    time.Time
	NetRevenue     decimal.Decimal
	GrossRevenue   decimal.Decimal

	Price       decimal.Decimal
	PriceBucket string
	Rates       Rates

	CurrentValue decimal.Decimal
	ValueStatus  ValueStatus

	Valid         bool
	InvalidReason string
	EventCount    int
}

// TrialPath reports whether the lifecycle counts toward the trial signal.
func (l Lifecycle) TrialPath() bool { return l.HasTrial || l.Converted }

// PurchasePath reports whether the lifecycle counts toward the direct-purchase signal.
func (l Lifecycle) PurchasePath() bool { return !l.TrialPath() && l.Purchased }

// AdPerformance is one row of the advertising platform's daily report.
type AdPerformance struct {
	Date             time.Time
	AdID             string
	AdsetID          string
	CampaignID       string
	Breakdown        Breakdown
	Spend            decimal.Decimal
	Impressions      int64
	Clicks           int64
	PlatformTrials   int64
	PlatformPurchase int64
}

// Day truncates t to its UTC calendar day. Grid dates are always produced by Day so they
// compare equal as map keys.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
