package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType is the level of an advertising entity.
type EntityType uint8

const (
	EntityAd EntityType = iota + 1
	EntityAdset
	EntityCampaign
)

func (t EntityType) String() string {
	switch t {
	case EntityAd:
		return "ad"
	case EntityAdset:
		return "adset"
	case EntityCampaign:
		return "campaign"
	}
	return "unknown"
}

// Parent returns the next level up, false for campaigns.
func (t EntityType) Parent() (EntityType, bool) {
	switch t {
	case EntityAd:
		return EntityAdset, true
	case EntityAdset:
		return EntityCampaign, true
	}
	return 0, false
}

func ParseEntityType(s string) (EntityType, error) {
	switch s {
	case "ad":
		return EntityAd, nil
	case "adset":
		return EntityAdset, nil
	case "campaign":
		return EntityCampaign, nil
	}
	return 0, fmt.Errorf("unknown entity type %q", s)
}

type EntityRef struct {
	Type EntityType
	ID   string
}

func Ad(id string) EntityRef       { return EntityRef{Type: EntityAd, ID: id} }
func Adset(id string) EntityRef    { return EntityRef{Type: EntityAdset, ID: id} }
func Campaign(id string) EntityRef { return EntityRef{Type: EntityCampaign, ID: id} }

func (r EntityRef) String() string { return r.Type.String() + ":" + r.ID }

type HierarchyEdge struct {
	Child  EntityRef
	Parent EntityRef
}

const (
	BreakdownCountry  = "country"
	BreakdownDevice   = "device"
	BreakdownStore    = "store"
	BreakdownPlatform = "platform"
)

// Breakdown is empty for "all" rows.
type Breakdown struct {
	Type  string
	Value string
}

func (b Breakdown) IsAll() bool { return b.Type == "" }

type MetricKey struct {
	Entity    EntityRef
	Date      time.Time
	Breakdown Breakdown
}

// Metrics is the shared measurement block of every grid row.
type Metrics struct {
	LocalTrials        int64
	LocalPurchases     int64
	LocalConversions   int64
	LocalRefunds       int64
	ReferenceTrials    int64
	ReferencePurchases int64
	Users              int64

	Spend       decimal.Decimal
	Impressions int64
	Clicks      int64

	ActualRevenue    decimal.Decimal
	EstimatedRevenue decimal.Decimal
	AdjustedRevenue  decimal.Decimal
	Profit           decimal.Decimal
	ROAS             float64

	TrialAccuracy    float64
	PurchaseAccuracy float64

	EstConversionRate     float64
	EstTrialRefundRate    float64
	EstPurchaseRefundRate float64
	ActualConversionRate  float64
	ActualRefundRate      float64

	CostPerTrial    decimal.Decimal
	CostPerPurchase decimal.Decimal
	CPC             decimal.Decimal
}

type EntityDailyMetric struct {
	MetricKey
	EntityName string
	Metrics
}

// Hierarchy is the read-only ad → adset → campaign lookup with display names.
type Hierarchy struct {
	Edges []HierarchyEdge
	Names map[EntityRef]string
}
