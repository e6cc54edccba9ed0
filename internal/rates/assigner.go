package rates

import (
	"math"
	"strings"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Segment is one cohort row. Empty match fields are wildcards.
type Segment struct {
	Country     string `yaml:"country"`
	PriceBucket string `yaml:"price_bucket"`
	Store       string `yaml:"store"`
	ProductID   string `yaml:"product_id"`

	TrialConversion float64 `yaml:"trial_conversion" validate:"gte=0,lte=1"`
	TrialRefund     float64 `yaml:"trial_refund" validate:"gte=0,lt=1"`
	PurchaseRefund  float64 `yaml:"purchase_refund" validate:"gte=0,lt=1"`
}

type Defaults struct {
	TrialConversion float64 `yaml:"trial_conversion" validate:"gte=0,lte=1"`
	TrialRefund     float64 `yaml:"trial_refund" validate:"gte=0,lt=1"`
	PurchaseRefund  float64 `yaml:"purchase_refund" validate:"gte=0,lt=1"`
}

type Table struct {
	Segments []Segment `yaml:"segments" validate:"dive"`
	Defaults Defaults  `yaml:"defaults"`
}

// DefaultRates are used when no rates file is configured.
var DefaultRates = Defaults{TrialConversion: 0.35, TrialRefund: 0.05, PurchaseRefund: 0.03}

// Assigner matches lifecycles against a cohort table. It holds no mutable state.
type Assigner struct {
	segments []Segment
	defaults Defaults
}

func NewAssigner(t Table) *Assigner {
	segs := make([]Segment, len(t.Segments))
	for i, s := range t.Segments {
		s.Country = strings.ToUpper(strings.TrimSpace(s.Country))
		s.Store = strings.ToLower(strings.TrimSpace(s.Store))
		s.PriceBucket = strings.TrimSpace(s.PriceBucket)
		s.ProductID = strings.TrimSpace(s.ProductID)
		segs[i] = s
	}
	return &Assigner{segments: segs, defaults: t.Defaults}
}

// Assign returns rates for every lifecycle, valid or not. Defaults apply whenever no
// segment matches; Defaulted is set so the caller can count it.
func (a *Assigner) Assign(lc models.Lifecycle) models.Rates {
	r := models.Rates{
		Conversion:     a.defaults.TrialConversion,
		TrialRefund:    a.defaults.TrialRefund,
		PurchaseRefund: a.defaults.PurchaseRefund,
		Defaulted:      true,
	}
	if seg, ok := a.match(lc); ok {
		r = models.Rates{
			Conversion:     seg.TrialConversion,
			TrialRefund:    seg.TrialRefund,
			PurchaseRefund: seg.PurchaseRefund,
		}
	}
	r.Conversion = clamp(r.Conversion, 1)
	r.TrialRefund = clamp(r.TrialRefund, maxRefund)
	r.PurchaseRefund = clamp(r.PurchaseRefund, maxRefund)

	switch {
	case lc.Converted:
		r.Conversion, r.ConversionConfirmed = 1, true
	case lc.Status == models.StatusTrialCancelled:
		r.Conversion, r.ConversionConfirmed = 0, true
	}
	return r
}

// match returns the most specific matching segment; earlier rows win ties.
func (a *Assigner) match(lc models.Lifecycle) (Segment, bool) {
	best, bestScore := -1, -1
	for i, s := range a.segments {
		score, ok := specificity(s, lc)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Segment{}, false
	}
	return a.segments[best], true
}

func specificity(s Segment, lc models.Lifecycle) (int, bool) {
	score := 0
	for _, f := range [][2]string{
		{s.Country, lc.Dimensions.Country},
		{s.PriceBucket, lc.PriceBucket},
		{s.Store, lc.Dimensions.Store},
		{s.ProductID, lc.Key.ProductID},
	} {
		if f[0] == "" {
			continue
		}
		if f[0] != f[1] {
			return 0, false
		}
		score++
	}
	return score, true
}

// maxRefund keeps a confirmed purchase from estimating to exactly zero.
const maxRefund = 0.99

func clamp(v, hi float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
