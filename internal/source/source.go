// Package source reads the three inputs of a run: attributed events, advertising
// performance and the entity hierarchy.
package source

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Window selects input for one partition. Events are selected per lifecycle key: a key
// belongs to the window containing its credit anchor (models.CreditAnchor), and all of
// its events up to AsOf are returned together.
type Window struct {
	From time.Time // first day, inclusive
	To   time.Time // last day, inclusive
	AsOf time.Time // zero means no cutoff
}

// End is the exclusive upper bound of the window.
func (w Window) End() time.Time { return models.Day(w.To).AddDate(0, 0, 1) }

// ContainsDay reports whether t falls on a day inside the window.
func (w Window) ContainsDay(t time.Time) bool {
	d := models.Day(t)
	return !d.Before(models.Day(w.From)) && !d.After(models.Day(w.To))
}

func (w Window) visible(t time.Time) bool {
	return w.AsOf.IsZero() || !t.After(w.AsOf)
}

// EventSource streams events ordered by user, product and timestamp. fn errors stop the
// stream and are returned unchanged.
type EventSource interface {
	StreamEvents(ctx context.Context, w Window, fn func(models.RawEvent) error) error
}

type PerformanceSource interface {
	LoadPerformance(ctx context.Context, w Window) ([]models.AdPerformance, error)
}

type HierarchySource interface {
	LoadHierarchy(ctx context.Context) (models.Hierarchy, error)
}

// Memory serves all three inputs from slices. It backs the CSV fixtures and tests.
type Memory struct {
	Events      []models.RawEvent
	Performance []models.AdPerformance
	Hierarchy   models.Hierarchy
}

func (m *Memory) StreamEvents(ctx context.Context, w Window, fn func(models.RawEvent) error) error {
	anchors := map[models.LifecycleKey]*models.CreditAnchor{}
	for _, ev := range m.Events {
		if !w.visible(ev.Timestamp) {
			continue
		}
		k := eventKey(ev)
		a, ok := anchors[k]
		if !ok {
			a = &models.CreditAnchor{}
			anchors[k] = a
		}
		a.Observe(ev)
	}

	var out []models.RawEvent
	for _, ev := range m.Events {
		if !w.visible(ev.Timestamp) {
			continue
		}
		if a, ok := anchors[eventKey(ev)]; ok && !a.Time().IsZero() && w.ContainsDay(a.Time()) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := eventKey(out[i]), eventKey(out[j])
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	for _, ev := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) LoadPerformance(ctx context.Context, w Window) ([]models.AdPerformance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.AdPerformance
	for _, p := range m.Performance {
		if w.ContainsDay(p.Date) {
			out = append(out, normalizePerformance(p))
		}
	}
	return out, nil
}

func (m *Memory) LoadHierarchy(ctx context.Context) (models.Hierarchy, error) {
	return m.Hierarchy, ctx.Err()
}

// eventKey matches the grouping key used downstream, so keys differing only in case or
// padding are treated as one.
func eventKey(ev models.RawEvent) models.LifecycleKey {
	return models.LifecycleKey{UserID: strings.TrimSpace(ev.UserID), ProductID: strings.TrimSpace(ev.ProductID)}
}

func coalesce(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// normalizePerformance trims ids and cases breakdown values the same way event dimensions
// are cased, so performance and lifecycle cells share keys.
func normalizePerformance(p models.AdPerformance) models.AdPerformance {
	p.Date = models.Day(p.Date)
	p.AdID = strings.TrimSpace(p.AdID)
	p.AdsetID = strings.TrimSpace(p.AdsetID)
	p.CampaignID = strings.TrimSpace(p.CampaignID)
	p.Breakdown.Type = strings.ToLower(strings.TrimSpace(p.Breakdown.Type))
	p.Breakdown.Value = strings.TrimSpace(p.Breakdown.Value)
	switch p.Breakdown.Type {
	case "":
		p.Breakdown.Value = ""
	case models.BreakdownCountry:
		p.Breakdown.Value = strings.ToUpper(p.Breakdown.Value)
	default:
		p.Breakdown.Value = strings.ToLower(p.Breakdown.Value)
	}
	return p
}
