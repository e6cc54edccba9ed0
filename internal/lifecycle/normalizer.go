package lifecycle

import (
	"sort"
	"strings"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Skip reasons reported by the Grouper.
const (
	SkipMissingUser    = "missing_user_id"
	SkipMissingProduct = "missing_product_id"
	SkipUnknownKind    = "unknown_event_kind"
	SkipZeroTimestamp  = "zero_timestamp"
)

// Grouper turns a stream ordered by (user, product) into one event group per key.
// Events that cannot be keyed are counted and dropped.
type Grouper struct {
	emit    func(models.LifecycleKey, []models.RawEvent) error
	key     models.LifecycleKey
	buf     []models.RawEvent
	skipped map[string]int
	events  int
}

func NewGrouper(emit func(models.LifecycleKey, []models.RawEvent) error) *Grouper {
	return &Grouper{emit: emit, skipped: map[string]int{}}
}

// Add normalizes ev and appends it to the current group, flushing on key change.
func (g *Grouper) Add(ev models.RawEvent) error {
	g.events++
	ev, reason := normalize(ev)
	if reason != "" {
		g.skipped[reason]++
		return nil
	}
	k := models.LifecycleKey{UserID: ev.UserID, ProductID: ev.ProductID}
	if len(g.buf) > 0 && k != g.key {
		if err := g.Flush(); err != nil {
			return err
		}
	}
	g.key = k
	g.buf = append(g.buf, ev)
	return nil
}

// Flush emits the pending group, if any.
func (g *Grouper) Flush() error {
	if len(g.buf) == 0 {
		return nil
	}
	evs := g.buf
	g.buf = nil
	SortEvents(evs)
	return g.emit(g.key, evs)
}

// Skipped returns skip counts by reason.
func (g *Grouper) Skipped() map[string]int {
	out := make(map[string]int, len(g.skipped))
	for k, v := range g.skipped {
		out[k] = v
	}
	return out
}

// Events returns how many events were offered to the grouper.
func (g *Grouper) Events() int { return g.events }

func normalize(ev models.RawEvent) (models.RawEvent, string) {
	ev.UserID = strings.TrimSpace(ev.UserID)
	ev.ProductID = strings.TrimSpace(ev.ProductID)
	ev.Kind = models.EventKind(strings.ToLower(strings.TrimSpace(string(ev.Kind))))
	switch {
	case ev.UserID == "":
		return ev, SkipMissingUser
	case ev.ProductID == "":
		return ev, SkipMissingProduct
	case !ev.Kind.Valid():
		return ev, SkipUnknownKind
	case ev.Timestamp.IsZero():
		return ev, SkipZeroTimestamp
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
	ev.Attribution.AdID = strings.TrimSpace(ev.Attribution.AdID)
	ev.Attribution.AdsetID = strings.TrimSpace(ev.Attribution.AdsetID)
	ev.Attribution.CampaignID = strings.TrimSpace(ev.Attribution.CampaignID)
	ev.Dimensions.Country = strings.ToUpper(strings.TrimSpace(ev.Dimensions.Country))
	ev.Dimensions.Device = strings.ToLower(strings.TrimSpace(ev.Dimensions.Device))
	ev.Dimensions.Store = strings.ToLower(strings.TrimSpace(ev.Dimensions.Store))
	ev.Dimensions.Platform = strings.ToLower(strings.TrimSpace(ev.Dimensions.Platform))
	return ev, ""
}

// SortEvents orders events by timestamp, then kind, then revenue, so that
// classification never depends on the order the store returned them in.
func SortEvents(evs []models.RawEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c < 0
		}
		return a.Attribution.AdID < b.Attribution.AdID
	})
}
