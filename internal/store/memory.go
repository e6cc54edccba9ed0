package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelcm/admira-attribution/internal/models"
)

type published struct {
	gen       Generation
	overall   []models.EntityDailyMetric
	breakdown []models.EntityDailyMetric
}

// MemoryStore keeps the published snapshot behind an atomic pointer. Readers never see a
// half-written generation.
type MemoryStore struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[published]
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) ReplaceAll(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &published{
		gen:       generationOf(snap, s.now().UTC()),
		overall:   append([]models.EntityDailyMetric(nil), snap.Overall...),
		breakdown: append([]models.EntityDailyMetric(nil), snap.Breakdown...),
	}
	s.cur.Store(p)
	return nil
}

// Current returns the published generation, false before the first successful write.
func (s *MemoryStore) Current() (Generation, bool) {
	p := s.cur.Load()
	if p == nil {
		return Generation{}, false
	}
	return p.gen, true
}

// Query returns rows of the published generation within [from, to]. breakdown selects
// the breakdown grid instead of the overall one; f may be nil.
func (s *MemoryStore) Query(from, to time.Time, breakdown bool, f func(models.EntityDailyMetric) bool) []models.EntityDailyMetric {
	p := s.cur.Load()
	if p == nil {
		return nil
	}
	rows := p.overall
	if breakdown {
		rows = p.breakdown
	}
	var out []models.EntityDailyMetric
	for _, r := range rows {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		if f == nil || f(r) {
			out = append(out, r)
		}
	}
	return out
}
