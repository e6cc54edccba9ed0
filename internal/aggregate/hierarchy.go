package aggregate

import (
	"sort"

	"github.com/angelcm/admira-attribution/internal/models"
)

// Tree resolves parents for rollup. Edges that skip a level or point at the wrong type
// are rejected; when a child has several parents the smallest one wins.
type Tree struct {
	parents  map[models.EntityRef]models.EntityRef
	names    map[models.EntityRef]string
	rejected int
}

func NewTree(h models.Hierarchy) *Tree {
	t := &Tree{
		parents: make(map[models.EntityRef]models.EntityRef, len(h.Edges)),
		names:   make(map[models.EntityRef]string, len(h.Names)),
	}
	edges := append([]models.HierarchyEdge(nil), h.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Child != edges[j].Child {
			return refLess(edges[i].Child, edges[j].Child)
		}
		return refLess(edges[i].Parent, edges[j].Parent)
	})
	for _, e := range edges {
		if !t.link(e.Child, e.Parent) {
			t.rejected++
		}
	}
	for r, n := range h.Names {
		t.names[r] = n
	}
	return t
}

func (t *Tree) link(child, parent models.EntityRef) bool {
	want, ok := child.Type.Parent()
	if !ok || parent.Type != want || child.ID == "" || parent.ID == "" {
		return false
	}
	if _, exists := t.parents[child]; exists {
		return true
	}
	t.parents[child] = parent
	return true
}

// fill adds edges seen on events and performance rows where the lookup has none.
func (t *Tree) fill(observed map[string]models.Attribution) {
	ids := make([]string, 0, len(observed))
	for id := range observed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := observed[id]
		ad := models.Ad(id)
		if _, ok := t.parents[ad]; !ok && a.AdsetID != "" {
			t.link(ad, models.Adset(a.AdsetID))
		}
		if a.AdsetID != "" && a.CampaignID != "" {
			if _, ok := t.parents[models.Adset(a.AdsetID)]; !ok {
				t.link(models.Adset(a.AdsetID), models.Campaign(a.CampaignID))
			}
		}
	}
}

func (t *Tree) Parent(r models.EntityRef) (models.EntityRef, bool) {
	p, ok := t.parents[r]
	return p, ok
}

func (t *Tree) Name(r models.EntityRef) string { return t.names[r] }

// Rejected counts edges dropped while building the tree.
func (t *Tree) Rejected() int { return t.rejected }

func refLess(a, b models.EntityRef) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}
