package models

import (
	"fmt"
)

// Tree is the in-memory form of the persisted work-breakdown hierarchy.
// Mutation happens only inside a gate tick's load-mutate-save cycle.
type Tree struct {
	// RootID is the ID of the epic at the root of the tree.
	RootID string `json:"root_id"`
	// Units maps unit ID to the unit itself.
	Units map[string]*WorkUnit `json:"units"`
}

// NewTree creates a tree rooted at the given epic unit.
func NewTree(root *WorkUnit) *Tree {
	return &Tree{
		RootID: root.ID,
		Units:  map[string]*WorkUnit{root.ID: root},
	}
}

// Root returns the root unit, or nil if the tree is empty.
func (t *Tree) Root() *WorkUnit {
	return t.Units[t.RootID]
}

// Get returns the unit with the given ID, or nil if absent.
func (t *Tree) Get(id string) *WorkUnit {
	return t.Units[id]
}

// Add inserts a unit as the last child of the given parent.
func (t *Tree) Add(parentID string, unit *WorkUnit) error {
	parent := t.Units[parentID]
	if parent == nil {
		return fmt.Errorf("parent %s not found", parentID)
	}
	if unit.Kind != parent.Kind.ChildKind() {
		return fmt.Errorf("cannot add %s under %s", unit.Kind, parent.Kind)
	}
	if _, exists := t.Units[unit.ID]; exists {
		return fmt.Errorf("unit %s already exists", unit.ID)
	}
	t.Units[unit.ID] = unit
	parent.Children = append(parent.Children, unit.ID)
	return nil
}

// Children returns the ordered child units of the given unit.
// Missing children are skipped; Validate reports them as errors.
func (t *Tree) Children(u *WorkUnit) []*WorkUnit {
	out := make([]*WorkUnit, 0, len(u.Children))
	for _, id := range u.Children {
		if c := t.Units[id]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Walk visits the root and every reachable descendant in document order
// (parent before children, children in authoritative order). It stops if
// fn returns false.
func (t *Tree) Walk(fn func(u *WorkUnit) bool) {
	var visit func(id string) bool
	visit = func(id string) bool {
		u := t.Units[id]
		if u == nil {
			return true
		}
		if !fn(u) {
			return false
		}
		for _, cid := range u.Children {
			if !visit(cid) {
				return false
			}
		}
		return true
	}
	visit(t.RootID)
}

// Clone returns a deep copy of the tree. The copy never aliases the
// original's mutable state, so it is safe to keep as a diff snapshot.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		RootID: t.RootID,
		Units:  make(map[string]*WorkUnit, len(t.Units)),
	}
	for id, u := range t.Units {
		c.Units[id] = u.Clone()
	}
	return c
}

// Validate checks structural consistency: the root exists, every child
// reference resolves, kinds are consistent across levels, and no unit
// carries an invalid status.
func (t *Tree) Validate() error {
	root := t.Root()
	if root == nil {
		return fmt.Errorf("root unit %q not found", t.RootID)
	}
	if root.Kind != KindEpic {
		return fmt.Errorf("root unit %s has kind %s, want %s", root.ID, root.Kind, KindEpic)
	}
	var err error
	t.Walk(func(u *WorkUnit) bool {
		if !u.Status.Valid() {
			err = fmt.Errorf("unit %s has invalid status %q", u.ID, u.Status)
			return false
		}
		if !u.Kind.Valid() {
			err = fmt.Errorf("unit %s has invalid kind %q", u.ID, u.Kind)
			return false
		}
		for _, cid := range u.Children {
			child := t.Units[cid]
			if child == nil {
				err = fmt.Errorf("unit %s references missing child %s", u.ID, cid)
				return false
			}
			if child.Kind != u.Kind.ChildKind() {
				err = fmt.Errorf("unit %s (%s) has child %s of kind %s, want %s",
					u.ID, u.Kind, cid, child.Kind, u.Kind.ChildKind())
				return false
			}
		}
		return true
	})
	return err
}

// CompletionPercentage returns the fraction of leaf units that are
// completed, as a 0-100 percentage. An empty tree reports 0.
func (t *Tree) CompletionPercentage() float64 {
	var leaves, done int
	t.Walk(func(u *WorkUnit) bool {
		if u.IsLeaf() {
			leaves++
			if u.Status == StatusCompleted {
				done++
			}
		}
		return true
	})
	if leaves == 0 {
		return 0
	}
	return float64(done) / float64(leaves) * 100
}

// CountByStatus returns the number of units per status across the tree.
func (t *Tree) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	t.Walk(func(u *WorkUnit) bool {
		counts[u.Status]++
		return true
	})
	return counts
}
