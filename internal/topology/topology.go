// Package topology models the static, nested tree overlay: a rank
// identifier and an ordered list of child nodes. Every rank is reachable
// along exactly one path from the root. The tree is fixed for the
// lifetime of an instance (spec Non-goals: topology mutation is out of
// scope).
//
// Grounded on the recursive-walk in
// original_source/src/modules/derp/peer.c (add_subtree_ids,
// get_subtree_topology): the walk happens once, at construction, per
// spec §9 ("precompute the subtree idset per rank once; do not rewalk on
// each message").
package topology

import (
	"fmt"

	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Node is one level of the static topology document. Children are
// ordered; that order is the canonical child index used elsewhere (e.g.
// peer table construction).
type Node struct {
	Rank     types.Rank `yaml:"rank" json:"rank"`
	Children []Node     `yaml:"children,omitempty" json:"children,omitempty"`
}

// Topology is an immutable view of the full tree, plus a precomputed
// subtree idset per rank.
type Topology struct {
	root     Node
	subtrees map[types.Rank]*idset.Set
	parents  map[types.Rank]types.Rank
	hasRoot  bool
}

// New walks root once and precomputes every rank's subtree idset and
// parent link.
func New(root Node) (*Topology, error) {
	t := &Topology{
		root:     root,
		subtrees: make(map[types.Rank]*idset.Set),
		parents:  make(map[types.Rank]types.Rank),
	}
	if err := t.walk(root, root.Rank, false); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) walk(n Node, parent types.Rank, hasParent bool) error {
	if _, dup := t.subtrees[n.Rank]; dup {
		return fmt.Errorf("topology: duplicate rank %d", n.Rank)
	}
	if hasParent {
		t.parents[n.Rank] = parent
	}
	set := idset.New(uint32(n.Rank))
	for _, child := range n.Children {
		if err := t.walk(child, n.Rank, true); err != nil {
			return err
		}
		childSet, ok := t.subtrees[child.Rank]
		if !ok {
			return fmt.Errorf("topology: child %d not walked", child.Rank)
		}
		set.Add(childSet)
	}
	t.subtrees[n.Rank] = set
	return nil
}

// Subtree returns the precomputed idset of rank plus all its descendants,
// or nil if rank is not part of the topology.
func (t *Topology) Subtree(rank types.Rank) *idset.Set {
	s, ok := t.subtrees[rank]
	if !ok {
		return nil
	}
	return s.Copy()
}

// Children returns the direct children of rank, in topology order.
func (t *Topology) Children(rank types.Rank) []Node {
	n := t.find(t.root, rank)
	if n == nil {
		return nil
	}
	return n.Children
}

// Parent returns rank's parent and true, or (0, false) if rank is the
// root or unknown.
func (t *Topology) Parent(rank types.Rank) (types.Rank, bool) {
	p, ok := t.parents[rank]
	return p, ok
}

// IsRoot reports whether rank is the topology's root.
func (t *Topology) IsRoot(rank types.Rank) bool {
	return rank == t.root.Rank
}

// Root returns the root rank.
func (t *Topology) Root() types.Rank {
	return t.root.Rank
}

func (t *Topology) find(n Node, rank types.Rank) *Node {
	if n.Rank == rank {
		return &n
	}
	for i := range n.Children {
		if found := t.find(n.Children[i], rank); found != nil {
			return found
		}
	}
	return nil
}
