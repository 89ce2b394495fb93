// ============================================================================
// derp Peer Table - Direct Child Connection State
// ============================================================================
//
// Package: internal/peer
// File: peer.go
// Purpose: Tracks each direct child's liveness and subtree idset, and
//          fans hello responses out to children restricted to the
//          intersection of the response's target idset and the child's
//          own subtree.
//
// Execution Model:
//   One Table per rank's reactor goroutine. All methods assume the
//   caller already holds the reactor's single-goroutine discipline;
//   the mutex here only guards against metrics/diagnostics readers on
//   another goroutine.
//
// Pending Queue:
//   A child that is not currently connected still accumulates
//   hello.Response values addressed to it in a FIFO pending queue.
//   ProcessPending drains that queue once the child reconnects.
//
// Grounded on original_source/src/modules/derp/peer.c
// (peer_connect, peer_disconnect, peer_forward_response,
// peer_process_pending).
// ============================================================================

package peer

import (
	"sync"

	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Sink delivers a hello.Response to a specific connected child. It is
// implemented by the transport layer; peer.Table never touches the wire
// directly.
type Sink interface {
	SendResponse(child types.Rank, resp *hello.Response) error
}

// Child is one direct child's connection state: its subtree idset,
// whether it is currently connected, and any responses queued while it
// was disconnected.
type Child struct {
	Rank      types.Rank
	Subtree   *idset.Set
	Connected bool

	pending []*hello.Response
}

// Table is the full set of a rank's direct children, keyed by rank, plus
// the union of all children's subtree idsets (used to decide whether an
// incoming message's target idset touches this rank's children at all).
type Table struct {
	mu       sync.Mutex
	children map[types.Rank]*Child
	union    *idset.Set
}

// New builds a peer table from the given children, each already carrying
// its precomputed subtree idset (see internal/topology).
func New(children []*Child) *Table {
	t := &Table{
		children: make(map[types.Rank]*Child, len(children)),
		union:    idset.New(),
	}
	for _, c := range children {
		t.children[c.Rank] = c
		t.union.Add(c.Subtree)
	}
	return t
}

// Union returns the combined subtree idset of every direct child.
func (t *Table) Union() *idset.Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.union.Copy()
}

// Lookup returns the child record for rank, or derrs.UnknownPeer if rank
// is not a direct child.
func (t *Table) Lookup(rank types.Rank) (*Child, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.children[rank]
	if !ok {
		return nil, derrs.UnknownPeer
	}
	return c, nil
}

// Connect marks rank as connected. Returns derrs.UnknownPeer if rank is
// not a direct child.
func (t *Table) Connect(rank types.Rank) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.children[rank]
	if !ok {
		return derrs.UnknownPeer
	}
	c.Connected = true
	return nil
}

// Disconnect marks rank as disconnected. Pending responses already
// queued for it are left in place; they drain on the next Connect +
// ProcessPending. Unknown ranks are silently ignored, matching
// peer_disconnect's best-effort sweep.
func (t *Table) Disconnect(rank types.Rank) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.children[rank]; ok {
		c.Connected = false
	}
}

// ForwardResponse fans resp out to every direct child whose subtree
// intersects resp's target idset. Connected children are sent
// immediately via sink; disconnected children queue the response
// instead. The idset actually delivered to a child is always restricted
// to child.Subtree ∩ resp.Idset, never the raw resp.Idset.
func (t *Table) ForwardResponse(sink Sink, resp *hello.Response) error {
	t.mu.Lock()
	targets := make([]*Child, 0, len(t.children))
	for _, c := range t.children {
		if idset.HasIntersection(c.Subtree, resp.Idset) {
			targets = append(targets, c)
		}
	}
	t.mu.Unlock()

	var firstErr error
	for _, c := range targets {
		narrowed := &hello.Response{
			Type:  resp.Type,
			Idset: idset.Intersect(c.Subtree, resp.Idset),
			Data:  resp.Data,
		}
		if c.Connected {
			if err := sink.SendResponse(c.Rank, narrowed); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		t.mu.Lock()
		c.pending = append(c.pending, narrowed)
		t.mu.Unlock()
	}
	return firstErr
}

// ProcessPending drains rank's pending queue through sink, in FIFO
// order, stopping at the first send failure (the remaining queue is
// left intact for the next attempt).
func (t *Table) ProcessPending(sink Sink, rank types.Rank) error {
	t.mu.Lock()
	c, ok := t.children[rank]
	if !ok {
		t.mu.Unlock()
		return derrs.UnknownPeer
	}
	if !c.Connected {
		t.mu.Unlock()
		return nil
	}
	queued := c.pending
	c.pending = nil
	t.mu.Unlock()

	for i, resp := range queued {
		if err := sink.SendResponse(rank, resp); err != nil {
			t.mu.Lock()
			c.pending = append(queued[i:], c.pending...)
			t.mu.Unlock()
			return err
		}
	}
	return nil
}

// Ranks returns the direct child ranks, in no particular order.
func (t *Table) Ranks() []types.Rank {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Rank, 0, len(t.children))
	for r := range t.children {
		out = append(out, r)
	}
	return out
}
