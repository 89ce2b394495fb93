// ============================================================================
// derp Distributed Barrier - Per-Job Entry Aggregation
// ============================================================================
//
// Package: internal/barrier
// File: barrier.go
// Purpose: Tracks which ranks of one job's subtree have entered the
//          current barrier cycle, and the local entry requests waiting
//          on that cycle's completion.
//
// Sequencing:
//   Each completion increments Sequence and clears the rank set and
//   pending request list, starting the next cycle. An Enter carrying a
//   stale or future sequence number is rejected with
//   derrs.SequenceMismatch rather than silently accepted, so a
//   duplicate or delayed retransmission from a child cannot corrupt the
//   next cycle's state.
//
// LCA detection:
//   Completion ("this rank's observed ranks equal the job's full subtree
//   ranks") is checked by the caller (internal/exec), which also decides
//   whether this rank is the lowest common ancestor for the whole job
//   (job.ranks == job.subtree_ranks) and therefore completes locally
//   versus notifies upstream. Barrier itself has no notion of upstream.
//
// Grounded on original_source/src/modules/derp/exec/barrier.c
// (barrier_create, barrier_enter, barrier_enter_local, barrier_reset,
// barrier_respond_all) and exec.c's exec_barrier_check /
// exec_barrier_complete LCA logic.
// ============================================================================

package barrier

import (
	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Request is one locally queued entry waiting for this cycle's
// completion. Release is invoked, in order, once the barrier completes
// or is cancelled; Err is nil on normal completion.
type Request struct {
	Release func(err error)
}

// Barrier holds one job's current entry cycle: the ranks observed so
// far and the local requests blocked on completion.
type Barrier struct {
	Sequence int
	ranks    *idset.Set
	requests []Request
}

// New returns an empty barrier at sequence 0.
func New() *Barrier {
	return &Barrier{ranks: idset.New()}
}

// Ranks returns a copy of the ranks observed so far in the current
// cycle.
func (b *Barrier) Ranks() *idset.Set {
	return b.ranks.Copy()
}

// EnterLocal records this rank's own entry into the current cycle.
func (b *Barrier) EnterLocal(rank types.Rank) {
	b.ranks.Set(uint32(rank))
}

// Enter records a subtree entry notification carrying seq and ranks,
// queuing req to be released on completion or cancellation. Returns
// derrs.SequenceMismatch if seq does not match the current cycle.
func (b *Barrier) Enter(seq int, ranks *idset.Set, req Request) error {
	if seq != b.Sequence {
		return derrs.SequenceMismatch
	}
	b.ranks.Add(ranks)
	b.requests = append(b.requests, req)
	return nil
}

// Complete releases every queued request with a nil error and advances
// to the next cycle.
func (b *Barrier) Complete() {
	b.release(nil)
	b.Reset()
}

// Cancel releases every queued request with err and advances to the
// next cycle, matching spec.md's "complete still replies to the queued
// envelopes with the carried error string and resets" -- the local
// shell itself is not released, only the held barrier requests; the
// caller decides separately whether the job itself is torn down.
func (b *Barrier) Cancel(err error) {
	b.release(err)
	b.Reset()
}

func (b *Barrier) release(err error) {
	for _, req := range b.requests {
		if req.Release != nil {
			req.Release(err)
		}
	}
	b.requests = nil
}

// Reset clears the observed ranks and advances to the next cycle,
// without touching any queued request (used internally by Complete; a
// caller that wants to reset without releasing pending requests, e.g.
// after a cancellation already drained them, can call this directly).
func (b *Barrier) Reset() {
	b.Sequence++
	b.ranks = idset.New()
}
