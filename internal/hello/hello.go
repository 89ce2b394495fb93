// ============================================================================
// derp Hello Responder - Coalesced State-Update Broadcast
// ============================================================================
//
// Package: internal/hello
// File: hello.go
// Purpose: Accumulates per-job state-update notices addressed to a set of
//          ranks, batching them behind a short coalescing timer so a
//          burst of job events produces one state-update frame instead
//          of one per event.
//
// Responder Lifecycle:
//   Push appends a job entry and unions its target ranks into the
//   responder's running idset. Pop atomically snapshots and clears the
//   accumulator, returning nil if nothing was pushed since the last Pop.
//   Callers (the reactor) drive Pop from the coalescing timer, not from
//   Push itself, so a burst of Push calls within one tick still yields
//   one Response.
//
// Response Carrier:
//   A Response carries Incref/Decref reference counting. internal/peer
//   does not share one Response between children: ForwardResponse gives
//   each child its own Response narrowed to that child's subtree, which
//   shares Data with the original without copying it, and does not
//   touch the reference count.
//
// Grounded on original_source/src/modules/derp/hello.c
// (hello_responder_push/pop, hello_response_pack, hello_response_incref
// /decref).
// ============================================================================

package hello

import (
	"sync/atomic"

	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// JobUpdate is one job's contribution to a batched state-update.
type JobUpdate struct {
	ID     types.JobID  `json:"id"`
	UserID types.UserID `json:"userid"`
	Type   string       `json:"type"`
	Ranks  *idset.Set   `json:"ranks"`
}

// Response is an immutable, reference-counted payload addressed to
// Idset. Data carries the type-specific payload: a []JobUpdate for
// "state-update", or whatever shape the caller passed to
// router.Forward for any other type (kill, ping, ...).
type Response struct {
	Type  string
	Idset *idset.Set
	Data  any

	refcount int32
}

// NewResponse constructs a Response with an initial refcount of 1.
func NewResponse(typ string, target *idset.Set, data any) *Response {
	return &Response{
		Type:     typ,
		Idset:    target,
		Data:     data,
		refcount: 1,
	}
}

// Incref increments the reference count and returns resp, mirroring
// hello_response_incref's call-and-return-self idiom.
func (resp *Response) Incref() *Response {
	atomic.AddInt32(&resp.refcount, 1)
	return resp
}

// Decref releases one reference. Callers must not touch resp after its
// own Decref call.
func (resp *Response) Decref() {
	atomic.AddInt32(&resp.refcount, -1)
}

// Responder accumulates job updates between coalescing ticks.
type Responder struct {
	ranks *idset.Set
	jobs  []JobUpdate
}

// NewResponder returns an empty accumulator.
func NewResponder() *Responder {
	return &Responder{ranks: idset.New()}
}

// Push adds one job's update to the accumulator and unions ranks into
// the running target idset.
func (r *Responder) Push(typ string, id types.JobID, userID types.UserID, ranks *idset.Set) {
	r.jobs = append(r.jobs, JobUpdate{ID: id, UserID: userID, Type: typ, Ranks: ranks.Copy()})
	r.ranks.Add(ranks)
}

// Count reports how many job updates are waiting for the next Pop.
func (r *Responder) Count() int {
	return len(r.jobs)
}

// Pop snapshots and clears the accumulator, returning a single
// state-update Response, or nil if nothing was pushed since the last
// Pop.
func (r *Responder) Pop() *Response {
	if len(r.jobs) == 0 {
		return nil
	}
	jobs := r.jobs
	target := r.ranks
	r.jobs = nil
	r.ranks = idset.New()
	return NewResponse("state-update", target, jobs)
}
