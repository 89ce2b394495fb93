// ============================================================================
// derp Ping Service - Distributed Reachability Probe
// ============================================================================
//
// Package: internal/exec
// File: ping.go
// Purpose: Exercises the same forward()/action/notify machinery the job
//          state machine uses, but for a single opaque round trip: fan a
//          payload out to a target rank set and collect exactly one
//          aggregated reply idset once every targeted descendant has
//          reported in.
//
// Convergence:
//   Each rank receiving the "ping" action first restricts the idset it
//   was handed to its own subtree (the router's fanout only restricts
//   which ranks get forwarded to, not the payload each one receives),
//   sets its own bit into a local reply idset if it is itself one of the
//   targets, then compares against that restricted idset. Equal means
//   this hop's whole slice has reported; it either answers the held
//   client request (the originating rank) or notifies its parent via
//   "ping-reply", whose arrival re-triggers the same check one level up.
//   Recursion down the tree and aggregation back up both fall out of the
//   router's existing fanout-then-action / notify-then-dispatch rules;
//   ping.go adds no new forwarding logic of its own.
//
// Concurrency:
//   Exactly one ping may be outstanding per rank at a time, matching the
//   original module's single static ping slot. A second Ping while one is
//   in flight is rejected with derrs.Transient rather than queued.
//
// Grounded on original_source/src/modules/derp/ping.c in its entirety
// (ping_request, ping_handler, ping_reply, ping_try_response,
// is_subset_of).
// ============================================================================

package exec

import (
	"context"
	"fmt"

	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/pkg/idset"
)

// PingRequest asks this rank to probe Ranks and report who answered.
// Must originate at root, mirroring ping_request's reliance on
// derp_forward's local-dispatch-on-rank-0 behavior.
type PingRequest struct {
	Ranks   *idset.Set
	Data    any
	Respond func(result any, err error)
}

// PingResult is delivered to Respond once every targeted rank has
// reported in.
type PingResult struct {
	Ranks *idset.Set
}

type pingReplyPayload struct {
	Ranks *idset.Set `json:"ranks"`
}

// pingState is the single in-flight probe this rank is tracking, either
// as the originator (respond set) or as an intermediate aggregator
// (respond nil, notifies its parent on convergence instead).
type pingState struct {
	idset      *idset.Set
	replyIdset *idset.Set
	respond    func(result any, err error)
}

type pingService struct {
	engine  *Engine
	current *pingState
}

func newPingService(e *Engine) *pingService {
	return &pingService{engine: e}
}

// Ping starts a reachability probe across req.Ranks.
func (e *Engine) Ping(req PingRequest) {
	e.Enqueue(func() { e.ping.start(req) })
}

func (p *pingService) start(req PingRequest) {
	e := p.engine
	if !e.isRoot {
		req.Respond(nil, fmt.Errorf("ping: %w: must originate at root", derrs.Unsupported))
		return
	}
	if p.current != nil {
		req.Respond(nil, derrs.Transient)
		return
	}

	target := req.Ranks.Copy()
	target.Clear(uint32(e.rank))
	if !idset.IsSubset(target, e.peers.Union()) {
		req.Respond(nil, fmt.Errorf("ping: %w: requested ranks are not reachable", derrs.Protocol))
		return
	}

	p.current = &pingState{
		idset:      req.Ranks.Copy(),
		replyIdset: idset.New(),
		respond:    req.Respond,
	}
	if err := e.router.Forward("ping", req.Ranks, req.Data); err != nil {
		p.current = nil
		req.Respond(nil, err)
	}
}

// handleAction is the "ping" action: invoked once per hop. The router's
// fanout restricts which ranks get forwarded to at all, but not the
// idset payload each hop receives, so this intersects against e.subtree
// itself (same as job.New) before tracking convergence against it --
// otherwise an intermediate rank whose subtree covers only part of the
// target set would wait forever for bits outside its own subtree.
func (p *pingService) handleAction(typ string, ranks *idset.Set, data any) error {
	e := p.engine
	ranks = idset.Intersect(ranks, e.subtree)
	if p.current == nil {
		p.current = &pingState{idset: ranks.Copy(), replyIdset: idset.New()}
	} else {
		p.current.idset = ranks.Copy()
	}
	if ranks.Test(uint32(e.rank)) {
		p.current.replyIdset.Set(uint32(e.rank))
	}
	p.tryRespond()
	return nil
}

// handleNotify is the "ping-reply" notify: a child reporting its own
// subtree has fully converged.
func (p *pingService) handleNotify(typ string, data any) {
	payload, err := decodePayload[pingReplyPayload](data)
	if err != nil {
		p.engine.log.Error("malformed ping-reply notify", "error", err)
		return
	}
	if p.current == nil {
		p.engine.log.Warn("ping-reply notify received with no ping in flight, ignoring")
		return
	}
	p.current.replyIdset.Add(payload.Ranks)
	p.tryRespond()
}

// tryRespond answers the held client request or notifies the parent,
// once this hop's reply idset equals the idset it was asked to cover.
func (p *pingService) tryRespond() {
	e := p.engine
	st := p.current
	if st == nil || !idset.Equal(st.idset, st.replyIdset) {
		return
	}
	if st.respond != nil {
		st.respond(PingResult{Ranks: st.replyIdset.Copy()}, nil)
		p.current = nil
		return
	}
	payload := pingReplyPayload{Ranks: st.replyIdset.Copy()}
	if err := e.handle.Notify(context.Background(), "ping-reply", payload); err != nil {
		e.log.Error("ping-reply notify upstream failed", "error", err)
	}
	p.current = nil
}
