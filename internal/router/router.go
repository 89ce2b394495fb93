// ============================================================================
// derp Router - Action / Notify Dispatch and forward()
// ============================================================================
//
// Package: internal/router
// File: router.go
// Purpose: Maintains the two handler registries a rank's engines register
//          into (action: downstream receipt of a type; notify: upstream
//          receipt of the same type from a descendant) and implements
//          forward(), the single entry point every engine uses to push a
//          typed, idset-addressed payload down the tree.
//
// Registration:
//   RegisterAction / RegisterNotify fail with derrs.Exists if the type
//   is already claimed. Both registries are open for the lifetime of the
//   process: the ping and exec engines each register into the same
//   Router instance at construction, mirroring the original module's
//   ping_init/exec_init external-init convention.
//
// forward():
//   1. Builds a hello.Response for (type, ranks, data) and fans it out
//      to matching children via the peer table.
//   2. If this rank is root and an action is registered for type, also
//      invokes the action locally -- root "forwards to itself" so every
//      rank, including root, ends up dispatching the same way.
//
// Missing handler policy:
//   A typed payload arriving with no registered action is logged via
//   log/slog and dropped, never treated as a protocol error (spec.md
//   §4.3: "Missing handler is logged and ignored").
//
// Grounded on original_source/src/modules/derp/derp.c
// (derp_register_action, derp_register_notify, derp_forward,
// hello_response_handler's missing-action log-and-ignore branch).
// ============================================================================

package router

import (
	"log/slog"

	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Action runs on downstream receipt of a typed payload.
type Action func(typ string, ranks *idset.Set, data any) error

// Notify runs when a typed payload is received upstream from a
// descendant. Unlike Action it carries no idset: an upstream notify
// is job- and type-specific (start/finish/barrier-enter/release/
// exception/ping-reply), and each carries whatever rank information it
// needs inside data itself.
type Notify func(typ string, data any)

// Router owns the action/notify registries and the peer fanout for one
// rank.
type Router struct {
	log     *slog.Logger
	rank    types.Rank
	isRoot  bool
	peers   *peer.Table
	sink    peer.Sink
	actions map[string]Action
	notifys map[string]Notify
}

// New builds a Router for rank, bound to peers/sink for downstream
// fanout. isRoot controls the local-dispatch rule in Forward.
func New(log *slog.Logger, rank types.Rank, isRoot bool, peers *peer.Table, sink peer.Sink) *Router {
	return &Router{
		log:     log,
		rank:    rank,
		isRoot:  isRoot,
		peers:   peers,
		sink:    sink,
		actions: make(map[string]Action),
		notifys: make(map[string]Notify),
	}
}

// RegisterAction binds fn as the handler for downstream receipt of
// typ. Returns derrs.Exists if typ is already registered.
func (r *Router) RegisterAction(typ string, fn Action) error {
	if _, ok := r.actions[typ]; ok {
		return derrs.Exists
	}
	r.actions[typ] = fn
	return nil
}

// RegisterNotify binds fn as the handler for upstream receipt of typ
// from a descendant. Returns derrs.Exists if typ is already registered.
func (r *Router) RegisterNotify(typ string, fn Notify) error {
	if _, ok := r.notifys[typ]; ok {
		return derrs.Exists
	}
	r.notifys[typ] = fn
	return nil
}

// Dispatch invokes the registered notify handler for typ, if any. Called
// when this rank receives an upstream notify from one of its children.
func (r *Router) Dispatch(typ string, data any) {
	fn, ok := r.notifys[typ]
	if !ok {
		r.log.Warn("no notify handler registered, ignoring", "type", typ)
		return
	}
	fn(typ, data)
}

// Receive forwards the same (type, ranks, data) further downstream,
// then invokes the registered action handler for typ, if any. This is
// the non-root receiving path: a streamed hello response from the
// parent.
func (r *Router) Receive(typ string, ranks *idset.Set, data any) error {
	if err := r.fanout(typ, ranks, data); err != nil {
		return err
	}
	return r.invokeAction(typ, ranks, data)
}

// Forward is the entry point engines call to push a typed payload down
// the tree: fan out to matching children, then -- only on root -- also
// invoke the local action handler, so root "forwards to itself".
func (r *Router) Forward(typ string, ranks *idset.Set, data any) error {
	if err := r.fanout(typ, ranks, data); err != nil {
		return err
	}
	if r.isRoot {
		return r.invokeAction(typ, ranks, data)
	}
	return nil
}

func (r *Router) fanout(typ string, ranks *idset.Set, data any) error {
	resp := hello.NewResponse(typ, ranks.Copy(), data)
	return r.peers.ForwardResponse(r.sink, resp)
}

func (r *Router) invokeAction(typ string, ranks *idset.Set, data any) error {
	fn, ok := r.actions[typ]
	if !ok {
		r.log.Warn("no handler for hello response type, ignoring", "type", typ)
		return nil
	}
	return fn(typ, ranks, data)
}
