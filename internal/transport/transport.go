// ============================================================================
// derp Transport - Rank-to-Rank Wire Interface
// ============================================================================
//
// Package: internal/transport
// File: transport.go
// Purpose: Defines the wire-level interface the exec engine and peer
//          table use to talk to this rank's parent (Hello, Notify) and
//          to its direct children (SendResponse). The actual network
//          protocol is an implementation detail behind this interface:
//          tests and single-process simulation use the in-process
//          implementation in memory.go, a real deployment uses the
//          net/http + encoding/json implementation in httpjson.go.
//
// This mirrors the original module's framing, not its mechanism: in the
// source project every one of these calls is a libflux RPC carried over
// a ZeroMQ tree overlay the broker already maintains; that overlay is
// explicitly out of scope here (spec.md Non-goals), so Handle stands in
// for "some external service already getting typed frames between
// adjacent ranks".
// ============================================================================

package transport

import (
	"context"

	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Frame is the wire envelope exchanged between adjacent ranks: a typed,
// idset-addressed payload plus an opaque data blob. It is the transport
// rendition of hello.Response / derp_forward's (type, ranks, data)
// triple.
type Frame struct {
	Type  string `json:"type"`
	Idset string `json:"idset"`
	Data  any    `json:"data"`
}

// HelloCallback is invoked, on a transport goroutine rather than the
// receiving rank's reactor, for every frame the parent streams back in
// response to this rank's outstanding Hello call.
type HelloCallback func(frame Frame)

// Handle is what internal/exec needs from the transport layer: a way to
// attach to the parent's hello stream and a way to notify the parent of
// a typed, job-scoped event. It says nothing about the downstream
// direction -- that is peer.Sink, implemented by the same concrete type
// in practice.
type Handle interface {
	// Hello attaches to the parent's outbound response stream. cb is
	// invoked once per frame until ctx is cancelled or the parent
	// disconnects. Root has no parent and must not call Hello.
	Hello(ctx context.Context, rank types.Rank, cb HelloCallback) error

	// Notify sends a fire-and-forget typed event upstream to the
	// parent. Used for start/finish/barrier-enter/release/exception
	// and ping-reply.
	Notify(ctx context.Context, typ string, data any) error
}

// Sink is the downstream half: deliver a hello.Response to one
// specific connected child. internal/peer.Table calls through this
// interface; it never touches a socket directly.
type Sink interface {
	SendResponse(child types.Rank, resp *hello.Response) error
}

// decodeFrameIdset reconstructs the idset carried in a Frame's Idset field.
func decodeFrameIdset(f Frame) (*idset.Set, error) {
	return idset.Decode(f.Idset)
}
