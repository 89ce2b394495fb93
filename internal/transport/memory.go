// Package transport, memory.go: an in-process implementation of Handle
// and Sink for tests and single-process multi-rank simulation. Every
// rank in a Network lives in the same process; "sending" a frame is a
// direct function call into the receiving rank's registered callback.
//
// Grounded on the channel/registry-based fan-out used by
// johnjansen-torua's internal/cluster (PostJSON/GetJSON stand-in) and
// ChuLiYu-raft-recovery's internal/server request routing, adapted here
// to avoid a real socket for in-repo tests.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// NotifyHandler is invoked, on whatever goroutine Notify was called
// from, when a child sends a typed event upstream. A real engine's
// registered handler posts the event onto its own reactor goroutine
// rather than processing it inline.
type NotifyHandler func(typ string, data any)

// Network is a process-local registry binding ranks to their hello
// callback and notify handler. It implements Sink directly; Handle
// instances for individual ranks are obtained via Network.Handle.
type Network struct {
	mu        sync.Mutex
	hello     map[types.Rank]HelloCallback
	notify    map[types.Rank]NotifyHandler
	parentOf  map[types.Rank]types.Rank
	hasParent map[types.Rank]bool
}

// NewNetwork returns an empty registry.
func NewNetwork() *Network {
	return &Network{
		hello:     make(map[types.Rank]HelloCallback),
		notify:    make(map[types.Rank]NotifyHandler),
		parentOf:  make(map[types.Rank]types.Rank),
		hasParent: make(map[types.Rank]bool),
	}
}

// RegisterNotifyHandler binds rank's upstream notify handler, invoked
// whenever one of rank's children calls Notify through the Handle this
// Network hands out for that child.
func (n *Network) RegisterNotifyHandler(rank types.Rank, fn NotifyHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notify[rank] = fn
}

// Handle returns the transport.Handle a given rank should use, bound to
// its parent. hasParent is false for root.
func (n *Network) Handle(rank types.Rank, parent types.Rank, hasParent bool) Handle {
	n.mu.Lock()
	n.parentOf[rank] = parent
	n.hasParent[rank] = hasParent
	n.mu.Unlock()
	return &memHandle{net: n, rank: rank}
}

// SendResponse implements Sink: delivers resp to child's registered
// hello callback, if any. Returns an error if child never attached
// (mirrors a disconnected socket at the transport layer; the peer
// table itself is responsible for not calling this on a rank it
// believes is disconnected).
func (n *Network) SendResponse(child types.Rank, resp *hello.Response) error {
	n.mu.Lock()
	cb, ok := n.hello[child]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: rank %d has no attached hello stream", child)
	}
	cb(Frame{
		Type:  resp.Type,
		Idset: idset.Encode(resp.Idset),
		Data:  resp.Data,
	})
	return nil
}

type memHandle struct {
	net  *Network
	rank types.Rank
}

func (h *memHandle) Hello(ctx context.Context, rank types.Rank, cb HelloCallback) error {
	h.net.mu.Lock()
	if !h.net.hasParent[rank] {
		h.net.mu.Unlock()
		return fmt.Errorf("transport: rank %d is root, has no parent to attach to", rank)
	}
	h.net.hello[rank] = cb
	h.net.mu.Unlock()
	return nil
}

func (h *memHandle) Notify(ctx context.Context, typ string, data any) error {
	h.net.mu.Lock()
	parent := h.net.parentOf[h.rank]
	hasParent := h.net.hasParent[h.rank]
	fn := h.net.notify[parent]
	h.net.mu.Unlock()
	if !hasParent {
		return fmt.Errorf("transport: rank %d is root, has no parent to notify", h.rank)
	}
	if fn == nil {
		return fmt.Errorf("transport: parent rank %d has no registered notify handler", parent)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fn(typ, data)
	return nil
}
