// Package transport, httpjson.go: the real network implementation of
// Handle and Sink, one newline-delimited JSON Frame per line over a
// long-held HTTP connection for Hello, and a plain POST for Notify.
//
// Grounded on johnjansen-torua's internal/cluster.PostJSON/GetJSON
// (context-scoped http.Client, JSON body, non-2xx is an error) and
// ChuLiYu-raft-recovery's internal/server request-handler shape,
// adapted from generated protobuf service methods to hand-rolled
// net/http handlers since the transport here is explicitly a
// replacement for the dropped gRPC surface (see DESIGN.md).
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

var httpClient = &http.Client{Timeout: 0} // streaming Hello connections are long-lived

// AddressBook resolves a rank to the base URL of the derpd process
// serving it (e.g. "http://10.0.0.4:8181"). Implementations come from
// internal/config's topology/address document.
type AddressBook interface {
	Address(rank types.Rank) (string, bool)
}

// HTTPTransport implements Handle for one rank and Sink for its
// children, addressed via an AddressBook.
type HTTPTransport struct {
	rank      types.Rank
	parent    types.Rank
	hasParent bool
	addrs     AddressBook

	mu             sync.Mutex
	streamEncoders map[types.Rank]*frameEncoder
}

// NewHTTPTransport returns a Handle/Sink pair for rank, whose parent is
// parent (ignored if hasParent is false, i.e. rank is root).
func NewHTTPTransport(rank, parent types.Rank, hasParent bool, addrs AddressBook) *HTTPTransport {
	return &HTTPTransport{
		rank:           rank,
		parent:         parent,
		hasParent:      hasParent,
		addrs:          addrs,
		streamEncoders: make(map[types.Rank]*frameEncoder),
	}
}

// Hello opens a long-held GET to the parent's /derp/hello?rank=<rank>
// endpoint and invokes cb once per newline-delimited Frame until ctx is
// cancelled or the connection drops.
func (t *HTTPTransport) Hello(ctx context.Context, rank types.Rank, cb HelloCallback) error {
	if !t.hasParent {
		return fmt.Errorf("transport: rank %d is root, has no parent to attach to", rank)
	}
	base, ok := t.addrs.Address(t.parent)
	if !ok {
		return fmt.Errorf("transport: no address for parent rank %d", t.parent)
	}
	url := fmt.Sprintf("%s/derp/hello?rank=%d", base, rank)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("transport: hello %s: http %d", url, resp.StatusCode)
	}
	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var f Frame
			if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
				continue
			}
			cb(f)
		}
	}()
	return nil
}

// Notify POSTs a typed, fire-and-forget event to the parent's
// /derp/notify endpoint.
func (t *HTTPTransport) Notify(ctx context.Context, typ string, data any) error {
	if !t.hasParent {
		return fmt.Errorf("transport: rank %d is root, has no parent to notify", t.rank)
	}
	base, ok := t.addrs.Address(t.parent)
	if !ok {
		return fmt.Errorf("transport: no address for parent rank %d", t.parent)
	}
	body, err := json.Marshal(notifyRequest{Type: typ, Data: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/derp/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: notify %s: http %d", req.URL, resp.StatusCode)
	}
	return nil
}

// SendResponse writes resp as one Frame line to child's currently-open
// hello stream. Returns an error if child has not connected.
func (t *HTTPTransport) SendResponse(child types.Rank, resp *hello.Response) error {
	t.mu.Lock()
	enc, ok := t.streamEncoders[child]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: rank %d has no open hello connection", child)
	}
	return enc.encode(Frame{
		Type:  resp.Type,
		Idset: idset.Encode(resp.Idset),
		Data:  resp.Data,
	})
}

type notifyRequest struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frameEncoder writes newline-delimited Frame JSON to a flushing HTTP
// response writer, serializing concurrent writers from different
// reactor goroutines.
type frameEncoder struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

func (e *frameEncoder) encode(f Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(append(b, '\n')); err != nil {
		return err
	}
	e.f.Flush()
	return nil
}

// ConnectionHandler is invoked when a direct child's hello stream opens
// or closes, so the owning rank's engine can update its peer table
// (internal/exec.Engine.Connect/Disconnect).
type ConnectionHandler func(rank types.Rank)

// Server is the HTTP side of HTTPTransport: it accepts children's
// /derp/hello connections and /derp/notify posts and routes them into
// this rank's peer table and notify dispatcher.
type Server struct {
	t            *HTTPTransport
	onNotify     NotifyHandler
	onConnect    ConnectionHandler
	onDisconnect ConnectionHandler
	httpServer   *http.Server
}

// NewServer registers /derp/hello and /derp/notify onto mux, backed by
// t for outbound connection bookkeeping, onNotify for dispatching
// received notify events onto the reactor, and onConnect/onDisconnect
// for keeping the reactor's peer table in sync with each child's hello
// stream opening and closing. mux is caller-owned so a process can
// layer its own routes (e.g. an operator control API) onto the same
// listener; pass a fresh http.NewServeMux() for a dedicated one.
func NewServer(addr string, mux *http.ServeMux, t *HTTPTransport, onNotify NotifyHandler, onConnect, onDisconnect ConnectionHandler) *Server {
	s := &Server{t: t, onNotify: onNotify, onConnect: onConnect, onDisconnect: onDisconnect}
	mux.HandleFunc("/derp/hello", s.handleHello)
	mux.HandleFunc("/derp/notify", s.handleNotify)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving until the listener fails or Shutdown is
// called from another goroutine.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	rankStr := r.URL.Query().Get("rank")
	var rank types.Rank
	if _, err := fmt.Sscanf(rankStr, "%d", &rank); err != nil {
		http.Error(w, "missing or invalid rank", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := &frameEncoder{w: w, f: flusher}
	s.t.mu.Lock()
	if s.t.streamEncoders == nil {
		s.t.streamEncoders = make(map[types.Rank]*frameEncoder)
	}
	s.t.streamEncoders[rank] = enc
	s.t.mu.Unlock()
	if s.onConnect != nil {
		s.onConnect(rank)
	}

	<-r.Context().Done()

	s.t.mu.Lock()
	delete(s.t.streamEncoders, rank)
	s.t.mu.Unlock()
	if s.onDisconnect != nil {
		s.onDisconnect(rank)
	}
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.onNotify != nil {
		s.onNotify(req.Type, req.Data)
	}
	w.WriteHeader(http.StatusOK)
}
