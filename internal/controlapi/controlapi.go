// Package controlapi is the operator-facing HTTP surface cmd/derpd
// exposes alongside the inter-rank overlay transport
// (internal/transport/httpjson.go): start/kill/ping a job and dump a
// rank's in-memory state, all as plain JSON request/response bodies.
//
// Grounded on ChuLiYu-raft-recovery's internal/server request-handler
// shape (one method per RPC, decode body, call into the owning
// component, encode the result), adapted from the teacher's generated
// gRPC service methods to hand-rolled net/http handlers for the same
// reason internal/transport/httpjson.go is hand-rolled: no captured
// .proto/generated code for this surface either.
package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oakbroker/derp/internal/diagnostics"
	"github.com/oakbroker/derp/internal/exec"
	"github.com/oakbroker/derp/internal/job"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// StartRequest is the wire shape of a start command.
type StartRequest struct {
	ID     types.JobID  `json:"id"`
	UserID types.UserID `json:"user_id"`
	Ranks  string       `json:"ranks"`
}

// KillRequest is the wire shape of a kill command.
type KillRequest struct {
	ID     types.JobID `json:"id"`
	Ranks  string      `json:"ranks"`
	Signal int         `json:"signal"`
}

// PingRequest is the wire shape of a ping command.
type PingRequest struct {
	Ranks string `json:"ranks"`
	Data  any    `json:"data,omitempty"`
}

// JobEventResponse mirrors exec.JobEvent over the wire.
type JobEventResponse struct {
	Type          string           `json:"type"`
	Status        types.ExitStatus `json:"status,omitempty"`
	Severity      int              `json:"severity,omitempty"`
	ExceptionType string           `json:"exception_type,omitempty"`
	Note          string           `json:"note,omitempty"`
}

// PingResponse mirrors exec.PingResult over the wire.
type PingResponse struct {
	Ranks string `json:"ranks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server adapts one rank's *exec.Engine into the operator HTTP API.
// It never touches the engine's internals directly; every call goes
// through the engine's existing client-facing StartJob/KillJob/Ping
// methods, which already post onto the reactor, and the dump is taken
// inside a closure posted with Engine.Enqueue.
type Server struct {
	engine *exec.Engine
	peers  *peer.Table
	jobs   *job.Table
	rank   types.Rank

	// Timeout bounds how long a handler waits between successive
	// Respond callbacks (not the job's total lifetime) before answering
	// 504 or, once the stream has already started, simply closing the
	// response. This only protects the HTTP client from hanging forever
	// if a rank disappears mid-job, not from a job that legitimately
	// takes a while to finish.
	Timeout time.Duration
}

// NewServer wires mux's /control/* routes to engine.
func NewServer(mux *http.ServeMux, rank types.Rank, engine *exec.Engine, peers *peer.Table, jobs *job.Table) *Server {
	s := &Server{engine: engine, peers: peers, jobs: jobs, rank: rank, Timeout: 30 * time.Second}
	mux.HandleFunc("/control/start", s.handleStart)
	mux.HandleFunc("/control/kill", s.handleKill)
	mux.HandleFunc("/control/ping", s.handlePing)
	mux.HandleFunc("/control/dump", s.handleDump)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleStart streams every lifecycle event the job produces --
// "start", any "exception", then "finish" -- as newline-delimited JSON,
// flushed as each one lands, matching spec.md §6's exec.start streaming
// response. engine.StartJob's Respond callback is invoked once per
// converged event against the same held job.Request (see exec.JobEvent's
// doc comment); this handler forwards each call onto the wire instead of
// answering just the first and discarding the rest.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ranks, err := idset.Decode(req.Ranks)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("controlapi: ranks: %w", err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("controlapi: streaming unsupported"))
		return
	}

	type outcome struct {
		ev  exec.JobEvent
		err error
	}
	results := make(chan outcome, 4)
	s.engine.StartJob(exec.StartRequest{
		ID:     req.ID,
		UserID: req.UserID,
		Ranks:  ranks,
		Respond: func(result any, err error) {
			if err != nil {
				results <- outcome{err: err}
				return
			}
			if ev, ok := result.(exec.JobEvent); ok {
				results <- outcome{ev: ev}
			}
		},
	})

	// The status line is decided by the first event, since a rejected
	// job (EXISTS) never gets past it. Every event after that streams as
	// its own chunk until "finish" closes the response out. Each wait
	// gets a fresh s.Timeout.
	select {
	case out := <-results:
		if out.err != nil {
			writeError(w, http.StatusInternalServerError, out.err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusAccepted)
		if !writeStreamedEvent(w, flusher, out.ev) {
			return
		}
	case <-time.After(s.Timeout):
		writeError(w, http.StatusGatewayTimeout, context.DeadlineExceeded)
		return
	case <-r.Context().Done():
		return
	}

	for {
		select {
		case out := <-results:
			if out.err != nil {
				writeStreamedEvent(w, flusher, exec.JobEvent{Type: "exception", Note: out.err.Error()})
				return
			}
			if !writeStreamedEvent(w, flusher, out.ev) {
				return
			}
		case <-time.After(s.Timeout):
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeStreamedEvent encodes ev as one NDJSON chunk and flushes it.
// Reports whether the caller should keep waiting for more events.
func writeStreamedEvent(w http.ResponseWriter, f http.Flusher, ev exec.JobEvent) bool {
	_ = json.NewEncoder(w).Encode(jobEventToResponse(ev))
	f.Flush()
	return ev.Type != "finish"
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ranks, err := idset.Decode(req.Ranks)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("controlapi: ranks: %w", err))
		return
	}
	s.engine.KillJob(exec.KillRequest{ID: req.ID, Ranks: ranks, Signal: req.Signal})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req PingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ranks, err := idset.Decode(req.Ranks)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("controlapi: ranks: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()

	type outcome struct {
		res exec.PingResult
		err error
	}
	results := make(chan outcome, 1)
	s.engine.Ping(exec.PingRequest{
		Ranks: ranks,
		Data:  req.Data,
		Respond: func(result any, err error) {
			if err != nil {
				results <- outcome{err: err}
				return
			}
			if res, ok := result.(exec.PingResult); ok {
				results <- outcome{res: res}
			}
		},
	})

	select {
	case out := <-results:
		if out.err != nil {
			writeError(w, http.StatusInternalServerError, out.err)
			return
		}
		writeJSON(w, http.StatusOK, PingResponse{Ranks: idset.Encode(out.res.Ranks)})
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, ctx.Err())
	}
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	done := make(chan diagnostics.Snapshot, 1)
	s.engine.Enqueue(func() { done <- diagnostics.Dump(s.rank, s.jobs, s.peers) })
	writeJSON(w, http.StatusOK, <-done)
}

func jobEventToResponse(ev exec.JobEvent) JobEventResponse {
	return JobEventResponse{
		Type:          ev.Type,
		Status:        ev.Status,
		Severity:      ev.Severity,
		ExceptionType: ev.ExceptionType,
		Note:          ev.Note,
	}
}

// Client is derpctl's handle on one rank's controlapi.Server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client with a sane default http.Client timeout.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 35 * time.Second}}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("controlapi: %s: http %d: %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("controlapi: %s: http %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start submits a job and streams every lifecycle event it produces --
// "start", any "exception", then "finish" -- invoking onEvent for each
// one as it arrives off the wire. Returns once the stream closes, either
// because "finish" arrived or the connection ended early.
func (c *Client) Start(ctx context.Context, req StartRequest, onEvent func(JobEventResponse)) error {
	buf, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/control/start", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("controlapi: /control/start: http %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("controlapi: /control/start: http %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev JobEventResponse
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		onEvent(ev)
		if ev.Type == "finish" {
			return nil
		}
	}
}

// Kill signals req.Ranks's members of job req.ID.
func (c *Client) Kill(ctx context.Context, req KillRequest) error {
	return c.post(ctx, "/control/kill", req, nil)
}

// Ping probes req.Ranks and returns the set of ranks that answered.
func (c *Client) Ping(ctx context.Context, req PingRequest) (PingResponse, error) {
	var out PingResponse
	err := c.post(ctx, "/control/ping", req, &out)
	return out, err
}

// Dump fetches the rank's current diagnostics snapshot.
func (c *Client) Dump(ctx context.Context) (diagnostics.Snapshot, error) {
	var out diagnostics.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/control/dump", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("controlapi: dump: http %d", resp.StatusCode)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}
