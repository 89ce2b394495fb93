// ============================================================================
// derp Exec Engine - Per-Rank Reactor and Job State Machine
// ============================================================================
//
// Package: internal/exec
// File: engine.go
// Purpose: The single-threaded cooperative reactor that owns one rank's
//          job table, barrier state, hello responder coalescing timer and
//          local shell spawns, and drives the start/finish/barrier/kill/
//          exception state machine described in spec.md §4.5 - §4.6.
//
// Execution Model:
//   Every mutation of router, peer table, job table or barrier state
//   happens on the single goroutine running Run's loop, consuming one
//   buffered channel of posted closures. Anything that happens on another
//   goroutine -- a transport callback, a shell state-change callback, the
//   hello coalescing timer firing -- posts a closure via Enqueue instead
//   of touching engine state directly. This mirrors spec.md §5's
//   committed reactor design and ChuLiYu-raft-recovery's single
//   command-processing goroutine in internal/raft (here a hand-rolled
//   equivalent, since the original package has no generic event-loop
//   abstraction to adapt).
//
// Grounded on original_source/src/modules/derp/exec.c in its entirety:
// exec_job_add (subtree_ranks, conditional hello-responder push),
// exec_state_cb (job->p start/exit wiring), exec_notify_start /
// exec_notify_finish (converge-then-respond-or-notify-upstream),
// exec_barrier_check / exec_barrier_complete (LCA detection, barrier
// release), exec_exception (rank-0 gating, severity-0 kill fanout), and
// exec_kill (derp_forward of a signal to a job's subtree).
// ============================================================================

package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/oakbroker/derp/internal/barrier"
	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/internal/eventlog"
	"github.com/oakbroker/derp/internal/hello"
	"github.com/oakbroker/derp/internal/job"
	"github.com/oakbroker/derp/internal/metrics"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/internal/router"
	"github.com/oakbroker/derp/internal/shell"
	"github.com/oakbroker/derp/internal/transport"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// helloCoalesceDelay is the window over which a burst of job adds is
// batched into a single state-update frame before it is popped and
// fanned out, matching hello.c's short coalescing timer.
const helloCoalesceDelay = 20 * time.Millisecond

// KillPayload addresses a signal at a job's subtree via the "kill"
// action.
type KillPayload struct {
	ID     types.JobID `json:"id"`
	Signal int         `json:"signal"`
}

// BarrierEnterPayload is the upstream "barrier-enter" notify and the
// downstream "barrier-complete" action's companion payload.
type BarrierEnterPayload struct {
	ID    types.JobID `json:"id"`
	Seq   int         `json:"seq"`
	Ranks *idset.Set  `json:"ranks"`
}

// BarrierCompletePayload is the downward fanout signalling a job's
// barrier cycle has converged.
type BarrierCompletePayload struct {
	ID types.JobID `json:"id"`
}

// StartNotifyPayload is the upstream "start" notify.
type StartNotifyPayload struct {
	ID    types.JobID `json:"id"`
	Ranks *idset.Set  `json:"ranks"`
}

// FinishNotifyPayload is the upstream "finish" notify.
type FinishNotifyPayload struct {
	ID     types.JobID      `json:"id"`
	Ranks  *idset.Set       `json:"ranks"`
	Status types.ExitStatus `json:"status"`
}

// ReleasePayload is the upstream "release" notify. Release is not
// implemented (see DESIGN.md); handled only to log and drop.
type ReleasePayload struct {
	ID    types.JobID `json:"id"`
	Ranks *idset.Set  `json:"ranks"`
}

// ExceptionPayload is the upstream "exception" notify, gated to rank 0.
type ExceptionPayload struct {
	ID       types.JobID `json:"id"`
	Severity int         `json:"severity"`
	Type     string      `json:"type"`
	Note     string      `json:"note"`
}

// JobEvent is what a client-held job.Request receives as it is answered,
// once on start convergence, again on finish convergence, and again if
// the job takes an exception -- mirroring flux_respond_pack being called
// more than once against the same held request in the original module.
type JobEvent struct {
	Type          string // "start" | "finish" | "exception"
	Status        types.ExitStatus
	Severity      int
	ExceptionType string
	Note          string
}

// StartRequest is the client-facing request to start a job across Ranks.
type StartRequest struct {
	ID      types.JobID
	UserID  types.UserID
	Ranks   *idset.Set
	Respond func(result any, err error)
}

// KillRequest is the client-facing request to signal a job's members.
type KillRequest struct {
	ID     types.JobID
	Ranks  *idset.Set
	Signal int
}

// Engine is one rank's reactor: job table, router, peer table, barrier
// bookkeeping and hello responder, all touched only from Run's loop.
type Engine struct {
	log       *slog.Logger
	rank      types.Rank
	isRoot    bool
	subtree   *idset.Set
	shellPath string

	peers  *peer.Table
	router *router.Router
	jobs   *job.Table
	hr     *hello.Responder
	sink   transport.Sink
	handle transport.Handle

	ping *pingService

	metrics  *metrics.Collector // nil if metrics were not configured
	eventlog eventlog.Sink      // nil if no eventlog collaborator was configured

	events     chan func()
	hrTimerSet bool
}

// Config gathers what NewEngine needs to wire one rank's engine.
type Config struct {
	Log       *slog.Logger
	Rank      types.Rank
	IsRoot    bool
	Subtree   *idset.Set // this rank's own precomputed subtree idset
	ShellPath string
	Peers     *peer.Table
	Sink      transport.Sink
	Handle    transport.Handle // nil on root: root has no parent

	// Metrics and Eventlog are optional collaborators; either may be
	// nil, in which case the corresponding instrumentation is skipped.
	Metrics  *metrics.Collector
	Eventlog eventlog.Sink
}

// NewEngine builds an Engine and registers every action/notify handler
// the exec and ping services need against a fresh Router, mirroring
// exec_init/ping_init's external-init call sequence in mod_main.
func NewEngine(cfg Config) *Engine {
	r := router.New(cfg.Log, cfg.Rank, cfg.IsRoot, cfg.Peers, cfg.Sink)
	e := &Engine{
		log:       cfg.Log,
		rank:      cfg.Rank,
		isRoot:    cfg.IsRoot,
		subtree:   cfg.Subtree,
		shellPath: cfg.ShellPath,
		peers:     cfg.Peers,
		router:    r,
		jobs:      job.NewTable(),
		hr:        hello.NewResponder(),
		sink:      cfg.Sink,
		handle:    cfg.Handle,
		metrics:   cfg.Metrics,
		eventlog:  cfg.Eventlog,
		events:    make(chan func(), 256),
	}
	e.ping = newPingService(e)

	must(r.RegisterAction("state-update", e.handleStateUpdateAction))
	must(r.RegisterAction("kill", e.handleKillAction))
	must(r.RegisterAction("barrier-complete", e.handleBarrierCompleteAction))
	must(r.RegisterAction("ping", e.ping.handleAction))

	must(r.RegisterNotify("start", e.handleNotifyStart))
	must(r.RegisterNotify("finish", e.handleNotifyFinish))
	must(r.RegisterNotify("barrier-enter", e.handleNotifyBarrierEnter))
	must(r.RegisterNotify("release", e.handleNotifyRelease))
	must(r.RegisterNotify("exception", e.handleNotifyException))
	must(r.RegisterNotify("ping-reply", e.ping.handleNotify))

	return e
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// logEvent records a job lifecycle event to the configured eventlog
// collaborator, if any, logging (not failing) on error -- matching the
// rest of this file's treatment of a downstream collaborator.
func (e *Engine) logEvent(id types.JobID, typ eventlog.EventType, note string) {
	if e.eventlog == nil {
		return
	}
	if err := e.eventlog.Append(id, typ, note); err != nil {
		e.log.Error("eventlog append failed", "job_id", id, "type", typ, "error", err)
	}
}

// Connect marks a direct child as connected, draining any hello
// responses queued for it while it was away.
func (e *Engine) Connect(rank types.Rank) {
	e.Enqueue(func() {
		if err := e.peers.Connect(rank); err != nil {
			e.log.Error("peer connect failed", "rank", rank, "error", err)
			return
		}
		if e.metrics != nil {
			e.metrics.RecordPeerConnect()
		}
		if err := e.peers.ProcessPending(e.sink, rank); err != nil {
			e.log.Error("pending hello drain failed", "rank", rank, "error", err)
		}
	})
}

// Disconnect marks a direct child as disconnected.
func (e *Engine) Disconnect(rank types.Rank) {
	e.Enqueue(func() {
		e.peers.Disconnect(rank)
		if e.metrics != nil {
			e.metrics.RecordPeerDisconnect()
		}
	})
}

// Router exposes the bound router, e.g. so diagnostics can report
// registered types.
func (e *Engine) Router() *router.Router { return e.router }

// Jobs exposes the job table for read-only diagnostics.
func (e *Engine) Jobs() *job.Table { return e.jobs }

// Enqueue posts fn onto the reactor's event channel. Safe to call from
// any goroutine; fn itself always runs on the Run loop.
func (e *Engine) Enqueue(fn func()) {
	e.events <- fn
}

// Run drains the event channel until ctx is cancelled. Exactly one
// Engine per rank should have Run in flight.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.events:
			fn()
		}
	}
}

// Attach opens this rank's upstream hello stream, if it has a parent.
// Root has no parent and does not call Hello.
func (e *Engine) Attach(ctx context.Context) error {
	if e.isRoot {
		return nil
	}
	return e.handle.Hello(ctx, e.rank, func(f transport.Frame) {
		e.Enqueue(func() { e.handleFrame(f) })
	})
}

func (e *Engine) handleFrame(f transport.Frame) {
	ranks, err := idset.Decode(f.Idset)
	if err != nil {
		e.log.Error("malformed idset in hello frame", "type", f.Type, "error", err)
		return
	}
	if err := e.router.Receive(f.Type, ranks, f.Data); err != nil {
		e.log.Error("router receive failed", "type", f.Type, "error", err)
	}
}

// decodePayload recovers a typed payload from data, which arrives either
// as the original Go value (in-process transport) or as whatever
// encoding/json produced when decoding a wire Frame (a real transport).
func decodePayload[T any](data any) (T, error) {
	var out T
	if v, ok := data.(T); ok {
		return v, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}

// notifyUpstream sends typ upstream to the parent, logging and doing
// nothing if this rank is root (root has no parent to notify; reaching
// this path means a job's Request bookkeeping is out of sync).
func (e *Engine) notifyUpstream(typ string, data any) error {
	if e.isRoot {
		e.log.Error("attempted upstream notify from root, dropping", "type", typ)
		return nil
	}
	return e.handle.Notify(context.Background(), typ, data)
}

// StartJob begins tracking a new job and, if this rank is one of its
// members, spawns the local shell. Must be called from outside the
// reactor; it posts onto the event channel itself.
func (e *Engine) StartJob(req StartRequest) {
	e.Enqueue(func() { e.startJob(req) })
}

func (e *Engine) startJob(req StartRequest) {
	// hello_responder_push is skipped when the job addresses exactly
	// this rank and no one else -- this rank already knows about its
	// own job without needing a state-update round trip.
	first, _ := req.Ranks.First()
	if req.Ranks.Count() > 1 || first != uint32(e.rank) {
		e.hr.Push("add", req.ID, req.UserID, req.Ranks)
		if e.hr.Count() == 1 {
			e.scheduleHelloFlush()
		}
	}

	j := job.New(req.ID, req.UserID, req.Ranks.Copy(), e.subtree)
	if err := e.jobs.Add(j); err != nil {
		req.Respond(nil, err)
		return
	}
	e.updateJobsActive()
	if req.Respond != nil {
		j.Request = &job.Request{Respond: req.Respond}
	}
	if req.Ranks.Test(uint32(e.rank)) {
		e.startLocalShell(j)
	}
}

func (e *Engine) updateJobsActive() {
	if e.metrics != nil {
		e.metrics.SetJobsActive(e.jobs.Len())
	}
}

func (e *Engine) scheduleHelloFlush() {
	if e.hrTimerSet {
		return
	}
	e.hrTimerSet = true
	time.AfterFunc(helloCoalesceDelay, func() {
		e.Enqueue(func() {
			e.hrTimerSet = false
			e.flushHello()
		})
	})
}

func (e *Engine) flushHello() {
	resp := e.hr.Pop()
	if resp == nil {
		return
	}
	if err := e.peers.ForwardResponse(e.sink, resp); err != nil {
		e.log.Error("hello responder fanout failed", "error", err)
		e.recordForwardError()
	}
}

func (e *Engine) startLocalShell(j *job.Job) {
	proc := shell.New(e.log, shell.Spec{
		JobID:     j.ID,
		Rank:      e.rank,
		Path:      e.shellPath,
		Args:      []string{fmt.Sprintf("%d", j.ID)},
		Namespace: fmt.Sprintf("job-%d", j.ID),
		Barrier:   j.Ranks.Count() > 1,
	})
	proc.OnStateChange = func(state shell.State, err error) {
		e.Enqueue(func() { e.handleShellStateChange(j.ID, state, err) })
	}
	proc.OnBarrierEnter = func() {
		e.Enqueue(func() { e.handleLocalBarrierEnter(j.ID) })
	}
	j.Shell = proc

	if err := proc.Start(context.Background()); err != nil {
		e.log.Error("shell spawn failed", "job_id", j.ID, "error", err)
		e.finishLocally(j, types.SpawnFailureStatus(err))
	}
}

func (e *Engine) handleShellStateChange(id types.JobID, state shell.State, err error) {
	j, lookupErr := e.jobs.Lookup(id)
	if lookupErr != nil {
		return
	}
	switch state {
	case shell.Running:
		j.StartRanks.Set(uint32(e.rank))
		if e.metrics != nil {
			e.metrics.RecordStart()
		}
		e.logEvent(id, eventlog.EventStart, "")
		e.notifyStart(j)
	case shell.Exited:
		code := 0
		if proc, ok := j.Shell.(interface{ ExitCode() int }); ok {
			if c := proc.ExitCode(); c >= 0 {
				code = c
			}
		}
		status := types.ExitCode(code)
		// A shell killed by a signal has no exit code; report the raw
		// wait status (the signal number) instead of a clean 0.
		if ps, ok := err.(interface{ Sys() any }); ok {
			if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status = types.ExitStatus(ws.Signal())
			}
		}
		e.finishLocally(j, status)
	case shell.Failed:
		e.finishLocally(j, types.SpawnFailureStatus(err))
	}
}

func (e *Engine) handleLocalBarrierEnter(id types.JobID) {
	j, err := e.jobs.Lookup(id)
	if err != nil {
		return
	}
	req := barrier.Request{}
	if proc, ok := j.Shell.(interface {
		ReleaseBarrier(types.ExitStatus) error
	}); ok {
		req.Release = func(err error) {
			if err != nil {
				return
			}
			if releaseErr := proc.ReleaseBarrier(0); releaseErr != nil {
				e.log.Error("barrier release write failed", "job_id", j.ID, "error", releaseErr)
			}
		}
	}
	if err := j.Barrier.Enter(j.Barrier.Sequence, idset.New(uint32(e.rank)), req); err != nil {
		e.log.Error("local barrier enter rejected", "job_id", j.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordBarrierEntry()
	}
	e.checkBarrier(j)
}

func (e *Engine) notifyStart(j *job.Job) {
	if !j.StartConverged() {
		return
	}
	if j.Request != nil {
		j.Request.Respond(JobEvent{Type: "start"}, nil)
		return
	}
	payload := StartNotifyPayload{ID: j.ID, Ranks: j.StartRanks.Copy()}
	if err := e.notifyUpstream("start", payload); err != nil {
		e.log.Error("start notify upstream failed", "job_id", j.ID, "error", err)
		e.recordForwardError()
	}
}

func (e *Engine) finishLocally(j *job.Job, status types.ExitStatus) {
	j.Status = types.MaxStatus(j.Status, status)
	j.FinishRanks.Set(uint32(e.rank))
	if e.metrics != nil {
		e.metrics.RecordFinish()
	}
	e.logEvent(j.ID, eventlog.EventFinish, fmt.Sprintf("status=%d", j.Status))
	e.notifyFinish(j)
}

func (e *Engine) notifyFinish(j *job.Job) {
	if !j.FinishConverged() {
		return
	}
	if j.Request != nil {
		j.Request.Respond(JobEvent{Type: "finish", Status: j.Status}, nil)
		return
	}
	payload := FinishNotifyPayload{ID: j.ID, Ranks: j.FinishRanks.Copy(), Status: j.Status}
	if err := e.notifyUpstream("finish", payload); err != nil {
		e.log.Error("finish notify upstream failed", "job_id", j.ID, "error", err)
		e.recordForwardError()
	}
}

func (e *Engine) handleStateUpdateAction(typ string, ranks *idset.Set, data any) error {
	entries, err := decodePayload[[]hello.JobUpdate](data)
	if err != nil {
		return fmt.Errorf("%w: state-update: %v", derrs.Protocol, err)
	}
	for _, entry := range entries {
		if entry.Type != "add" {
			continue
		}
		if err := e.addRemoteJob(entry.ID, entry.UserID, entry.Ranks); err != nil && !errors.Is(err, derrs.Exists) {
			e.log.Error("state-update add failed", "job_id", entry.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) addRemoteJob(id types.JobID, userID types.UserID, ranks *idset.Set) error {
	j := job.New(id, userID, ranks.Copy(), e.subtree)
	if err := e.jobs.Add(j); err != nil {
		return err
	}
	if ranks.Test(uint32(e.rank)) {
		e.startLocalShell(j)
	}
	return nil
}

func (e *Engine) handleKillAction(typ string, ranks *idset.Set, data any) error {
	payload, err := decodePayload[KillPayload](data)
	if err != nil {
		return fmt.Errorf("%w: kill: %v", derrs.Protocol, err)
	}
	if !ranks.Test(uint32(e.rank)) {
		return nil // this rank is not a kill target
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		return nil // not tracked on this branch: nothing to signal
	}
	if j.Shell != nil {
		if err := j.Shell.Kill(payload.Signal); err != nil {
			e.log.Error("kill delivery failed", "job_id", j.ID, "error", err)
		}
	}
	return nil
}

// KillJob forwards a signal to every rank in req.Ranks that is a member
// of req.ID's job.
func (e *Engine) KillJob(req KillRequest) {
	e.Enqueue(func() {
		payload := KillPayload{ID: req.ID, Signal: req.Signal}
		if err := e.router.Forward("kill", req.Ranks, payload); err != nil {
			e.log.Error("kill forward failed", "job_id", req.ID, "error", err)
			e.recordForwardError()
		}
	})
}

func (e *Engine) handleNotifyStart(typ string, data any) {
	payload, err := decodePayload[StartNotifyPayload](data)
	if err != nil {
		e.log.Error("malformed start notify", "error", err)
		return
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		e.log.Error("start notify for unknown job", "job_id", payload.ID)
		return
	}
	j.StartRanks.Add(payload.Ranks)
	e.notifyStart(j)
}

func (e *Engine) handleNotifyFinish(typ string, data any) {
	payload, err := decodePayload[FinishNotifyPayload](data)
	if err != nil {
		e.log.Error("malformed finish notify", "error", err)
		return
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		e.log.Error("finish notify for unknown job", "job_id", payload.ID)
		return
	}
	j.FinishRanks.Add(payload.Ranks)
	j.Status = types.MaxStatus(j.Status, payload.Status)
	e.notifyFinish(j)
}

func (e *Engine) handleNotifyBarrierEnter(typ string, data any) {
	payload, err := decodePayload[BarrierEnterPayload](data)
	if err != nil {
		e.log.Error("malformed barrier-enter notify", "error", err)
		return
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		e.log.Error("barrier-enter notify for unknown job", "job_id", payload.ID)
		return
	}
	if err := j.Barrier.Enter(payload.Seq, payload.Ranks, barrier.Request{}); err != nil {
		e.log.Error("barrier enter rejected", "job_id", j.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordBarrierEntry()
	}
	e.checkBarrier(j)
}

// checkBarrier is exec_barrier_check: once this rank's barrier has
// observed every rank of its subtree portion of the job, either complete
// locally (this rank is the job's LCA) or notify the parent and wait.
func (e *Engine) checkBarrier(j *job.Job) {
	if !idset.Equal(j.Barrier.Ranks(), j.SubtreeRanks) {
		return
	}
	if j.IsLCA() {
		if err := e.router.Forward("barrier-complete", j.SubtreeRanks, BarrierCompletePayload{ID: j.ID}); err != nil {
			e.log.Error("barrier-complete forward failed", "job_id", j.ID, "error", err)
			e.recordForwardError()
		}
		if !e.isRoot {
			// root already ran the local action as part of Forward's
			// local-dispatch rule; every other LCA must complete itself.
			e.completeBarrier(j)
		}
		return
	}
	payload := BarrierEnterPayload{ID: j.ID, Seq: j.Barrier.Sequence, Ranks: j.Barrier.Ranks()}
	if err := e.notifyUpstream("barrier-enter", payload); err != nil {
		e.log.Error("barrier-enter notify upstream failed", "job_id", j.ID, "error", err)
		e.recordForwardError()
		j.Barrier.Cancel(err)
	}
}

func (e *Engine) recordForwardError() {
	if e.metrics != nil {
		e.metrics.RecordForwardError()
	}
}

func (e *Engine) handleBarrierCompleteAction(typ string, ranks *idset.Set, data any) error {
	payload, err := decodePayload[BarrierCompletePayload](data)
	if err != nil {
		return fmt.Errorf("%w: barrier-complete: %v", derrs.Protocol, err)
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		return nil
	}
	e.completeBarrier(j)
	return nil
}

func (e *Engine) completeBarrier(j *job.Job) {
	j.Barrier.Complete()
	if e.metrics != nil {
		e.metrics.RecordBarrierComplete()
	}
}

func (e *Engine) handleNotifyRelease(typ string, data any) {
	payload, _ := decodePayload[ReleasePayload](data)
	e.log.Warn(derrs.Unsupported.Error(), "notify", "release", "job_id", payload.ID)
}

// handleNotifyException is exec_exception: only rank 0 acts on it (every
// other rank that receives it relays it upstream via Notify, never
// handles it); rank 0 answers the client's held request, and on severity 0
// fans out a SIGTERM kill to the job's full rank set.
func (e *Engine) handleNotifyException(typ string, data any) {
	if !e.isRoot {
		if err := e.notifyUpstream(typ, data); err != nil {
			e.log.Error("exception relay upstream failed", "error", err)
			e.recordForwardError()
		}
		return
	}
	payload, err := decodePayload[ExceptionPayload](data)
	if err != nil {
		e.log.Error("malformed exception notify", "error", err)
		return
	}
	j, err := e.jobs.Lookup(payload.ID)
	if err != nil {
		e.log.Error("exception notify for unknown job", "job_id", payload.ID)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordException()
	}
	e.logEvent(j.ID, eventlog.EventException, payload.Note)
	if j.Request != nil {
		j.Request.Respond(JobEvent{
			Type:          "exception",
			Severity:      payload.Severity,
			ExceptionType: payload.Type,
			Note:          payload.Note,
		}, nil)
	}
	if payload.Severity == 0 {
		killPayload := KillPayload{ID: j.ID, Signal: 15}
		if err := e.router.Forward("kill", j.SubtreeRanks, killPayload); err != nil {
			e.log.Error("exception kill fanout failed", "job_id", j.ID, "error", err)
			e.recordForwardError()
		}
	}
}

// RaiseException is exec_error/exec_verror: any rank can originate a
// severity-0 exception for one of its jobs, either handling it directly
// (root) or notifying the parent.
func (e *Engine) RaiseException(id types.JobID, excType, note string) {
	e.Enqueue(func() {
		payload := ExceptionPayload{ID: id, Severity: 0, Type: excType, Note: note}
		if e.isRoot {
			e.handleNotifyException("exception", payload)
			return
		}
		if err := e.notifyUpstream("exception", payload); err != nil {
			e.log.Error("exception notify upstream failed", "job_id", id, "error", err)
			e.recordForwardError()
		}
	})
}
