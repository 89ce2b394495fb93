package exec

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/oakbroker/derp/internal/eventlog"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/internal/transport"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newRootEngine(t *testing.T, peers *peer.Table, net *transport.Network, shellPath string) *Engine {
	t.Helper()
	cfg := Config{
		Log:       testLogger(),
		Rank:      0,
		IsRoot:    true,
		Subtree:   idset.New(0, 1),
		ShellPath: shellPath,
		Peers:     peers,
		Sink:      net,
	}
	e := NewEngine(cfg)
	net.RegisterNotifyHandler(0, func(typ string, data any) {
		e.Enqueue(func() { e.router.Dispatch(typ, data) })
	})
	return e
}

func newChildEngine(t *testing.T, rank types.Rank, net *transport.Network, shellPath string) *Engine {
	t.Helper()
	handle := net.Handle(rank, 0, true)
	cfg := Config{
		Log:       testLogger(),
		Rank:      rank,
		IsRoot:    false,
		Subtree:   idset.New(uint32(rank)),
		ShellPath: shellPath,
		Peers:     peer.New(nil),
		Sink:      net,
		Handle:    handle,
	}
	e := NewEngine(cfg)
	net.RegisterNotifyHandler(rank, func(typ string, data any) {
		e.Enqueue(func() { e.router.Dispatch(typ, data) })
	})
	return e
}

func TestStartJobSingleRankConvergesStartAndFinish(t *testing.T) {
	net := transport.NewNetwork()
	root := newRootEngine(t, peer.New(nil), net, "/bin/true")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)

	events := make(chan JobEvent, 8)
	root.StartJob(StartRequest{
		ID:    1,
		Ranks: idset.New(0),
		Respond: func(result any, err error) {
			if err != nil {
				t.Errorf("respond error: %v", err)
				return
			}
			events <- result.(JobEvent)
		},
	})

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if got[0] != "start" || got[1] != "finish" {
		t.Errorf("events = %v, want [start finish]", got)
	}
}

func TestStartJobTwoRanksPropagatesStateUpdate(t *testing.T) {
	net := transport.NewNetwork()
	peers := peer.New([]*peer.Child{
		{Rank: 1, Subtree: idset.New(1), Connected: true},
	})
	root := newRootEngine(t, peers, net, "/bin/true")
	child := newChildEngine(t, 1, net, "/bin/true")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)
	go child.Run(ctx)

	attached := make(chan error, 1)
	child.Enqueue(func() { attached <- child.Attach(ctx) })
	if err := <-attached; err != nil {
		t.Fatalf("Attach: %v", err)
	}

	events := make(chan JobEvent, 8)
	root.StartJob(StartRequest{
		ID:     2,
		UserID: 7,
		Ranks:  idset.New(0, 1),
		Respond: func(result any, err error) {
			if err != nil {
				t.Errorf("respond error: %v", err)
				return
			}
			events <- result.(JobEvent)
		},
	})

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for convergence, got %v", got)
		}
	}
	if got[0] != "start" || got[1] != "finish" {
		t.Errorf("events = %v, want [start finish]", got)
	}

	done := make(chan bool, 1)
	child.Enqueue(func() {
		_, err := child.Jobs().Lookup(2)
		done <- err == nil
	})
	if ok := <-done; !ok {
		t.Error("expected child rank to have learned about job 2 via state-update")
	}
}

func TestKillJobSignalsLocalShell(t *testing.T) {
	net := transport.NewNetwork()
	root := newRootEngine(t, peer.New(nil), net, "/bin/sleep")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)

	events := make(chan JobEvent, 8)
	root.StartJob(StartRequest{
		ID:    5,
		Ranks: idset.New(0),
		Respond: func(result any, err error) {
			if ev, ok := result.(JobEvent); ok {
				events <- ev
			}
		},
	})

	select {
	case ev := <-events:
		if ev.Type != "start" {
			t.Fatalf("first event = %v, want start", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for start")
	}

	root.KillJob(KillRequest{ID: 5, Ranks: idset.New(0), Signal: 15})

	select {
	case ev := <-events:
		if ev.Type != "finish" {
			t.Fatalf("second event = %v, want finish", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finish after kill")
	}
}

func TestExceptionSeverityZeroKillsJob(t *testing.T) {
	net := transport.NewNetwork()
	root := newRootEngine(t, peer.New(nil), net, "/bin/sleep")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)

	events := make(chan JobEvent, 8)
	root.StartJob(StartRequest{
		ID:    10,
		Ranks: idset.New(0),
		Respond: func(result any, err error) {
			if ev, ok := result.(JobEvent); ok {
				events <- ev
			}
		},
	})
	if ev := <-events; ev.Type != "start" {
		t.Fatalf("first event = %v, want start", ev.Type)
	}

	root.RaiseException(10, "test", "induced failure")

	var sawException, sawFinish bool
	deadline := time.After(2 * time.Second)
	for !sawFinish {
		select {
		case ev := <-events:
			if ev.Type == "exception" {
				sawException = true
			}
			if ev.Type == "finish" {
				sawFinish = true
			}
		case <-deadline:
			t.Fatalf("timed out: exception=%v finish=%v", sawException, sawFinish)
		}
	}
	if !sawException {
		t.Error("expected an exception event before finish")
	}
}

func TestStartAndFinishAppendEventlogEntries(t *testing.T) {
	net := transport.NewNetwork()
	log := eventlog.New(1)
	root := newRootEngine(t, peer.New(nil), net, "/bin/true")
	root.eventlog = log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)

	events := make(chan JobEvent, 4)
	root.StartJob(StartRequest{
		ID:    20,
		Ranks: idset.New(0),
		Respond: func(result any, err error) {
			if ev, ok := result.(JobEvent); ok {
				events <- ev
			}
		},
	})
	<-events // start
	<-events // finish

	var entries []eventlog.Entry
	deadline := time.After(time.Second)
	for len(entries) < 2 {
		select {
		case <-time.After(10 * time.Millisecond):
			entries = log.Entries(20)
		case <-deadline:
			t.Fatalf("timed out waiting for eventlog entries, got %d", len(entries))
		}
	}
	if entries[0].Type != eventlog.EventStart || entries[1].Type != eventlog.EventFinish {
		t.Errorf("entries = %v, want [START FINISH]", entries)
	}
}

func TestConnectDrainsPendingHelloResponses(t *testing.T) {
	net := transport.NewNetwork()
	peers := peer.New([]*peer.Child{
		{Rank: 1, Subtree: idset.New(1), Connected: false},
	})
	root := newRootEngine(t, peers, net, "/bin/true")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx)

	received := make(chan transport.Frame, 1)
	net.Handle(1, 0, true) // registers rank 1's parent binding
	_ = net.Handle(1, 0, true)
	if err := (childAttach{net: net, rank: 1, cb: func(f transport.Frame) { received <- f }}).attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// Job 30's update is queued while rank 1 is disconnected: StartJob's
	// own rank-only fast path is bypassed since this job spans two ranks
	// and rank 1 is not yet connected, so once the coalescing timer pops
	// the responder it lands in the pending queue.
	root.StartJob(StartRequest{ID: 30, Ranks: idset.New(0, 1), Respond: func(any, error) {}})
	deadline := time.Now().Add(2 * time.Second)
	for {
		popped := make(chan bool, 1)
		root.Enqueue(func() { popped <- root.hr.Count() == 0 })
		if <-popped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the hello responder to be popped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-received:
		t.Fatal("state-update delivered to rank 1 before Connect")
	default:
	}

	root.Connect(1)

	select {
	case f := <-received:
		if f.Type != "state-update" {
			t.Errorf("frame type = %q, want state-update", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending hello response to drain on connect")
	}
}

// childAttach is a small adapter so the test can attach a bare hello
// callback for a rank without spinning up a full child Engine.
type childAttach struct {
	net  *transport.Network
	rank types.Rank
	cb   transport.HelloCallback
}

func (c childAttach) attach() error {
	return c.net.Handle(c.rank, 0, true).Hello(context.Background(), c.rank, c.cb)
}
