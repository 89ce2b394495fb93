// ============================================================================
// derp Job Eventlog - Sequenced, Checksummed Job History
// ============================================================================
//
// Package: internal/eventlog
// File: eventlog.go
// Purpose: The contract internal/exec uses to record a job's lifecycle
//          events (start, finish, exception, release) for later
//          inspection, plus a non-durable in-memory implementation used
//          by default and by tests. The real, durable implementation of
//          this contract is an adjacent KVS-backed collaborator and is
//          not part of this module.
//
// This is explicitly not a crash-recovery log: Sink never claims to
// survive a process restart, and there is no Replay-into-state-machine
// entry point. It exists so a job's history can be inspected after the
// fact (derpctl dump, tests asserting event ordering), with a checksum
// per entry to catch a corrupted Append in tests rather than to recover
// from one in production.
//
// Grounded on ChuLiYu-raft-recovery/internal/storage/wal (types.go's
// Event/EventType shape, checksum.go's CRC32 scheme, batch_writer.go's
// buffer-then-flush shape), with the durable file-backed parts of WAL
// dropped per spec.md's persistent-storage Non-goal.
// ============================================================================

package eventlog

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/oakbroker/derp/pkg/types"
)

// EventType names one kind of job lifecycle event recorded to the log.
type EventType string

const (
	EventStart     EventType = "START"
	EventFinish    EventType = "FINISH"
	EventBarrier   EventType = "BARRIER"
	EventRelease   EventType = "RELEASE"
	EventException EventType = "EXCEPTION"
)

// Entry is one recorded job lifecycle event.
type Entry struct {
	Seq       uint64
	JobID     types.JobID
	Type      EventType
	Note      string
	Timestamp int64 // Unix milliseconds
	Checksum  uint32
}

// checksum computes the CRC32-IEEE checksum over an entry's identifying
// fields. Timestamp is excluded since tests may replay an entry at a
// different wall-clock time than it was originally appended.
func checksum(jobID types.JobID, typ EventType, seq uint64, note string) uint32 {
	buf := make([]byte, 0, 32+len(note))
	buf = appendUint64(buf, uint64(jobID))
	buf = append(buf, string(typ)...)
	buf = appendUint64(buf, seq)
	buf = append(buf, note...)
	return crc32.ChecksumIEEE(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// Verify reports whether e's stored checksum matches its fields.
func Verify(e Entry) bool {
	return e.Checksum == checksum(e.JobID, e.Type, e.Seq, e.Note)
}

// Sink is the contract internal/exec records job lifecycle events
// through. The in-memory Log implements it directly; a durable,
// KVS-backed implementation lives outside this module and implements
// the same interface.
type Sink interface {
	Append(jobID types.JobID, typ EventType, note string) error
}

// nowMillis is overridden by tests that need deterministic timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// Log is a non-durable, in-memory Sink: entries accumulate in a buffer
// and flush into the retained log either when the buffer fills or on an
// explicit Flush call, mirroring batch_writer.go's accumulate-then-flush
// shape without ever touching a file.
type Log struct {
	mu      sync.Mutex
	seq     uint64
	buffer  []Entry
	entries []Entry

	maxBatch int
}

// New returns an empty Log that flushes its buffer after maxBatch
// entries accumulate. A maxBatch of 0 or less flushes on every Append.
func New(maxBatch int) *Log {
	return &Log{maxBatch: maxBatch}
}

// Append records one event, assigning it the next sequence number and
// checksum, and flushes the buffer if it has reached maxBatch.
func (l *Log) Append(jobID types.JobID, typ EventType, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry := Entry{
		Seq:       l.seq,
		JobID:     jobID,
		Type:      typ,
		Note:      note,
		Timestamp: nowMillis(),
		Checksum:  checksum(jobID, typ, l.seq, note),
	}
	l.buffer = append(l.buffer, entry)
	if l.maxBatch <= 0 || len(l.buffer) >= l.maxBatch {
		l.flushLocked()
	}
	return nil
}

// Flush moves any buffered entries into the retained log immediately,
// without waiting for the batch to fill.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *Log) flushLocked() {
	l.entries = append(l.entries, l.buffer...)
	l.buffer = nil
}

// Entries returns every entry flushed so far, for job id, in sequence
// order. Unflushed buffered entries are not included; call Flush first
// if those are needed.
func (l *Log) Entries(jobID types.JobID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries have been flushed into the retained log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
