// ============================================================================
// derp Diagnostics - Read-Only State Dump
// ============================================================================
//
// Package: internal/diagnostics
// File: diagnostics.go
// Purpose: A point-in-time, JSON-serializable snapshot of one rank's
//          job table, peer table, and per-job barrier state, for
//          derpctl dump and for tests that want to assert on exec's
//          internal state without reaching into its private fields.
//
// This is one-way: there is no Restore, and a Dump is never replayed
// into a running Engine. Crash recovery from a dump is explicitly out
// of scope (spec.md's persistent-storage Non-goal covers this the same
// way it covers internal/eventlog).
//
// Grounded on ChuLiYu-raft-recovery/internal/snapshot/snapshot_manager.go
// (the Manager.Write/Load shape), with the file-backed Write/Load and
// schema-version machinery dropped since there is nothing to load a
// Dump back into.
// ============================================================================

package diagnostics

import (
	"encoding/json"

	"github.com/oakbroker/derp/internal/job"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// JobSnapshot is one job's externally visible state at dump time.
type JobSnapshot struct {
	ID              types.JobID    `json:"id"`
	UserID          types.UserID   `json:"user_id"`
	Ranks           string         `json:"ranks"`
	SubtreeRanks    string         `json:"subtree_ranks"`
	StartRanks      string         `json:"start_ranks"`
	FinishRanks     string         `json:"finish_ranks"`
	Status          types.ExitStatus `json:"status"`
	IsLCA           bool           `json:"is_lca"`
	BarrierSequence int            `json:"barrier_sequence"`
	BarrierRanks    string         `json:"barrier_ranks"`
	HasLocalShell   bool           `json:"has_local_shell"`
}

// PeerSnapshot is one direct child's connection state at dump time.
type PeerSnapshot struct {
	Rank      types.Rank `json:"rank"`
	Subtree   string     `json:"subtree"`
	Connected bool       `json:"connected"`
}

// Snapshot is the full point-in-time dump of one rank.
type Snapshot struct {
	Rank  types.Rank     `json:"rank"`
	Jobs  []JobSnapshot  `json:"jobs"`
	Peers []PeerSnapshot `json:"peers"`
}

// Dump builds a Snapshot from the live job and peer tables. Callers
// running this from outside the engine's reactor goroutine (e.g. an
// HTTP handler) must invoke it through Engine.Enqueue to avoid racing
// against job/barrier mutation.
func Dump(rank types.Rank, jobs *job.Table, peers *peer.Table) Snapshot {
	snap := Snapshot{Rank: rank}

	jobs.Each(func(j *job.Job) {
		js := JobSnapshot{
			ID:              j.ID,
			UserID:          j.UserID,
			Ranks:           idset.Encode(j.Ranks),
			SubtreeRanks:    idset.Encode(j.SubtreeRanks),
			StartRanks:      idset.Encode(j.StartRanks),
			FinishRanks:     idset.Encode(j.FinishRanks),
			Status:          j.Status,
			IsLCA:           j.IsLCA(),
			BarrierSequence: j.Barrier.Sequence,
			BarrierRanks:    idset.Encode(j.Barrier.Ranks()),
			HasLocalShell:   j.Shell != nil,
		}
		snap.Jobs = append(snap.Jobs, js)
	})

	for _, r := range peers.Ranks() {
		c, err := peers.Lookup(r)
		if err != nil {
			continue
		}
		snap.Peers = append(snap.Peers, PeerSnapshot{
			Rank:      c.Rank,
			Subtree:   idset.Encode(c.Subtree),
			Connected: c.Connected,
		})
	}

	return snap
}

// MarshalJSON-equivalent convenience: Encode renders a Snapshot as
// indented JSON, the format derpctl dump prints.
func Encode(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}
