// ============================================================================
// derp Job Record and Table - Per-Rank Job State
// ============================================================================
//
// Package: internal/job
// File: job.go
// Purpose: The per-rank, per-job record tracked by the exec engine:
//          which ranks the job spans, which of those fall under this
//          rank's subtree, the running start/finish/release
//          aggregation sets, the job's distributed barrier, and the
//          local shell handle (if this rank is one of the job's
//          members).
//
// Grounded on original_source/src/modules/derp/job.h / job.c
// (struct derp_job, derp_job_create, derp_job_hash_create/add/lookup).
// ============================================================================

package job

import (
	"sync"

	"github.com/oakbroker/derp/internal/barrier"
	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

// Shell is the minimal surface the job record needs from a locally
// spawned job process; internal/shell.Process implements it.
type Shell interface {
	Kill(signal int) error
}

// Request identifies the single client request a root rank may be
// holding for a job: a start request whose Respond is called once per
// converged event ("start", any "exception", then "finish").
type Request struct {
	Respond func(result any, err error)
}

// Job is one job's state as seen from this rank.
type Job struct {
	ID     types.JobID
	UserID types.UserID

	// Ranks is the job's full, cluster-wide rank set.
	Ranks *idset.Set
	// SubtreeRanks is Ranks ∩ this rank's subtree -- the portion of
	// the job this rank is responsible for aggregating.
	SubtreeRanks *idset.Set

	StartRanks   *idset.Set
	FinishRanks  *idset.Set
	ReleaseRanks *idset.Set
	Status       types.ExitStatus

	Barrier *barrier.Barrier

	// Request is set only on the rank holding the original client
	// request for this job (normally root); nil elsewhere.
	Request *Request

	// Shell is set only if this rank is one of Ranks (i.e. a member
	// of the job, not just an ancestor aggregating on its behalf).
	Shell Shell
}

// New creates a job record for the given cluster-wide rank set. subtree
// is this rank's own subtree idset, used to compute SubtreeRanks.
func New(id types.JobID, userID types.UserID, ranks, subtree *idset.Set) *Job {
	return &Job{
		ID:           id,
		UserID:       userID,
		Ranks:        ranks,
		SubtreeRanks: idset.Intersect(ranks, subtree),
		StartRanks:   idset.New(),
		FinishRanks:  idset.New(),
		ReleaseRanks: idset.New(),
		Barrier:      barrier.New(),
	}
}

// IsLCA reports whether this rank is the lowest common ancestor for the
// whole job: true when every rank of the job falls inside this rank's
// own subtree.
func (j *Job) IsLCA() bool {
	return idset.Equal(j.Ranks, j.SubtreeRanks)
}

// StartConverged reports whether every rank of this rank's subtree
// portion of the job has reported started.
func (j *Job) StartConverged() bool {
	return idset.Equal(j.StartRanks, j.SubtreeRanks)
}

// FinishConverged reports whether every rank of this rank's subtree
// portion of the job has reported finished.
func (j *Job) FinishConverged() bool {
	return idset.Equal(j.FinishRanks, j.SubtreeRanks)
}

// Table is the set of jobs currently tracked by this rank, keyed by
// job id.
type Table struct {
	mu   sync.Mutex
	jobs map[types.JobID]*Job
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{jobs: make(map[types.JobID]*Job)}
}

// Add inserts j, or returns derrs.Exists if its id is already tracked.
func (t *Table) Add(j *Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[j.ID]; ok {
		return derrs.Exists
	}
	t.jobs[j.ID] = j
	return nil
}

// Lookup returns the tracked job for id, or derrs.NotFound.
func (t *Table) Lookup(id types.JobID) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, derrs.NotFound
	}
	return j, nil
}

// Delete removes id from the table, if present. Deletion is not driven
// by any completion signal in this implementation (see DESIGN.md: job
// reaping is not implemented); exposed for diagnostics and tests.
func (t *Table) Delete(id types.JobID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// Len reports how many jobs are currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Each calls fn once per tracked job, in no particular order. fn must
// not call back into Table.
func (t *Table) Each(fn func(*Job)) {
	t.mu.Lock()
	snapshot := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		snapshot = append(snapshot, j)
	}
	t.mu.Unlock()
	for _, j := range snapshot {
		fn(j)
	}
}
