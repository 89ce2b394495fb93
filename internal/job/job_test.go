package job

import (
	"errors"
	"testing"

	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/pkg/idset"
	"github.com/oakbroker/derp/pkg/types"
)

func TestSubtreeRanksIsIntersection(t *testing.T) {
	j := New(1, 100, idset.New(0, 1, 2, 3), idset.New(1, 4, 5))
	if idset.Encode(j.SubtreeRanks) != "1" {
		t.Errorf("SubtreeRanks = %q, want %q", idset.Encode(j.SubtreeRanks), "1")
	}
}

func TestIsLCA(t *testing.T) {
	whole := New(1, 100, idset.New(1, 2), idset.New(1, 2, 3))
	if !whole.IsLCA() {
		t.Error("expected job whose ranks are fully contained in this rank's subtree to be the LCA")
	}

	partial := New(2, 100, idset.New(1, 2, 9), idset.New(1, 2, 3))
	if partial.IsLCA() {
		t.Error("expected job spanning outside this rank's subtree to not be the LCA")
	}
}

func TestStartAndFinishConverged(t *testing.T) {
	j := New(1, 100, idset.New(1, 2), idset.New(1, 2, 3))
	if j.StartConverged() {
		t.Error("expected StartConverged to be false before any rank starts")
	}
	j.StartRanks.Add(j.SubtreeRanks)
	if !j.StartConverged() {
		t.Error("expected StartConverged once StartRanks covers SubtreeRanks")
	}
	if j.FinishConverged() {
		t.Error("expected FinishConverged to remain false independently of start")
	}
}

func TestTableAddDuplicateIsExists(t *testing.T) {
	tbl := NewTable()
	j := New(1, 100, idset.New(0), idset.New(0))
	if err := tbl.Add(j); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tbl.Add(j); !errors.Is(err, derrs.Exists) {
		t.Errorf("duplicate Add error = %v, want derrs.Exists", err)
	}
}

func TestTableLookupMissingIsNotFound(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Lookup(types.JobID(99)); !errors.Is(err, derrs.NotFound) {
		t.Errorf("Lookup error = %v, want derrs.NotFound", err)
	}
}

func TestTableDeleteAndLen(t *testing.T) {
	tbl := NewTable()
	tbl.Add(New(1, 100, idset.New(0), idset.New(0)))
	tbl.Add(New(2, 100, idset.New(0), idset.New(0)))
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	tbl.Delete(1)
	if tbl.Len() != 1 {
		t.Errorf("Len() after Delete = %d, want 1", tbl.Len())
	}
	if _, err := tbl.Lookup(1); !errors.Is(err, derrs.NotFound) {
		t.Error("expected deleted job to be NotFound")
	}
}
