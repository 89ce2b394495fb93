package diagnostics

import (
	"strings"
	"testing"

	"github.com/oakbroker/derp/internal/job"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/pkg/idset"
)

func TestDumpReportsJobsAndPeers(t *testing.T) {
	jobs := job.NewTable()
	j := job.New(1, 100, idset.New(0, 1, 2), idset.New(0, 1, 2))
	if err := jobs.Add(j); err != nil {
		t.Fatalf("Add: %v", err)
	}

	peers := peer.New([]*peer.Child{
		{Rank: 1, Subtree: idset.New(1), Connected: true},
	})

	snap := Dump(0, jobs, peers)

	if snap.Rank != 0 {
		t.Errorf("Rank = %d, want 0", snap.Rank)
	}
	if len(snap.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %d, want 1", len(snap.Jobs))
	}
	if snap.Jobs[0].ID != 1 || !snap.Jobs[0].IsLCA {
		t.Errorf("Jobs[0] = %+v, want ID=1 IsLCA=true", snap.Jobs[0])
	}
	if len(snap.Peers) != 1 || snap.Peers[0].Rank != 1 || !snap.Peers[0].Connected {
		t.Errorf("Peers = %+v, want one connected rank 1", snap.Peers)
	}
}

func TestEncodeProducesReadableJSON(t *testing.T) {
	snap := Dump(0, job.NewTable(), peer.New(nil))
	b, err := Encode(snap)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(b), `"rank": 0`) {
		t.Errorf("Encode output = %s, want it to contain rank field", b)
	}
}
