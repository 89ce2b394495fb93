package eventlog

import "testing"

func TestAppendFlushesAtMaxBatch(t *testing.T) {
	l := New(2)
	if err := l.Append(1, EventStart, ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d before batch fills, want 0", l.Len())
	}
	if err := l.Append(1, EventFinish, "ok"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d after batch fills, want 2", l.Len())
	}
}

func TestFlushIsIdempotentAndOrdered(t *testing.T) {
	l := New(10)
	for i := 0; i < 3; i++ {
		if err := l.Append(7, EventStart, ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	l.Flush()
	l.Flush()
	entries := l.Entries(7)
	if len(entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Errorf("entries[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestEntriesFiltersByJobID(t *testing.T) {
	l := New(1)
	_ = l.Append(1, EventStart, "")
	_ = l.Append(2, EventStart, "")
	_ = l.Append(1, EventFinish, "")

	if got := len(l.Entries(1)); got != 2 {
		t.Errorf("len(Entries(1)) = %d, want 2", got)
	}
	if got := len(l.Entries(2)); got != 1 {
		t.Errorf("len(Entries(2)) = %d, want 1", got)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	l := New(1)
	_ = l.Append(1, EventException, "oom")
	entry := l.Entries(1)[0]
	if !Verify(entry) {
		t.Fatal("Verify(entry) = false for an untouched entry")
	}
	entry.Note = "tampered"
	if Verify(entry) {
		t.Error("Verify(entry) = true after mutating Note, want false")
	}
}
