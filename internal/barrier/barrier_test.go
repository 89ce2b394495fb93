package barrier

import (
	"errors"
	"testing"

	"github.com/oakbroker/derp/internal/derrs"
	"github.com/oakbroker/derp/pkg/idset"
)

func TestEnterLocalAccumulates(t *testing.T) {
	b := New()
	b.EnterLocal(1)
	b.EnterLocal(3)
	if idset.Encode(b.Ranks()) != "1,3" {
		t.Errorf("Ranks() = %q, want %q", idset.Encode(b.Ranks()), "1,3")
	}
}

func TestEnterRejectsSequenceMismatch(t *testing.T) {
	b := New()
	err := b.Enter(1, idset.New(2), Request{})
	if !errors.Is(err, derrs.SequenceMismatch) {
		t.Errorf("Enter with wrong seq error = %v, want SequenceMismatch", err)
	}
}

func TestEnterAcceptsCurrentSequence(t *testing.T) {
	b := New()
	if err := b.Enter(0, idset.New(2, 3), Request{}); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if idset.Encode(b.Ranks()) != "2-3" {
		t.Errorf("Ranks() = %q, want %q", idset.Encode(b.Ranks()), "2-3")
	}
}

func TestCompleteReleasesAndAdvancesSequence(t *testing.T) {
	b := New()
	var released []error
	b.Enter(0, idset.New(1), Request{Release: func(err error) { released = append(released, err) }})
	b.Enter(0, idset.New(2), Request{Release: func(err error) { released = append(released, err) }})

	b.Complete()

	if len(released) != 2 {
		t.Fatalf("len(released) = %d, want 2", len(released))
	}
	for _, err := range released {
		if err != nil {
			t.Errorf("release err = %v, want nil on normal completion", err)
		}
	}
	if b.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1 after Complete", b.Sequence)
	}
	if !b.Ranks().IsEmpty() {
		t.Error("expected Ranks() to be cleared after Complete")
	}
}

func TestCancelReleasesWithErrorAndResets(t *testing.T) {
	b := New()
	var got error
	b.Enter(0, idset.New(1), Request{Release: func(err error) { got = err }})

	cancelErr := errors.New("upstream failed")
	b.Cancel(cancelErr)

	if got != cancelErr {
		t.Errorf("release err = %v, want %v", got, cancelErr)
	}
	if b.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1 after Cancel (spec.md: cancellation resets)", b.Sequence)
	}
	if !b.Ranks().IsEmpty() {
		t.Error("expected Ranks() to be cleared after Cancel")
	}
}

func TestStaleEnterAfterCompleteIsRejected(t *testing.T) {
	b := New()
	b.Enter(0, idset.New(1), Request{})
	b.Complete()

	if err := b.Enter(0, idset.New(2), Request{}); !errors.Is(err, derrs.SequenceMismatch) {
		t.Errorf("stale Enter error = %v, want SequenceMismatch", err)
	}
	if err := b.Enter(1, idset.New(2), Request{}); err != nil {
		t.Errorf("Enter at new sequence: %v", err)
	}
}
