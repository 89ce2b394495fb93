package types

import (
	"fmt"
	"syscall"
	"testing"
)

func TestSpawnFailureStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want ExitStatus
	}{
		{syscall.EPERM, ExitCode(126)},
		{syscall.EACCES, ExitCode(126)},
		{syscall.ENOENT, ExitCode(127)},
		{syscall.EHOSTUNREACH, ExitCode(68)},
		{fmt.Errorf("wrapped: %w", syscall.ENOENT), ExitCode(127)},
		{fmt.Errorf("boom"), ExitCode(1)},
	}
	for _, tc := range cases {
		if got := SpawnFailureStatus(tc.err); got != tc.want {
			t.Errorf("SpawnFailureStatus(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestMaxStatusIsCommutativeAndIdempotent(t *testing.T) {
	a, b := ExitCode(0), ExitCode(2)
	if MaxStatus(a, b) != MaxStatus(b, a) {
		t.Error("MaxStatus must be commutative")
	}
	if MaxStatus(a, a) != a {
		t.Error("MaxStatus must be idempotent")
	}
	if MaxStatus(a, b) != b {
		t.Errorf("MaxStatus(%v, %v) = %v, want %v", a, b, MaxStatus(a, b), b)
	}
}
