// Package derrs defines the error taxonomy shared across derp's
// components (spec §7): a small set of sentinel kinds, not type names, so
// callers compare with errors.Is regardless of which component a failure
// came from.
package derrs

import "errors"

var (
	// Protocol covers malformed payloads, unknown message types, and
	// idset decode failures. Logged and, for requests, returned to the
	// caller; for streamed notifies, logged and dropped.
	Protocol = errors.New("protocol")

	// NotFound covers operations referencing an unknown job id. Never
	// fatal.
	NotFound = errors.New("not found")

	// Exists covers a duplicate job add or duplicate action/notify
	// registration. Never fatal.
	Exists = errors.New("exists")

	// Unsupported covers an operation not implemented on this path
	// (e.g. release).
	Unsupported = errors.New("unsupported")

	// Transient covers resource exhaustion or downstream send failure:
	// responded to the client, but in-memory state remains consistent.
	Transient = errors.New("transient")

	// JobFatal covers a job-level failure (spawn failed, barrier failed
	// upstream): produces an exception notify upstream rather than
	// tearing down the reactor.
	JobFatal = errors.New("job fatal")

	// UnknownPeer is returned by the peer table when a lookup, connect
	// or pending-queue drain names a rank that is not a direct child
	// (Disconnect ignores such ranks).
	UnknownPeer = errors.New("unknown peer")

	// SequenceMismatch is returned by the barrier when an entry request
	// carries a sequence number that does not match the barrier's
	// current cycle.
	SequenceMismatch = errors.New("barrier sequence mismatch")
)
