package idset

import "errors"

// ErrProtocol is returned (wrapped) when a wire-format idset string cannot
// be decoded. Callers compare with errors.Is.
var ErrProtocol = errors.New("malformed idset")
