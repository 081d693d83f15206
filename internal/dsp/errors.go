package dsp

import "errors"

var (
	// ErrInvalidConfiguration reports a search configuration that cannot produce a result:
	// a non-positive Doppler step, an inverted Doppler range, or a signal no longer than the code.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrBufferSizeMismatch reports caller-supplied output storage whose dimensions differ
	// from the ones computed for the search.
	ErrBufferSizeMismatch = errors.New("buffer size mismatch")
)
