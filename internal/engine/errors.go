package engine

import "errors"

var (
	// ErrConfiguration rejects an invalid pool or window configuration
	// before any worker is spawned.
	ErrConfiguration = errors.New("engine: invalid configuration")

	// ErrTransferExhausted reports that every worker failed before the
	// phase reached its minimum duration.
	ErrTransferExhausted = errors.New("engine: all workers failed before minimum duration")

	// ErrCanceled marks a phase cut short by the caller. The partial
	// result computed from data gathered so far is still returned.
	ErrCanceled = errors.New("engine: transfer canceled")
)
