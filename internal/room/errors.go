package room

import (
	"errors"
	"fmt"
)

// ErrStaleEvent marks a delta for a room that is no longer held, or older
// than the last full snapshot.
var ErrStaleEvent = errors.New("stale event discarded")

// ErrDesync matches every *DesyncError.
var ErrDesync = errors.New("room state desynchronized")

// DesyncError is returned when a delta references state the mirror does not have.
type DesyncError struct {
	Kind   string
	Reason string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("desync on %s: %s", e.Kind, e.Reason)
}

func (e *DesyncError) Is(target error) bool { return target == ErrDesync }

func desync(kind, format string, args ...any) error {
	return &DesyncError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
