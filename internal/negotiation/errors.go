package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrDescriptorRejected = errors.New("session descriptor rejected")
	ErrCandidateRejected  = errors.New("ice candidate rejected")
	ErrStaleRound         = errors.New("result belongs to a stale negotiation round")
	ErrWrongRole          = errors.New("operation not allowed for this role")
	ErrRoundInProgress    = errors.New("negotiation round already in progress")
	ErrNotStarted         = errors.New("no live peer connection")
	ErrUnexpectedAnswer   = errors.New("answer received without an outstanding offer")
	ErrTransportFailed    = errors.New("peer transport failed")
)

// Error records which step of which round failed.
type Error struct {
	Op    string
	Round uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (round %d): %v", e.Op, e.Round, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
