package wire

import (
	"errors"
	"fmt"
)

// ErrIncomplete - returned by Decode when buffer does not hold a complete frame yet.
var ErrIncomplete = errors.New("wire: incomplete frame")

// FramingError - the peer sent a frame which can not be accepted.
// The connection which produced it must not be read any further.
type FramingError struct {
	Length uint32
	Limit  int
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: bad frame body (%d bytes): %v", e.Length, e.Err)
	}
	return fmt.Sprintf("wire: frame length %d exceeds limit %d", e.Length, e.Limit)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}
