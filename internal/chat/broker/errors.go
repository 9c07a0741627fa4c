package broker

import (
	"errors"
	"fmt"

	"github.com/wtask/chatcast/internal/chat/wire"
)

var (
	// ErrUnderStopCondition - returns in case if Broker is under stop condition
	// and will not accept any new connections, so you should close such connection by your own.
	ErrUnderStopCondition = errors.New("broker.Broker: under stop condition")

	// ErrIdentityTaken - returns in case if a session with the same identity id is kept already.
	ErrIdentityTaken = errors.New("broker.Broker: identity is kept already")

	// ErrSessionClosed - returns on sending into a session which has left Active state.
	ErrSessionClosed = errors.New("broker.Session: session is not active")
)

// ConnectionError - accept, read or write failure. It is fatal for the affected
// session or, if Op is "accept", for the accept loop.
type ConnectionError struct {
	Op       string
	Identity wire.Identity
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Identity.ID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Identity, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
