package chat

import (
	"sync/atomic"

	"github.com/wtask/chatcast/internal/chat/wire"
)

// ServerIdentity - sender of messages originated by server operator.
var ServerIdentity = wire.Identity{ID: 0, Name: "Server"}

// identityCounter - issues unique identities, the first one is User1.
type identityCounter struct {
	last atomic.Uint64
}

func (c *identityCounter) next() wire.Identity {
	return wire.NewIdentity(c.last.Add(1))
}
