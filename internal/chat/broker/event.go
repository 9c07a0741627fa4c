package broker

import (
	"sync"
	"time"

	"github.com/wtask/chatcast/internal/chat/wire"
)

// EventKind - describes what happened in the broker.
type EventKind int

const (
	_ EventKind = iota
	// EventConnected - occurres after new session was registered.
	EventConnected
	// EventDisconnected - occurres after parting with session.
	EventDisconnected
	// EventMessage - occurres when chat message from the outside was arrived.
	EventMessage
	// EventLog - human readable log line.
	EventLog
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventLog:
		return "log"
	default:
		return "unknown"
	}
}

// PartAction - describes the type of parting with session.
type PartAction int

const (
	_ PartAction = iota
	// PartActionLeft - the parting is occurred due to connection was closed by peer or by command.
	PartActionLeft
	// PartActionTimeout - the parting is occurred due to connection timeout.
	PartActionTimeout
	// PartActionFailed - the parting is occurred due to read, write or framing failure.
	PartActionFailed
	// PartActionShutdown - the parting is occurred due to broker is stopping.
	PartActionShutdown
)

func (a PartAction) String() string {
	switch a {
	case PartActionLeft:
		return "left"
	case PartActionTimeout:
		return "timeout"
	case PartActionFailed:
		return "failed"
	case PartActionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event - is published to subscribers, the only hook for presentation layers.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Identity wire.Identity
	Message  wire.Message // EventMessage only
	Action   PartAction   // EventDisconnected only
	Text     string       // EventLog only
}

// observers - subscriber list, publishing never blocks the broker.
type observers struct {
	mu      sync.RWMutex
	next    int
	subs    map[int]chan Event
	dropped func()
}

func newObservers(dropped func()) *observers {
	return &observers{subs: make(map[int]chan Event), dropped: dropped}
}

func (o *observers) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = ch
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		// closeAll may have released the channel already
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

func (o *observers) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs {
		select {
		case ch <- e:
		default:
			if o.dropped != nil {
				o.dropped()
			}
		}
	}
}

func (o *observers) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
