// Package wire implements the chat protocol framing: every message travels
// as a 4-byte big-endian length prefix followed by a JSON document body.
package wire

import (
	"strconv"
	"strings"
)

// CommandSigil - first byte of a payload which must be interpreted as a command.
const CommandSigil = '!'

// Identity - identifies message author.
type Identity struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// NewIdentity - builds identity with default name derived from id.
func NewIdentity(id uint64) Identity {
	return Identity{ID: id, Name: "User" + strconv.FormatUint(id, 10)}
}

func (i Identity) String() string {
	return i.Name
}

// Message - a single logical message of the protocol.
type Message struct {
	Sender  Identity `json:"sender"`
	Payload string   `json:"data"`
}

// IsCommand - reports whether the payload starts with command sigil.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(m.Payload, string(CommandSigil))
}
