package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
)

const (
	// HeaderSize - size of frame length prefix.
	HeaderSize = 4
	// DefaultMaxFrameSize - default limit of frame body length.
	DefaultMaxFrameSize = 64 * 1024
	// OutboundAllowance - extra body room of frames written by server.
	// Server restamps sender with its own identity and decorates replies,
	// so a frame accepted at the limit still fits when it is sent back.
	OutboundAllowance = 512
)

var errNotObject = errors.New("body is not a JSON object")

// OutboundLimit - returns body limit of server frames for inbound limit max.
// Non-positive max means DefaultMaxFrameSize.
func OutboundLimit(max int) int {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return max + OutboundAllowance
}

// Encode - serializes message into a complete frame.
// Non-positive max means DefaultMaxFrameSize.
func Encode(m Message, max int) ([]byte, error) {
	return AppendFrame(nil, m, max)
}

// AppendFrame - appends encoded frame of m to dst and returns extended slice.
func AppendFrame(dst []byte, m Message, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	body, err := marshal(m)
	if err != nil {
		return dst, err
	}
	if len(body) > max {
		return dst, &FramingError{Length: uint32(len(body)), Limit: max}
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// Decode - tries to decode first frame from buf.
// Returns the message and number of consumed bytes,
// ErrIncomplete if buf is a frame prefix only, or *FramingError.
func Decode(buf []byte, max int) (m Message, n int, err error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	if len(buf) < HeaderSize {
		return Message{}, 0, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(buf)
	if uint64(length) > uint64(max) {
		return Message{}, 0, &FramingError{Length: length, Limit: max}
	}
	end := HeaderSize + int(length)
	if len(buf) < end {
		return Message{}, 0, ErrIncomplete
	}
	m, err = parseBody(buf[HeaderSize:end])
	if err != nil {
		return Message{}, 0, &FramingError{Length: length, Limit: max, Err: err}
	}
	return m, end, nil
}

// marshal - JSON body without HTML escaping, so payload bytes are not inflated.
func marshal(m Message) ([]byte, error) {
	buf := bytes.Buffer{}
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func parseBody(body []byte) (Message, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, errNotObject
	}
	m := Message{}
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
