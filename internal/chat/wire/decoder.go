package wire

import "errors"

// Decoder - accumulates bytes read from a stream and cuts them into messages.
// It is not safe for concurrent use, every connection owns its own decoder.
type Decoder struct {
	max int
	buf []byte
	off int // read cursor, buf[:off] is already decoded
	err error
}

// NewDecoder - builds decoder with frame length limit (DefaultMaxFrameSize when max <= 0).
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &Decoder{max: max}
}

// Write - implements io.Writer, appends p to the accumulation buffer.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	d.compact()
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next - returns next complete message.
// ok is false when more bytes are needed. After a framing error
// the decoder is broken and returns the same error forever.
func (d *Decoder) Next() (m Message, ok bool, err error) {
	if d.err != nil {
		return Message{}, false, d.err
	}
	m, n, err := Decode(d.buf[d.off:], d.max)
	switch {
	case errors.Is(err, ErrIncomplete):
		return Message{}, false, nil
	case err != nil:
		d.err = err
		return Message{}, false, err
	}
	d.off += n
	if d.off == len(d.buf) {
		d.buf, d.off = d.buf[:0], 0
	}
	return m, true, nil
}

// Buffered - returns number of bytes waiting for the rest of frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// compact - moves pending tail to the buffer start when consumed prefix dominates.
func (d *Decoder) compact() {
	if d.off == 0 || d.off < len(d.buf)-d.off {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf, d.off = d.buf[:n], 0
}
