package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func frame(body string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	return append(b, body...)
}

func TestEncode_Layout(test *testing.T) {
	m := Message{Sender: NewIdentity(7), Payload: "hello"}
	b, err := Encode(m, 0)
	if err != nil {
		test.Fatal("Encode(), unexpected error:", err)
	}
	length := binary.BigEndian.Uint32(b)
	if int(length) != len(b)-HeaderSize {
		test.Errorf("Length prefix %d does not match body size %d", length, len(b)-HeaderSize)
	}
	expected := `{"sender":{"id":7,"name":"User7"},"data":"hello"}`
	if body := string(b[HeaderSize:]); body != expected {
		test.Errorf("Unexpected body: %s", body)
	}
}

func TestEncode_TooLarge(test *testing.T) {
	_, err := Encode(Message{Payload: strings.Repeat("x", 100)}, 50)
	fe := &FramingError{}
	if !errors.As(err, &fe) {
		test.Fatal("Expected *FramingError, got:", err)
	}
	if fe.Limit != 50 {
		test.Error("Unexpected limit in error:", fe.Limit)
	}
}

func TestEncode_RestampedFrameAtLimit(test *testing.T) {
	const max = 200
	anonymous := `{"sender":{"id":0,"name":""},"data":""}`
	body := anonymous[:len(anonymous)-2] + strings.Repeat("<", max-len(anonymous)) + `"}`
	m, _, err := Decode(frame(body), max)
	if err != nil {
		test.Fatal("Decode() at limit, unexpected error:", err)
	}
	m.Sender = NewIdentity(math.MaxUint64)
	if _, err := Encode(m, max); err == nil {
		test.Error("restamped frame must not fit inbound limit")
	}
	out, err := Encode(m, OutboundLimit(max))
	if err != nil {
		test.Fatal("Encode() with outbound limit, unexpected error:", err)
	}
	if !bytes.Contains(out, []byte(m.Payload)) {
		test.Error("payload is escaped in outbound frame")
	}
	if OutboundLimit(0) != DefaultMaxFrameSize+OutboundAllowance {
		test.Error("unexpected default outbound limit", OutboundLimit(0))
	}
}

func TestDecode(test *testing.T) {
	valid := frame(`{"sender":{"id":3,"name":"User3"},"data":"hi"}`)
	cases := []struct {
		name     string
		buf      []byte
		max      int
		expected Message
		n        int
		framing  bool
		partial  bool
	}{
		{"empty", nil, 0, Message{}, 0, false, true},
		{"header prefix", valid[:2], 0, Message{}, 0, false, true},
		{"body prefix", valid[:len(valid)-1], 0, Message{}, 0, false, true},
		{"complete", valid, 0, Message{Sender: Identity{3, "User3"}, Payload: "hi"}, len(valid), false, false},
		{"trailing bytes", append(append([]byte{}, valid...), 0, 0), 0, Message{Sender: Identity{3, "User3"}, Payload: "hi"}, len(valid), false, false},
		{"over limit", valid, 10, Message{}, 0, true, false},
		{"over limit header only", valid[:HeaderSize], 10, Message{}, 0, true, false},
		{"not json", frame("hello"), 0, Message{}, 0, true, false},
		{"json string", frame(`"hello"`), 0, Message{}, 0, true, false},
		{"json null", frame(`null`), 0, Message{}, 0, true, false},
		{"zero length", frame(""), 0, Message{}, 0, true, false},
		{"wrong field type", frame(`{"sender":{"id":"x"}}`), 0, Message{}, 0, true, false},
	}
	for _, c := range cases {
		m, n, err := Decode(c.buf, c.max)
		switch {
		case c.partial:
			if !errors.Is(err, ErrIncomplete) {
				test.Errorf("%s: expected ErrIncomplete, got %v", c.name, err)
			}
		case c.framing:
			fe := &FramingError{}
			if !errors.As(err, &fe) {
				test.Errorf("%s: expected *FramingError, got %v", c.name, err)
			}
		default:
			if err != nil {
				test.Errorf("%s: unexpected error %v", c.name, err)
			}
			if !reflect.DeepEqual(m, c.expected) || n != c.n {
				test.Errorf("%s: expected %+v/%d, actual %+v/%d", c.name, c.expected, c.n, m, n)
			}
		}
	}
}

func TestDecoder_Chunking(test *testing.T) {
	messages := []Message{
		{Sender: NewIdentity(1), Payload: "first"},
		{Sender: NewIdentity(2), Payload: "!ping 1700000000000.5"},
		{Sender: Identity{ID: 3, Name: "Мир ⌘"}, Payload: "юникод \"quoted\"\n"},
		{Sender: NewIdentity(4), Payload: ""},
		{Sender: NewIdentity(5), Payload: strings.Repeat("long ", 500)},
	}
	stream := []byte{}
	for _, m := range messages {
		b, err := Encode(m, 0)
		if err != nil {
			test.Fatal("Encode(), unexpected error:", err)
		}
		stream = append(stream, b...)
	}

	for _, chunk := range []int{1, 2, 3, 5, 7, 64, 1000, len(stream)} {
		d := NewDecoder(0)
		decoded := []Message{}
		for r := bytes.NewReader(stream); r.Len() > 0; {
			p := make([]byte, chunk)
			n, _ := r.Read(p)
			d.Write(p[:n])
			for {
				m, ok, err := d.Next()
				if err != nil {
					test.Fatalf("chunk %d: unexpected error %v", chunk, err)
				}
				if !ok {
					break
				}
				decoded = append(decoded, m)
			}
		}
		if !reflect.DeepEqual(decoded, messages) {
			test.Errorf("chunk %d: decoded messages differ: %+v", chunk, decoded)
		}
		if d.Buffered() != 0 {
			test.Errorf("chunk %d: %d bytes left buffered", chunk, d.Buffered())
		}
	}
}

func TestDecoder_KeepsTrailingBytes(test *testing.T) {
	first, _ := Encode(Message{Payload: "a"}, 0)
	second, _ := Encode(Message{Payload: "b"}, 0)
	d := NewDecoder(0)
	d.Write(append(append([]byte{}, first...), second[:3]...))

	if m, ok, err := d.Next(); err != nil || !ok || m.Payload != "a" {
		test.Fatalf("Unexpected first Next(): %+v %v %v", m, ok, err)
	}
	if _, ok, err := d.Next(); err != nil || ok {
		test.Fatalf("Expected need-more-bytes, got ok=%v err=%v", ok, err)
	}
	if d.Buffered() != 3 {
		test.Error("Unexpected buffered size:", d.Buffered())
	}
	d.Write(second[3:])
	if m, ok, err := d.Next(); err != nil || !ok || m.Payload != "b" {
		test.Fatalf("Unexpected second Next(): %+v %v %v", m, ok, err)
	}
}

func TestDecoder_BrokenAfterFramingError(test *testing.T) {
	d := NewDecoder(8)
	d.Write(frame(`{"data":"more than eight bytes"}`))
	_, _, err := d.Next()
	fe := &FramingError{}
	if !errors.As(err, &fe) {
		test.Fatal("Expected *FramingError, got:", err)
	}
	if _, werr := d.Write([]byte{1}); werr != err {
		test.Error("Write() after failure returned unexpected error", werr)
	}
	if _, _, again := d.Next(); again != err {
		test.Error("Next() after failure must repeat the error, got:", again)
	}
}

func TestIdentity_Default(test *testing.T) {
	if id := NewIdentity(42); id.Name != "User42" || id.ID != 42 {
		test.Error("Unexpected default identity:", id)
	}
	if !(Message{Payload: "!x"}).IsCommand() || (Message{Payload: "x!"}).IsCommand() {
		test.Error("IsCommand() misdetects sigil")
	}
}
