package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMessageKeepAliveMarshalUnmarshal(t *testing.T) {
	var m *Message
	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary keep-alive error: %v", err)
	}
	if want := []byte{0, 0, 0, 0}; !bytes.Equal(b, want) {
		t.Fatalf("keep-alive encoded = %v, want %v", b, want)
	}

	var dec Message
	if err := (&dec).UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary keep-alive: %v", err)
	}
	if dec.ID != 0 || dec.Payload != nil {
		t.Fatalf("decoded keep-alive unexpected: %+v", dec)
	}
}

func TestMessageConstructorsAndParsers(t *testing.T) {
	m := MessageHave(42)
	if idx, ok := m.ParseHave(); !ok || idx != 42 {
		t.Fatalf("ParseHave = (%d,%v), want (42,true)", idx, ok)
	}

	m = MessageRequest(7, 16, 16384)
	i, b, l, ok := m.ParseRequest()
	if !ok || i != 7 || b != 16 || l != 16384 {
		t.Fatalf("ParseRequest got (%d,%d,%d,%v)", i, b, l, ok)
	}

	block := []byte("data block")
	m = MessagePiece(3, 32, block)
	pi, pb, blk, ok := m.ParsePiece()
	if !ok || pi != 3 || pb != 32 || !bytes.Equal(blk, block) {
		t.Fatalf("ParsePiece mismatch")
	}

	m = MessagePort(6881)
	if m.ID != Port || len(m.Payload) != 4 {
		t.Fatalf("MessagePort malformed: %+v", m)
	}

	bits := []byte{0xAA, 0x55}
	m = MessageBitfield(bits)
	bits[0] ^= 0xFF
	if len(m.Payload) != 2 || m.Payload[0] != 0xAA || m.Payload[1] != 0x55 {
		t.Fatalf("MessageBitfield did not copy input: %v", m.Payload)
	}
}

func TestWireRoundTripHave(t *testing.T) {
	// 00 00 00 05 04 00 00 00 02 (length 5, id 4, piece index 2) decodes to
	// Have{piece:2}, and encoding Have{piece:2} yields those bytes.
	raw := []byte{0x00, 0x00, 0x00, 0x05, 0x04, 0x00, 0x00, 0x00, 0x02}

	m, err := ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	idx, ok := m.ParseHave()
	if !ok || idx != 2 {
		t.Fatalf("ParseHave = (%d,%v), want (2,true)", idx, ok)
	}

	enc, err := MessageHave(2).MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(enc, raw) {
		t.Fatalf("MarshalBinary(Have{2}) = %v, want %v", enc, raw)
	}
}

func TestValidatePayloadSizeErrors(t *testing.T) {
	tests := []Message{
		{ID: Choke, Payload: []byte{1}},
		{ID: Have, Payload: []byte{}},
		{ID: Request, Payload: []byte("too short")},
		{ID: Cancel, Payload: []byte{1, 2, 3}},
		{ID: Piece, Payload: []byte{0, 1, 2, 3, 4, 5, 6}},
		{ID: Port, Payload: []byte{1, 2}},
	}
	for _, m := range tests {
		if err := (&m).ValidatePayloadSize(); !errors.Is(err, ErrBadPayloadSize) {
			t.Fatalf("want ErrBadPayloadSize for %+v, got %v", m, err)
		}
	}
}

func TestValidatePayloadSizeUnknownID(t *testing.T) {
	m := Message{ID: 200}
	if err := (&m).ValidatePayloadSize(); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("want ErrUnknownMessage, got %v", err)
	}
}

func TestMessageWriteReadRoundTrip(t *testing.T) {
	src := MessagePiece(9, 1024, []byte("hello"))

	var buf bytes.Buffer
	if _, err := src.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}

	var dst Message
	if _, err := (&dst).ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ReadFrom error: %v", err)
	}
	if dst.ID != src.ID || !bytes.Equal(dst.Payload, src.Payload) {
		t.Fatalf("round-trip mismatch: %+v vs %+v", dst, src)
	}
}

func TestReadMessageKeepAliveNormalization(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 0})
	m, err := ReadMessage(r)
	if err != nil {
		t.Fatalf("ReadMessage error: %v", err)
	}
	if m != nil {
		t.Fatalf("want nil for keep-alive, got %+v", m)
	}
}

func TestMessageReadFromTruncated(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 5)

	r := bytes.NewReader(append(hdr[:], []byte{byte(Have), 0x00, 0x00}...))
	var m Message
	if _, err := (&m).ReadFrom(r); err == nil {
		t.Fatalf("expected error for truncated message, got nil")
	}
}

func TestMessageReadFromRejectsUnknownID(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 1)
	r := bytes.NewReader(append(hdr[:], byte(200)))

	var m Message
	if _, err := (&m).ReadFrom(r); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("want ErrUnknownMessage, got %v", err)
	}
}
