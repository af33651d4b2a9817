package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

func TestWriteFrameLittleEndianLayout(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{ID: 0x0102, Payload: []byte{0xaa, 0xbb, 0xcc}}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	want := []byte{
		0x02, 0x01, 0, 0, 0, 0, 0, 0,
		0x03, 0, 0, 0,
		0xaa, 0xbb, 0xcc,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("unexpected wire bytes: %x", buf.Bytes())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	enc := NewEncoder(&buf, DefaultLimits())
	in := []Frame{
		{ID: 1, Payload: []byte{0x01, 0x02}},
		{ID: -7, Payload: []byte{}},
		{ID: 1 << 40, Payload: bytes.Repeat([]byte{0x5a}, 4096)},
	}
	for _, f := range in {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("encode id=%d: %v", f.ID, err)
		}
	}

	dec := NewDecoder(&buf, DefaultLimits())
	for _, want := range in {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode id=%d: %v", want.ID, err)
		}
		if got.ID != want.ID || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("frame mismatch: want id=%d len=%d got id=%d len=%d", want.ID, len(want.Payload), got.ID, len(got.Payload))
		}
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestEncoderFlushesEachFrame(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	enc := NewEncoder(&buf, DefaultLimits())
	if err := enc.Encode(Frame{ID: 9, Payload: []byte("x")}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != HeaderLen+1 {
		t.Fatalf("expected frame flushed to underlying writer, have %d bytes", buf.Len())
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	testlog.Start(t)

	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	testlog.Start(t)

	raw := EncodeHeader(Header{ID: 4, Length: 100})
	raw = append(raw, 1, 2, 3)
	_, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func TestReadFrameNegativeLength(t *testing.T) {
	testlog.Start(t)

	raw := EncodeHeader(Header{ID: 4, Length: -1})
	_, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if !errors.Is(err, ErrNegativeLength) {
		t.Fatalf("expected ErrNegativeLength, got %v", err)
	}
}

func TestLimitsRejectOversizedPayload(t *testing.T) {
	testlog.Start(t)

	limits := Limits{MaxPayloadBytes: 8}
	raw := EncodeHeader(Header{ID: 1, Length: 9})
	if _, err := ReadFrame(bytes.NewReader(raw), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
	if err := WriteFrame(io.Discard, Frame{ID: 1, Payload: make([]byte, 9)}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
}

func TestDecodeHeaderRejectsWrongSize(t *testing.T) {
	testlog.Start(t)

	if _, err := DecodeHeader(make([]byte, 5)); !errors.Is(err, ErrInvalidHeaderSize) {
		t.Fatalf("expected ErrInvalidHeaderSize, got %v", err)
	}
}
