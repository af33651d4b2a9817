package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderLen is the fixed wire header: id (int64) followed by payload length (int32).
const HeaderLen = 12

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrNegativeLength    = errors.New("frame: negative payload length")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrTruncatedPayload  = errors.New("frame: truncated payload")
	ErrInvalidHeaderSize = errors.New("frame: invalid fixed header size")
)

// Header is the fixed wire header.
type Header struct {
	ID     int64
	Length int32
}

// Frame is one complete wire message.
type Frame struct {
	ID      int64
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
// A non-positive MaxPayloadBytes leaves only the int32 wire maximum in place;
// session configs treat 0 as unset and a negative value as uncapped.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) maxPayload() int {
	if l.MaxPayloadBytes <= 0 || l.MaxPayloadBytes > math.MaxInt32 {
		return math.MaxInt32
	}
	return l.MaxPayloadBytes
}

// ReadFrame reads one header and exactly Length payload bytes.
// A peer that closes cleanly between frames yields io.EOF.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Length < 0 {
		return Frame{}, fmt.Errorf("%w: %d", ErrNegativeLength, h.Length)
	}
	if int(h.Length) > limits.maxPayload() {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, limits.maxPayload())
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrTruncatedPayload
			}
			return Frame{}, err
		}
	}
	return Frame{ID: h.ID, Payload: payload}, nil
}

// WriteFrame writes the header followed by the payload. It does not flush.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if len(f.Payload) > limits.maxPayload() {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), limits.maxPayload())
	}
	hb := EncodeHeader(Header{ID: f.ID, Length: int32(len(f.Payload))})
	if _, err := w.Write(hb); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Length))
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidHeaderSize, len(b))
	}
	return Header{
		ID:     int64(binary.LittleEndian.Uint64(b[0:8])),
		Length: int32(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// Encoder writes frames to a buffered stream and flushes after every frame.
type Encoder struct {
	w      *bufio.Writer
	limits Limits
}

func NewEncoder(w io.Writer, limits Limits) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), limits: limits}
}

func (e *Encoder) Encode(f Frame) error {
	if err := WriteFrame(e.w, f, e.limits); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads frames from a buffered stream.
type Decoder struct {
	r      *bufio.Reader
	limits Limits
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{r: bufio.NewReader(r), limits: limits}
}

func (d *Decoder) Decode() (Frame, error) {
	return ReadFrame(d.r, d.limits)
}
