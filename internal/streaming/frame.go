package streaming

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"unicode/utf8"
)

// Broker binary frame layout, little-endian, repeated until the buffer ends:
//
//	[8] message id  [2] reserved  [1] ref len N  [N] ref id
//	[1] payload format  [4] payload len L (int32)  [L] payload
const (
	messageIDSize  = 8
	reservedSize   = 2
	refLenSize     = 1
	formatSize     = 1
	payloadLenSize = 4
)

// Payload formats
const (
	FormatJSON byte = 0
)

var (
	ErrTruncated        = errors.New("frame truncated")
	ErrInvalidJSON      = errors.New("payload is not valid JSON")
	ErrInvalidReference = errors.New("reference id is not valid UTF-8")
	ErrNegativeLength   = errors.New("negative payload length")
)

// Message is one logical message decoded from an upstream frame.
// Payload is always valid JSON: the document itself for FormatJSON,
// a JSON string for every other format.
type Message struct {
	ID          uint64          `json:"message_id"`
	ReferenceID string          `json:"reference_id"`
	Format      byte            `json:"-"`
	Payload     json.RawMessage `json:"payload"`
}

// Envelope is the text form pushed to downstream subscribers.
func (m Message) Envelope() ([]byte, error) {
	return json.Marshal(m)
}

// Decode walks raw and yields every logical message in order. A message that
// cannot be decoded is yielded as an error and skipped; a length that reads
// past the end of raw yields ErrTruncated and ends the sequence.
func Decode(raw []byte) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		off := 0
		for off < len(raw) {
			msg, next, err := decodeOne(raw, off)
			if next < 0 {
				// cursor cannot advance, the rest of the buffer is lost
				yield(Message{}, err)
				return
			}
			off = next
			if !yield(msg, err) {
				return
			}
		}
	}
}

// DecodeAll collects Decode into slices.
func DecodeAll(raw []byte) ([]Message, []error) {
	var msgs []Message
	var errs []error
	for msg, err := range Decode(raw) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// decodeOne reads the message starting at off. next is the offset of the
// following message, or -1 when decoding of the buffer must stop.
func decodeOne(raw []byte, off int) (msg Message, next int, err error) {
	start := off
	need := func(n int) error {
		if n < 0 || len(raw)-off < n {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, off, len(raw)-off)
		}
		return nil
	}

	if err := need(messageIDSize + reservedSize + refLenSize); err != nil {
		return Message{}, -1, err
	}
	msg.ID = binary.LittleEndian.Uint64(raw[off:])
	off += messageIDSize + reservedSize

	refLen := int(raw[off])
	off += refLenSize
	if err := need(refLen); err != nil {
		return Message{}, -1, err
	}
	ref := raw[off : off+refLen]
	off += refLen

	if err := need(formatSize + payloadLenSize); err != nil {
		return Message{}, -1, err
	}
	msg.Format = raw[off]
	off += formatSize

	size := int32(binary.LittleEndian.Uint32(raw[off:]))
	off += payloadLenSize
	if size < 0 {
		return Message{}, -1, fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, size, off-payloadLenSize)
	}
	if err := need(int(size)); err != nil {
		return Message{}, -1, err
	}
	payload := raw[off : off+int(size)]
	off += int(size)

	// from here on the message is fully framed, so errors only drop it
	if !utf8.Valid(ref) {
		return Message{}, off, fmt.Errorf("%w: message %d at offset %d", ErrInvalidReference, msg.ID, start)
	}
	msg.ReferenceID = string(ref)

	if msg.Format == FormatJSON {
		if !utf8.Valid(payload) || !json.Valid(payload) {
			return Message{}, off, fmt.Errorf("%w: message %d ref %q", ErrInvalidJSON, msg.ID, msg.ReferenceID)
		}
		msg.Payload = append(json.RawMessage(nil), payload...)
		return msg, off, nil
	}

	text := string(payload)
	if !utf8.Valid(payload) {
		text = hex.EncodeToString(payload)
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return Message{}, off, fmt.Errorf("encode opaque payload: %w", err)
	}
	msg.Payload = encoded
	return msg, off, nil
}

// Encode produces the broker wire form of msg. For non-JSON formats a payload
// holding a JSON string is written as the raw string bytes.
func Encode(msg Message) ([]byte, error) {
	if len(msg.ReferenceID) > math.MaxUint8 {
		return nil, fmt.Errorf("reference id too long: %d bytes", len(msg.ReferenceID))
	}

	payload := []byte(msg.Payload)
	if msg.Format != FormatJSON {
		var text string
		if err := json.Unmarshal(msg.Payload, &text); err == nil {
			payload = []byte(text)
		}
	}
	if len(payload) > math.MaxInt32 {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, 0, messageIDSize+reservedSize+refLenSize+len(msg.ReferenceID)+formatSize+payloadLenSize+len(payload))
	buf = binary.LittleEndian.AppendUint64(buf, msg.ID)
	buf = append(buf, 0, 0)
	buf = append(buf, byte(len(msg.ReferenceID)))
	buf = append(buf, msg.ReferenceID...)
	buf = append(buf, msg.Format)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}
