// Package wire encodes envelopes into the versioned binary format shared by
// every process that exchanges chat traffic.
//
// Version 1 layout, big-endian, fields in this exact order:
//
//	version      u8   (1)
//	message id   16 bytes (ULID)
//	sender id    16 bytes (UUID, zero when unassigned)
//	channel      u8
//	priority     u8
//	timestamp    i64  unix nanoseconds, UTC (years 1678 to 2262)
//	position     3 x f64 (IEEE 754 bits)
//	area id      i64
//	name length  u16, followed by that many UTF-8 bytes
//	body length  u16, followed by that many UTF-8 bytes
//
// New fields are only ever appended under a new version byte.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

const (
	Version1 byte = 1

	// MaxContentBytes is the largest body the format accepts.
	MaxContentBytes = 4 * models.MaxContentLength
	// MaxNameBytes is the largest sender name the format accepts.
	MaxNameBytes = 4 * models.MaxDisplayNameLength

	fixedSize = 1 + 16 + 16 + 1 + 1 + 8 + 3*8 + 8
)

var (
	minTimestamp = time.Unix(0, math.MinInt64)
	maxTimestamp = time.Unix(0, math.MaxInt64)
)

var (
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrTruncated          = errors.New("wire: truncated input")
	ErrTrailingBytes      = errors.New("wire: trailing bytes")
	ErrFieldTooLarge      = errors.New("wire: field too large")
	ErrInvalidUTF8        = errors.New("wire: invalid utf-8")
)

// EncodedSize returns the number of bytes Encode will produce for e.
func EncodedSize(e models.Envelope) int {
	return fixedSize + 2 + len(e.SenderDisplayName) + 2 + len(e.Content)
}

// Encode serializes e in the version 1 format.
func Encode(e models.Envelope) ([]byte, error) {
	return AppendEnvelope(make([]byte, 0, EncodedSize(e)), e)
}

// AppendEnvelope appends the encoding of e to dst.
func AppendEnvelope(dst []byte, e models.Envelope) ([]byte, error) {
	if len(e.SenderDisplayName) > MaxNameBytes {
		return nil, fmt.Errorf("%w: sender name is %d bytes", ErrFieldTooLarge, len(e.SenderDisplayName))
	}
	if len(e.Content) > MaxContentBytes {
		return nil, fmt.Errorf("%w: content is %d bytes", ErrFieldTooLarge, len(e.Content))
	}
	if e.Timestamp.Before(minTimestamp) || e.Timestamp.After(maxTimestamp) {
		return nil, fmt.Errorf("%w: timestamp %s outside unix nanosecond range", ErrFieldTooLarge, e.Timestamp.Format(time.RFC3339))
	}

	dst = append(dst, Version1)
	dst = append(dst, e.ID[:]...)
	dst = append(dst, e.SenderID[:]...)
	dst = append(dst, byte(e.Channel), byte(e.Priority))
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.Timestamp.UnixNano()))
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(e.SenderPosition.X))
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(e.SenderPosition.Y))
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(e.SenderPosition.Z))
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.AreaID))
	dst = appendString(dst, e.SenderDisplayName)
	dst = appendString(dst, e.Content)
	return dst, nil
}

// Decode parses a complete version 1 envelope. The input must contain
// exactly one envelope.
func Decode(b []byte) (models.Envelope, error) {
	e, rest, err := ReadEnvelope(b)
	if err != nil {
		return models.Envelope{}, err
	}
	if len(rest) != 0 {
		return models.Envelope{}, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(rest))
	}
	return e, nil
}

// ReadEnvelope parses one envelope from the front of b and returns the
// remaining bytes.
func ReadEnvelope(b []byte) (models.Envelope, []byte, error) {
	var e models.Envelope
	if len(b) < 1 {
		return e, nil, ErrTruncated
	}
	if b[0] != Version1 {
		return e, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[0])
	}
	if len(b) < fixedSize {
		return e, nil, ErrTruncated
	}

	r := b[1:]
	copy(e.ID[:], r[:16])
	r = r[16:]
	copy(e.SenderID[:], r[:16])
	r = r[16:]
	e.Channel = models.ChannelID(r[0])
	e.Priority = models.Priority(r[1])
	r = r[2:]
	e.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(r))).UTC()
	r = r[8:]
	e.SenderPosition.X = math.Float64frombits(binary.BigEndian.Uint64(r))
	e.SenderPosition.Y = math.Float64frombits(binary.BigEndian.Uint64(r[8:]))
	e.SenderPosition.Z = math.Float64frombits(binary.BigEndian.Uint64(r[16:]))
	r = r[24:]
	e.AreaID = int64(binary.BigEndian.Uint64(r))
	r = r[8:]

	var err error
	if e.SenderDisplayName, r, err = readString(r, MaxNameBytes); err != nil {
		return models.Envelope{}, nil, err
	}
	if e.Content, r, err = readString(r, MaxContentBytes); err != nil {
		return models.Envelope{}, nil, err
	}
	return e, r, nil
}

// EncodeSubmission frames an envelope submitted by a participant whose
// identity is asserted by the transport, not by the envelope.
func EncodeSubmission(claimed uuid.UUID, e models.Envelope) ([]byte, error) {
	dst := make([]byte, 0, 16+EncodedSize(e))
	dst = append(dst, claimed[:]...)
	return AppendEnvelope(dst, e)
}

// DecodeSubmission reverses EncodeSubmission.
func DecodeSubmission(b []byte) (uuid.UUID, models.Envelope, error) {
	if len(b) < 16 {
		return uuid.Nil, models.Envelope{}, ErrTruncated
	}
	var claimed uuid.UUID
	copy(claimed[:], b[:16])
	e, err := Decode(b[16:])
	return claimed, e, err
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func readString(b []byte, limit int) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if n > limit {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrFieldTooLarge, n)
	}
	if len(b) < n {
		return "", nil, ErrTruncated
	}
	if !utf8.Valid(b[:n]) {
		return "", nil, ErrInvalidUTF8
	}
	return string(b[:n]), b[n:], nil
}
