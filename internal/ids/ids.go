package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// entropy is shared by every message id in the process. Within one
// millisecond the monotonic reader increments the previous 80-bit random
// component, so concurrent callers never observe a duplicate.
var entropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// NewMessageID generates a time-ordered ULID.
func NewMessageID() ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewParticipantID generates a time-ordered UUID v7.
func NewParticipantID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ParseParticipantID parses a participant id and rejects the nil UUID.
func ParseParticipantID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errNilID
	}
	return id, nil
}
