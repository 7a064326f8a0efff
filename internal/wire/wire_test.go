package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatmesh/internal/ids"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

func fullEnvelope() models.Envelope {
	return models.Envelope{
		ID:                ids.NewMessageID(),
		SenderID:          ids.NewParticipantID(),
		SenderDisplayName: strings.Repeat("n", models.MaxDisplayNameLength),
		Content:           strings.Repeat("x", models.MaxContentLength),
		Channel:           models.Proximity,
		Priority:          models.PriorityHigh,
		Timestamp:         time.Unix(1700000000, 123456789).UTC(),
		SenderPosition:    models.Vec3{X: -12.5, Y: 3.25, Z: 1e6},
		AreaID:            -42,
	}
}

func TestRoundTripFullEnvelope(t *testing.T) {
	want := fullEnvelope()

	b, err := Encode(want)
	require.NoError(t, err)
	assert.Len(t, b, EncodedSize(want))

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRoundTripMultibyteContent(t *testing.T) {
	want := fullEnvelope()
	want.SenderDisplayName = strings.Repeat("é", models.MaxDisplayNameLength)
	want.Content = strings.Repeat("日", models.MaxContentLength)

	b, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFieldOrderIsStable(t *testing.T) {
	e := fullEnvelope()
	b, err := Encode(e)
	require.NoError(t, err)

	assert.Equal(t, Version1, b[0])
	assert.Equal(t, e.ID[:], b[1:17])
	assert.Equal(t, e.SenderID[:], b[17:33])
	assert.Equal(t, byte(models.Proximity), b[33])
	assert.Equal(t, byte(models.PriorityHigh), b[34])
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	valid, err := Encode(fullEnvelope())
	require.NoError(t, err)

	badVersion := append([]byte{}, valid...)
	badVersion[0] = 9

	badUTF8 := append([]byte{}, valid...)
	badUTF8[len(badUTF8)-1] = 0xff

	tests := []struct {
		name  string
		input []byte
		err   error
	}{
		{"empty", nil, ErrTruncated},
		{"unknown version", badVersion, ErrUnsupportedVersion},
		{"short header", valid[:20], ErrTruncated},
		{"short body", valid[:len(valid)-1], ErrTruncated},
		{"trailing", append(append([]byte{}, valid...), 0), ErrTrailingBytes},
		{"invalid utf8", badUTF8, ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncodeRejectsOversizeFields(t *testing.T) {
	e := fullEnvelope()
	e.Content = strings.Repeat("x", MaxContentBytes+1)
	_, err := Encode(e)
	assert.ErrorIs(t, err, ErrFieldTooLarge)

	e = fullEnvelope()
	e.SenderDisplayName = strings.Repeat("x", MaxNameBytes+1)
	_, err = Encode(e)
	assert.ErrorIs(t, err, ErrFieldTooLarge)
}

func TestEncodeRejectsUnrepresentableTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
	}{
		{"zero", time.Time{}},
		{"far future", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fullEnvelope()
			e.Timestamp = tt.ts
			_, err := Encode(e)
			assert.ErrorIs(t, err, ErrFieldTooLarge)
		})
	}

	e := fullEnvelope()
	e.Timestamp = time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
}

func TestSubmissionFrame(t *testing.T) {
	claimed := ids.NewParticipantID()
	e := fullEnvelope()
	e.SenderID = uuid.Nil

	b, err := EncodeSubmission(claimed, e)
	require.NoError(t, err)

	gotClaimed, got, err := DecodeSubmission(b)
	require.NoError(t, err)
	assert.Equal(t, claimed, gotClaimed)
	assert.Equal(t, e, got)

	_, _, err = DecodeSubmission(b[:10])
	assert.ErrorIs(t, err, ErrTruncated)
}
