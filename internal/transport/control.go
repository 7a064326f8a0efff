package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Control operations.
const (
	OpJoin     = "join"
	OpLeave    = "leave"
	OpRejected = "rejected"
)

// ControlMessage is a join/leave request, its confirmation, or a notice
// that a submitted envelope was rejected.
type ControlMessage struct {
	Op          string           `json:"op"`
	Participant uuid.UUID        `json:"participant"`
	Channel     models.ChannelID `json:"channel"`
	OK          bool             `json:"ok,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func encodeControl(m ControlMessage) ([]byte, error) {
	return json.Marshal(m)
}

func decodeControl(b []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ControlMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	switch m.Op {
	case OpJoin, OpLeave, OpRejected:
	default:
		return ControlMessage{}, fmt.Errorf("decode control message: unknown op %q", m.Op)
	}
	if m.Participant == uuid.Nil {
		return ControlMessage{}, fmt.Errorf("decode control message: participant is required")
	}
	return m, nil
}
