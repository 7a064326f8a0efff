package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eldtechnologies/chatmesh/internal/api/middleware"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// PostMessageRequest represents the post message request. Display name,
// position and area default to the sender's presence record.
type PostMessageRequest struct {
	Channel     models.ChannelID `json:"channel"`
	Content     string           `json:"content"`
	DisplayName string           `json:"display_name,omitempty"`
	Priority    string           `json:"priority,omitempty"`
	Position    *models.Vec3     `json:"position,omitempty"`
	AreaID      *int64           `json:"area_id,omitempty"`
}

// PostMessageResponse represents the post message response.
type PostMessageResponse struct {
	ID         string   `json:"id"`
	Channel    string   `json:"channel"`
	Timestamp  int64    `json:"ts"`
	Recipients int      `json:"recipients"`
	Suspicious []string `json:"suspicious,omitempty"`
}

var priorities = map[string]models.Priority{
	"low":    models.PriorityLow,
	"normal": models.PriorityNormal,
	"high":   models.PriorityHigh,
}

// PostMessage submits an envelope on behalf of the participant named by the
// participant header.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sender := middleware.GetParticipantFromContext(r.Context())

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var opts []models.EnvelopeOption
	if req.Priority != "" {
		p, ok := priorities[strings.ToLower(req.Priority)]
		if !ok {
			h.Error(w, http.StatusBadRequest, "priority must be low, normal or high")
			return
		}
		opts = append(opts, models.WithPriority(p))
	}

	name := sanitizeName(req.DisplayName)
	if p, ok := h.registry.Get(sender); ok {
		if name == "" {
			name = p.DisplayName
		}
		if req.Position == nil {
			opts = append(opts, models.WithPosition(p.Position))
		}
		if req.AreaID == nil {
			opts = append(opts, models.WithArea(p.AreaID))
		}
	}
	if req.Position != nil {
		opts = append(opts, models.WithPosition(*req.Position))
	}
	if req.AreaID != nil {
		opts = append(opts, models.WithArea(*req.AreaID))
	}

	env := models.NewEnvelope(req.Channel, name, req.Content, opts...)
	receipt, err := h.dispatcher.Dispatch(r.Context(), sender, env)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, PostMessageResponse{
		ID:         receipt.Envelope.ID.String(),
		Channel:    receipt.Envelope.Channel.String(),
		Timestamp:  receipt.Envelope.Timestamp.UnixMilli(),
		Recipients: len(receipt.Recipients),
		Suspicious: receipt.Suspicious,
	})
}
