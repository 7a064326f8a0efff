package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/ids"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/presence"
)

// PutParticipantRequest sets a participant's presence.
type PutParticipantRequest struct {
	DisplayName string      `json:"display_name"`
	Position    models.Vec3 `json:"position"`
	AreaID      int64       `json:"area_id"`
}

// ParticipantResponse represents a participant in API responses.
type ParticipantResponse struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Position    models.Vec3 `json:"position"`
	AreaID      int64       `json:"area_id,omitempty"`
	UpdatedAt   string      `json:"updated_at"`
}

// RosterResponse lists connected participants.
type RosterResponse struct {
	Participants []string `json:"participants"`
	Total        int      `json:"total"`
}

func participantResponse(p presence.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:          p.ID.String(),
		DisplayName: p.DisplayName,
		Position:    p.Position,
		AreaID:      p.AreaID,
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) participantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := ids.ParseParticipantID(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid participant ID format")
		return uuid.Nil, false
	}
	return id, true
}

// PutParticipant registers or updates a participant's presence.
func (h *Handler) PutParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.participantID(w, r)
	if !ok {
		return
	}

	var req PutParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.DisplayName)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.AreaID < 0 {
		h.Error(w, http.StatusBadRequest, "area_id must not be negative")
		return
	}

	_, existed := h.registry.Get(id)
	if err := h.registry.Upsert(presence.Participant{
		ID:          id,
		DisplayName: name,
		Position:    req.Position,
		AreaID:      req.AreaID,
	}); err != nil {
		h.DomainError(w, err)
		return
	}

	p, _ := h.registry.Get(id)
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	h.JSON(w, status, participantResponse(p))
}

// GetParticipant returns one participant's presence.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.participantID(w, r)
	if !ok {
		return
	}

	p, found := h.registry.Get(id)
	if !found {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}
	h.JSON(w, http.StatusOK, participantResponse(p))
}

// DeleteParticipant removes a participant from the roster.
func (h *Handler) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.participantID(w, r)
	if !ok {
		return
	}

	if !h.registry.Remove(id) {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListParticipants returns the roster.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	roster := h.registry.Roster()
	out := make([]string, len(roster))
	for i, id := range roster {
		out[i] = id.String()
	}
	h.JSON(w, http.StatusOK, RosterResponse{Participants: out, Total: len(out)})
}
