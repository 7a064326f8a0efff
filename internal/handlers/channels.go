package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// ChannelInfo represents a channel in API responses.
type ChannelInfo struct {
	ID                   models.ChannelID `json:"id"`
	Name                 string           `json:"name"`
	Prefix               string           `json:"prefix"`
	Enabled              bool             `json:"enabled"`
	RequiresOptIn        bool             `json:"requires_opt_in"`
	ProximityRange       models.Radius    `json:"proximity_range"`
	MaxMessageLength     int              `json:"max_message_length"`
	CooldownSeconds      float64          `json:"cooldown_seconds"`
	MaxMessagesPerMinute int              `json:"max_messages_per_minute"`
	Unthrottled          bool             `json:"unthrottled,omitempty"`
}

// ChannelListResponse represents the channels list response.
type ChannelListResponse struct {
	Channels []ChannelInfo `json:"channels"`
	Total    int           `json:"total"`
}

func channelInfo(cfg models.ChannelConfig) ChannelInfo {
	return ChannelInfo{
		ID:                   cfg.ID,
		Name:                 cfg.Name,
		Prefix:               cfg.Prefix,
		Enabled:              cfg.Enabled,
		RequiresOptIn:        cfg.RequiresOptIn,
		ProximityRange:       cfg.ProximityRange,
		MaxMessageLength:     cfg.MaxMessageLength,
		CooldownSeconds:      cfg.MessageCooldown.Seconds(),
		MaxMessagesPerMinute: cfg.MaxMessagesPerMinute,
		Unthrottled:          cfg.Unthrottled,
	}
}

// ListChannels lists the channels participants may subscribe to. With
// ?all=true every registered channel is listed.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	configs := h.catalog.Subscribable()
	if r.URL.Query().Get("all") == "true" {
		configs = h.catalog.All()
	}

	channels := make([]ChannelInfo, len(configs))
	for i, cfg := range configs {
		channels[i] = channelInfo(cfg)
	}

	h.JSON(w, http.StatusOK, ChannelListResponse{
		Channels: channels,
		Total:    len(channels),
	})
}

// GetChannel returns one registered channel by name.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseChannelID(chi.URLParam(r, "name"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "channel not found")
		return
	}

	cfg, err := h.catalog.Get(id)
	if err != nil {
		h.Error(w, http.StatusNotFound, "channel not found")
		return
	}

	h.JSON(w, http.StatusOK, channelInfo(cfg))
}
