package handlers

import (
	"net/http"
)

// ReloadResponse reports the catalog after a reload.
type ReloadResponse struct {
	Channels int    `json:"channels"`
	Status   string `json:"status"`
}

// ReloadCatalog re-reads the channel catalog from its source. A failed
// reload leaves the previous catalog in place.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Reload(r.Context()); err != nil {
		h.logger.Warn().Err(err).Str("event", "catalog_reload_failed").Msg("catalog reload rejected")
		h.JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"channels": h.catalog.Len(),
		})
		return
	}

	h.logger.Info().Int("channels", h.catalog.Len()).Msg("catalog reloaded")
	h.JSON(w, http.StatusOK, ReloadResponse{Channels: h.catalog.Len(), Status: "reloaded"})
}

// ChannelStats is one row of the stats response.
type ChannelStats struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Listed  bool   `json:"listed"`
}

// StatsResponse summarizes the running authority.
type StatsResponse struct {
	Participants int            `json:"participants"`
	Channels     []ChannelStats `json:"channels"`
}

// Stats returns roster size and the registered channels.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	configs := h.catalog.All()
	channels := make([]ChannelStats, len(configs))
	for i, cfg := range configs {
		channels[i] = ChannelStats{Name: cfg.ID.String(), Enabled: cfg.Enabled, Listed: cfg.Listed}
	}
	h.JSON(w, http.StatusOK, StatsResponse{
		Participants: h.registry.Len(),
		Channels:     channels,
	})
}
