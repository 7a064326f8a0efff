package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/dispatch"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/presence"
)

// Dispatcher accepts envelopes submitted over HTTP.
type Dispatcher interface {
	Dispatch(ctx context.Context, claimed uuid.UUID, env models.Envelope) (dispatch.Receipt, error)
}

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	catalog    *catalog.Catalog
	dispatcher Dispatcher
	registry   *presence.Registry
	redis      Pinger
	logger     zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil when the server runs
// without Redis.
func NewHandler(cat *catalog.Catalog, dispatcher Dispatcher, registry *presence.Registry, redis Pinger, logger zerolog.Logger) *Handler {
	return &Handler{
		catalog:    cat,
		dispatcher: dispatcher,
		registry:   registry,
		redis:      redis,
		logger:     logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DomainError maps the error taxonomy to an HTTP status.
func (h *Handler) DomainError(w http.ResponseWriter, err error) {
	var rle *models.RateLimitError
	switch {
	case errors.As(err, &rle):
		secs := int(rle.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, models.ErrValidationFailed):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrNotSubscribed):
		h.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrRoutingUnavailable), errors.Is(err, models.ErrNotReady):
		h.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, models.ErrDeliveryFailed):
		h.Error(w, http.StatusBadGateway, "delivery failed")
	default:
		h.logger.Error().Err(err).Msg("unclassified error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeName trims and limits name to the display name bound, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > models.MaxDisplayNameLength {
		name = string(runes[:models.MaxDisplayNameLength])
	}

	return name
}
