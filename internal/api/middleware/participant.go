package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/ids"
)

type contextKey string

const participantContextKey contextKey = "participant"

// ParticipantHeader carries the submitting participant's id. The HTTP
// surface trusts it the way the pub/sub transport trusts its frame prefix.
const ParticipantHeader = "X-Chat-Participant"

// RequireParticipant rejects requests without a valid participant header
// and stores the parsed id in the request context.
func RequireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ParticipantHeader)
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "missing "+ParticipantHeader+" header")
			return
		}
		id, err := ids.ParseParticipantID(raw)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid participant ID format")
			return
		}
		ctx := context.WithValue(r.Context(), participantContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetParticipantFromContext returns the participant stored by
// RequireParticipant, or uuid.Nil.
func GetParticipantFromContext(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(participantContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
