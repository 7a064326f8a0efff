// Package presence is the in-process authority for who is connected and
// where they are. It answers the identity, position and area queries the
// router and participant managers make on every call.
package presence

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Participant is the live state of one connected participant. An AreaID
// of zero means the participant is not in any known area.
type Participant struct {
	ID          uuid.UUID   `json:"id"`
	DisplayName string      `json:"display_name"`
	Position    models.Vec3 `json:"position"`
	AreaID      int64       `json:"area_id"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Registry is a concurrency-safe participant table.
type Registry struct {
	mu           sync.RWMutex
	participants map[uuid.UUID]Participant
	now          func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[uuid.UUID]Participant),
		now:          time.Now,
	}
}

// Upsert records p, replacing any previous state for p.ID.
func (r *Registry) Upsert(p Participant) error {
	if p.ID == uuid.Nil {
		return fmt.Errorf("%w: participant id is required", models.ErrValidationFailed)
	}
	p.UpdatedAt = r.now().UTC()

	r.mu.Lock()
	r.participants[p.ID] = p
	r.mu.Unlock()
	return nil
}

// Move updates only the position and area of a known participant.
func (r *Registry) Move(id uuid.UUID, pos models.Vec3, areaID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return fmt.Errorf("%w: participant %s", models.ErrNotFound, id)
	}
	p.Position = pos
	p.AreaID = areaID
	p.UpdatedAt = r.now().UTC()
	r.participants[id] = p
	return nil
}

// Remove drops a participant. It reports whether one was present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.participants[id]
	delete(r.participants, id)
	return ok
}

// Get returns the state of one participant.
func (r *Registry) Get(id uuid.UUID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	return p, ok
}

// Roster returns every connected participant id in a stable order.
func (r *Registry) Roster() []uuid.UUID {
	r.mu.RLock()
	out := make([]uuid.UUID, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Len returns the number of connected participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Position returns the current position of id.
func (r *Registry) Position(_ context.Context, id uuid.UUID) (models.Vec3, error) {
	p, ok := r.Get(id)
	if !ok {
		return models.Vec3{}, fmt.Errorf("%w: participant %s", models.ErrNotFound, id)
	}
	return p.Position, nil
}

// Area returns the current area of id, or ErrNotFound when the participant
// is unknown or not in an area.
func (r *Registry) Area(_ context.Context, id uuid.UUID) (int64, error) {
	p, ok := r.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: participant %s", models.ErrNotFound, id)
	}
	if p.AreaID == 0 {
		return 0, fmt.Errorf("%w: participant %s has no area", models.ErrNotFound, id)
	}
	return p.AreaID, nil
}

// DisplayName returns the current display name of id.
func (r *Registry) DisplayName(_ context.Context, id uuid.UUID) (string, error) {
	p, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: participant %s", models.ErrNotFound, id)
	}
	return p.DisplayName, nil
}
