// Package store holds the session-scoped, operator-mutable entity set.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"go.uber.org/zap"
)

// EntityStore owns the reconciled entity set for one document session.
// Mutations are validated and never partially applied. The store keeps
// the original document text so manual spans can be checked against it.
// A mutex guards against concurrent API calls on the same session; there
// is no cross-session sharing.
type EntityStore struct {
	mu       sync.Mutex
	document string
	entities []entity.Entity
	byID     map[string]int
	logger   *logger.Logger
}

// New seeds a store with already-reconciled, non-overlapping entities.
func New(document string, entities []entity.Entity, log *logger.Logger) *EntityStore {
	s := &EntityStore{
		document: document,
		entities: make([]entity.Entity, len(entities)),
		byID:     make(map[string]int, len(entities)),
		logger:   log,
	}
	copy(s.entities, entities)
	for i, e := range s.entities {
		s.byID[e.ID] = i
	}
	return s
}

// Document returns the original text the entity set refers to.
func (s *EntityStore) Document() string {
	return s.document
}

// Entities returns a snapshot of the current entity set in document order.
func (s *EntityStore) Entities() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]entity.Entity, len(s.entities))
	copy(snapshot, s.entities)
	for i := range snapshot {
		positions := make([]entity.Position, len(snapshot[i].Positions))
		copy(positions, snapshot[i].Positions)
		snapshot[i].Positions = positions
	}
	return snapshot
}

// Get returns the entity with the given id.
func (s *EntityStore) Get(id string) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	return s.entities[i], nil
}

// ToggleSelection flips whether the entity is applied in the next rewrite
// pass. Selection never changes geometry, so no span re-validation runs.
func (s *EntityStore) ToggleSelection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	s.entities[i].Selected = !s.entities[i].Selected
	return nil
}

// SetSelected sets the selection state explicitly.
func (s *EntityStore) SetSelected(id string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	s.entities[i].Selected = selected
	return nil
}

// UpdateReplacement changes the substitution string for one entity.
func (s *EntityStore) UpdateReplacement(id, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("empty replacement: %w", entity.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	s.entities[i].Replacement = value
	return nil
}

// Delete removes an entity entirely. Unknown ids are an error, applied
// consistently across the API.
func (s *EntityStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}

	s.entities = append(s.entities[:i], s.entities[i+1:]...)
	delete(s.byID, id)
	for j := i; j < len(s.entities); j++ {
		s.byID[s.entities[j].ID] = j
	}

	s.logger.Debug("Entity deleted", zap.String("entity_id", id))
	return nil
}

// Group sets one shared replacement on two or more entities. Grouping is
// not a distinct entity kind: entities sharing a replacement string are
// the group. Validation runs over all ids before anything is mutated.
func (s *EntityStore) Group(ids []string, sharedReplacement string) error {
	if len(ids) < 2 {
		return fmt.Errorf("grouping requires at least 2 entities, got %d: %w", len(ids), entity.ErrInvalidArgument)
	}
	if strings.TrimSpace(sharedReplacement) == "" {
		return fmt.Errorf("empty group replacement: %w", entity.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := s.byID[id]
		if !ok {
			return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
		}
		indices = append(indices, i)
	}

	for _, i := range indices {
		s.entities[i].Replacement = sharedReplacement
	}

	s.logger.Debug("Entities grouped",
		zap.Int("count", len(ids)),
		zap.String("replacement", sharedReplacement),
	)
	return nil
}

// AddManual inserts an operator-created entity. The span must be in
// range, must cover exactly the given text, and must not overlap any
// existing entity's positions.
func (s *EntityStore) AddManual(text string, typ entity.Type, replacement string, start, end int) (entity.Entity, error) {
	if !entity.KnownType(typ) {
		return entity.Entity{}, fmt.Errorf("unknown entity type %q: %w", typ, entity.ErrInvalidArgument)
	}
	if strings.TrimSpace(replacement) == "" {
		return entity.Entity{}, fmt.Errorf("empty replacement: %w", entity.ErrInvalidArgument)
	}

	span := entity.Position{Start: start, End: end}
	if !span.Valid(len(s.document)) {
		return entity.Entity{}, fmt.Errorf("span [%d,%d) out of range for document of length %d: %w",
			start, end, len(s.document), entity.ErrInvalidArgument)
	}
	if s.document[start:end] != text {
		return entity.Entity{}, fmt.Errorf("text does not match document at [%d,%d): %w",
			start, end, entity.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entities {
		for _, p := range e.Positions {
			if span.Overlaps(p) {
				return entity.Entity{}, fmt.Errorf("span [%d,%d) overlaps entity %s at [%d,%d): %w",
					start, end, e.ID, p.Start, p.End, entity.ErrSpanConflict)
			}
		}
	}

	manual := entity.Entity{
		ID:          entity.NewManualID(),
		Text:        text,
		Type:        typ,
		Source:      entity.SourceManual,
		Confidence:  1.0,
		Positions:   []entity.Position{span},
		Replacement: replacement,
		Selected:    true,
	}

	// Keep document order so listings stay stable for the operator.
	insert := sort.Search(len(s.entities), func(i int) bool {
		return s.entities[i].Positions[0].Start > start
	})
	s.entities = append(s.entities, entity.Entity{})
	copy(s.entities[insert+1:], s.entities[insert:])
	s.entities[insert] = manual
	for j := insert; j < len(s.entities); j++ {
		s.byID[s.entities[j].ID] = j
	}

	s.logger.Debug("Manual entity added",
		zap.String("entity_id", manual.ID),
		zap.String("type", string(typ)),
		zap.Int("start", start),
		zap.Int("end", end),
	)
	return manual, nil
}

// Len returns the number of entities currently in the store.
func (s *EntityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}
