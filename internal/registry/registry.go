// Package registry holds the static set of tracked entities.
package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/validation"
)

// maxNameLength bounds display names and lookup input.
const maxNameLength = 64

// DefaultEntities is used when configuration lists no entities.
var DefaultEntities = []models.Entity{
	{ID: "los_baños", DisplayName: "Los Baños", Lat: 14.1763, Lon: 121.2219},
}

// Registry is an immutable list of entities with case-insensitive lookup by display name.
// Construct once at startup and pass it to the components that need it.
type Registry struct {
	entities []models.Entity
	byKey    map[string]int
}

// New validates entities and returns a Registry. Entities with an empty ID get their
// normalized key as ID. Duplicate normalized keys are rejected.
func New(entities []models.Entity) (*Registry, error) {
	r := &Registry{
		entities: make([]models.Entity, 0, len(entities)),
		byKey:    make(map[string]int, len(entities)),
	}
	for i, e := range entities {
		name, err := validation.ValidateEntityName(e.DisplayName, maxNameLength)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if err := validation.ValidateCoordinates(e.Lat, e.Lon); err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		key := NormalizeKey(name)
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("entity %q: duplicate key %q", name, key)
		}
		e.DisplayName = name
		if strings.TrimSpace(e.ID) == "" {
			e.ID = key
		}
		r.byKey[key] = len(r.entities)
		r.entities = append(r.entities, e)
	}
	return r, nil
}

// MustNew is New for fixtures and package-level defaults; it panics on invalid input.
func MustNew(entities []models.Entity) *Registry {
	r, err := New(entities)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns a copy of the entities in configured order.
func (r *Registry) List() []models.Entity {
	out := make([]models.Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

// Lookup returns the entity whose normalized key equals NormalizeKey(name), so display names
// match case-insensitively and a response key ("los_baños") works as a filter too.
func (r *Registry) Lookup(name string) (models.Entity, bool) {
	if len([]rune(name)) > maxNameLength*2 {
		return models.Entity{}, false
	}
	i, ok := r.byKey[NormalizeKey(name)]
	if !ok {
		return models.Entity{}, false
	}
	return r.entities[i], true
}

// Keys returns the normalized keys in configured order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.entities))
	for i, e := range r.entities {
		out[i] = NormalizeKey(e.DisplayName)
	}
	return out
}

// NormalizeKey lowercases s and replaces each whitespace run with a single underscore,
// after trimming. NormalizeKey(NormalizeKey(s)) == NormalizeKey(s).
func NormalizeKey(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace)
	return strings.Join(fields, "_")
}
