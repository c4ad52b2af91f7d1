// Package catalog holds the registry of webhook event types and validates
// submitted payloads against their optional JSON Schemas.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Catalog is a read-through cache in front of a Store.
type Catalog struct {
	store     Store
	validator *Validator
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	et       *EventType
	loadedAt time.Time
}

// New returns a Catalog. A zero ttl caches entries until they are
// invalidated.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:     store,
		validator: NewValidator(),
		ttl:       ttl,
		logger:    logger,
		cache:     make(map[string]cached),
	}
}

// Register adds def to the catalog, or updates the definition of a live
// type with the same name.
func (c *Catalog) Register(ctx context.Context, def Definition, metadata map[string]string) (*EventType, error) {
	if !namePattern.MatchString(def.Name) {
		return nil, fmt.Errorf("%w: name %q: want <resource>.<action>", ErrInvalidDefinition, def.Name)
	}
	if len(def.Schema) > 0 {
		if err := c.validator.Check(def.Schema); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	}

	et := &EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: def,
		Metadata:   metadata,
	}

	existing, err := c.store.GetType(ctx, def.Name)
	switch {
	case err == nil && existing.Deprecated:
		return nil, fmt.Errorf("%w: %s", ErrDeprecated, def.Name)
	case err == nil:
		et.ID = existing.ID
		et.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if err := c.store.RegisterType(ctx, et); err != nil {
		return nil, err
	}
	c.put(et)

	c.logger.DebugContext(ctx, "event type registered",
		slog.String("event_type", def.Name),
		slog.String("version", def.Version),
	)
	return et, nil
}

// Get returns the named type, deprecated or not.
func (c *Catalog) Get(ctx context.Context, name string) (*EventType, error) {
	c.mu.RLock()
	entry, ok := c.cache[name]
	c.mu.RUnlock()
	if ok && (c.ttl == 0 || time.Since(entry.loadedAt) < c.ttl) {
		return entry.et, nil
	}

	et, err := c.store.GetType(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(et)
	return et, nil
}

// Lookup returns the named type if it may receive new events.
func (c *Catalog) Lookup(ctx context.Context, name string) (*EventType, error) {
	et, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if et.Deprecated {
		return nil, fmt.Errorf("%w: %s", ErrDeprecated, name)
	}
	return et, nil
}

// ValidatePayload checks data against the type's schema, if it has one.
func (c *Catalog) ValidatePayload(et *EventType, data json.RawMessage) error {
	if len(et.Definition.Schema) == 0 {
		return nil
	}
	return c.validator.Validate(et.Definition.Schema, data)
}

// List returns registered types.
func (c *Catalog) List(ctx context.Context, opts ListOpts) ([]*EventType, error) {
	return c.store.ListTypes(ctx, opts)
}

// Deprecate soft-deletes the named type.
func (c *Catalog) Deprecate(ctx context.Context, name string) error {
	if err := c.store.DeleteType(ctx, name); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
	return nil
}

// WarmCache loads every live type into the cache.
func (c *Catalog) WarmCache(ctx context.Context) error {
	types, err := c.store.ListTypes(ctx, ListOpts{})
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cached, len(types))
	for _, et := range types {
		c.cache[et.Name()] = cached{et: et, loadedAt: now}
	}
	return nil
}

func (c *Catalog) put(et *EventType) {
	c.mu.Lock()
	c.cache[et.Name()] = cached{et: et, loadedAt: time.Now()}
	c.mu.Unlock()
}
