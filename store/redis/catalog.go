package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
)

type catalogModel struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	GroupName    string            `json:"group_name"`
	Version      string            `json:"version"`
	Schema       json.RawMessage   `json:"schema,omitempty"`
	Example      json.RawMessage   `json:"example,omitempty"`
	IsDeprecated bool              `json:"is_deprecated"`
	DeprecatedAt *time.Time        `json:"deprecated_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toCatalogModel(et *catalog.EventType) *catalogModel {
	return &catalogModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		GroupName:    et.Definition.Group,
		Version:      et.Definition.Version,
		Schema:       et.Definition.Schema,
		Example:      et.Definition.Example,
		IsDeprecated: et.Deprecated,
		DeprecatedAt: et.DeprecatedAt,
		Metadata:     et.Metadata,
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromCatalogModel(m *catalogModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     etID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Group:       m.GroupName,
			Version:     m.Version,
			Schema:      m.Schema,
			Example:     m.Example,
		},
		Deprecated:   m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	if err := s.setEntity(ctx, entityKey(prefixEventType, et.Name()), toCatalogModel(et)); err != nil {
		return fmt.Errorf("herald/redis: register type: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zEventTypeAll, goredis.Z{Score: 0, Member: et.Name()}).Err(); err != nil {
		return fmt.Errorf("herald/redis: index type: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m catalogModel
	if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
		if isNotFound(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get type: %w", err)
	}
	return fromCatalogModel(&m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	names, err := s.rdb.ZRange(ctx, zEventTypeAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list types: %w", err)
	}

	out := make([]*catalog.EventType, 0, len(names))
	for _, name := range names {
		et, err := s.GetType(ctx, name)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if et.Deprecated && !opts.IncludeDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		out = append(out, et)
	}
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	et, err := s.GetType(ctx, name)
	if err != nil {
		return err
	}
	t := now()
	if !et.Deprecated {
		et.Deprecated = true
		et.DeprecatedAt = &t
	}
	et.UpdatedAt = t
	if err := s.setEntity(ctx, entityKey(prefixEventType, name), toCatalogModel(et)); err != nil {
		return fmt.Errorf("herald/redis: deprecate type: %w", err)
	}
	return nil
}
