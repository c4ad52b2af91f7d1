package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald/catalog"
)

// RegisterType upserts by name. The ID, creation time and deprecation
// flag of an existing type are left alone.
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)

	_, err := s.mdb.NewUpdate((*eventTypeModel)(nil)).
		Filter(bson.M{"name": m.Name}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"description": m.Description,
				"group_name":  m.GroupName,
				"version":     m.Version,
				"schema":      m.Schema,
				"example":     m.Example,
				"metadata":    m.Metadata,
				"updated_at":  m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":           m.ID,
				"is_deprecated": m.IsDeprecated,
				"created_at":    m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: register type: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m eventTypeModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"name": name}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get type: %w", err)
	}
	return fromEventTypeModel(&m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel

	filter := bson.M{}
	if !opts.IncludeDeprecated {
		filter["is_deprecated"] = false
	}
	if opts.Group != "" {
		filter["group_name"] = opts.Group
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list types: %w", err)
	}

	out := make([]*catalog.EventType, 0, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	t := now()
	res, err := s.mdb.NewUpdate((*eventTypeModel)(nil)).
		Filter(bson.M{"name": name}).
		Set("is_deprecated", true).
		Set("deprecated_at", t).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: deprecate type: %w", err)
	}
	if res.MatchedCount() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
