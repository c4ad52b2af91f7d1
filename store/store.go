// Package store defines the composite persistence interface herald runs on.
//
// Each subsystem declares the store it needs; Store is their union plus
// lifecycle methods. Backends live in the sub-packages.
package store

import (
	"context"
	"errors"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
)

// ErrClosed is returned by Ping after Close.
var ErrClosed = errors.New("store: closed")

// Store is everything herald persists.
type Store interface {
	catalog.Store
	endpoint.Store
	event.Store
	delivery.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Paginate applies offset and limit to an already filtered and sorted
// slice. A non-positive limit returns everything after offset.
func Paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
