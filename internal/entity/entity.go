// Package entity holds the timestamps shared by herald's stored records.
package entity

import "time"

// Entity is embedded by every persisted herald record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch moves UpdatedAt to now.
func (e *Entity) Touch() { e.UpdatedAt = time.Now().UTC() }
