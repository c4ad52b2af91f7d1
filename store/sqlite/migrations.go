package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the SQLite store.
var Migrations = migrate.NewGroup("herald")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_herald_event_types",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_event_types (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL UNIQUE,
    description   TEXT NOT NULL DEFAULT '',
    group_name    TEXT NOT NULL DEFAULT '',
    version       TEXT NOT NULL DEFAULT '',
    schema        TEXT NOT NULL DEFAULT '',
    example       TEXT NOT NULL DEFAULT '',
    is_deprecated INTEGER NOT NULL DEFAULT 0,
    deprecated_at TEXT,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_herald_event_types_group ON herald_event_types (group_name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_event_types`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_endpoints",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_endpoints (
    id                         TEXT PRIMARY KEY,
    tenant_id                  TEXT NOT NULL,
    url                        TEXT NOT NULL,
    description                TEXT NOT NULL DEFAULT '',
    secret                     TEXT NOT NULL,
    previous_secret            TEXT NOT NULL DEFAULT '',
    previous_secret_expires_at TEXT,
    event_types                TEXT NOT NULL DEFAULT '[]',
    headers                    TEXT NOT NULL DEFAULT '{}',
    enabled                    INTEGER NOT NULL DEFAULT 1,
    disabled_reason            TEXT NOT NULL DEFAULT '',
    consecutive_failures       INTEGER NOT NULL DEFAULT 0,
    max_attempts               INTEGER NOT NULL DEFAULT 0,
    rate_limit                 INTEGER NOT NULL DEFAULT 0,
    metadata                   TEXT NOT NULL DEFAULT '{}',
    created_at                 TEXT NOT NULL,
    updated_at                 TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_herald_endpoints_tenant ON herald_endpoints (tenant_id, enabled);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_endpoints`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_events",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_events (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    tenant_id       TEXT NOT NULL,
    data            BLOB NOT NULL,
    occurred_at     TEXT NOT NULL,
    idempotency_key TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_herald_events_tenant ON herald_events (tenant_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_events_idempotency
    ON herald_events (tenant_id, idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_deliveries",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_deliveries (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL REFERENCES herald_events (id),
    endpoint_id      TEXT NOT NULL REFERENCES herald_endpoints (id),
    state            TEXT NOT NULL DEFAULT 'pending',
    attempts         TEXT NOT NULL DEFAULT '[]',
    max_attempts     INTEGER NOT NULL,
    next_attempt_at  TEXT NOT NULL,
    claim_token      TEXT NOT NULL DEFAULT '',
    claimed_at       TEXT,
    replay_of        TEXT NOT NULL DEFAULT '',
    last_error       TEXT NOT NULL DEFAULT '',
    last_status_code INTEGER NOT NULL DEFAULT 0,
    completed_at     TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_herald_deliveries_due ON herald_deliveries (state, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_event ON herald_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_endpoint ON herald_deliveries (endpoint_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_deliveries`)
				return err
			},
		},
	)
}
