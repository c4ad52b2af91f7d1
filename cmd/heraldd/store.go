package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/internal/config"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/store/mongo"
	"github.com/xraph/herald/store/postgres"
	heraldredis "github.com/xraph/herald/store/redis"
	"github.com/xraph/herald/store/sqlite"
)

const connectTimeout = 10 * time.Second

// openStore connects the configured backend, checks it answers and
// brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	st, err := dial(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Store.Driver, err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}
	return st, nil
}

func dial(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return heraldredis.NewWithClient(rdb), nil
	case "postgres":
		return opened(postgres.Open(ctx, cfg.Postgres.DSN))
	case "sqlite":
		return opened(sqlite.Open(ctx, cfg.SQLite.DSN))
	case "mongo":
		return opened(mongo.Open(ctx, cfg.Mongo.DSN))
	default:
		return memory.New(), nil
	}
}

// opened keeps a failed Open from returning a typed nil store.
func opened[S store.Store](st S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return st, nil
}
