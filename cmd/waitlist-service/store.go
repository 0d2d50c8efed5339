package main

import (
	"context"
	"fmt"
	"log"

	"waitlist/queue-service/internal/config"
	"waitlist/queue-service/internal/store"
	"waitlist/queue-service/internal/store/postgres"
	"waitlist/queue-service/internal/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := st.InitSchema(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		if err := applyBootstrap(ctx, st, cfg.Bootstrap); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		log.Printf("sqlite store ready path=%s", cfg.DatabaseURL)
		return st, func() { _ = st.Close() }, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		if len(cfg.Bootstrap.Queues) > 0 || len(cfg.Bootstrap.Sessions) > 0 {
			log.Printf("bootstrap section ignored driver=%s", cfg.DBDriver)
		}
		return postgres.NewStore(pool), pool.Close, nil
	}
}
