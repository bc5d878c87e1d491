package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/workshop/pkg/configuration"
)

func resolveDSN(flag string) (string, error) {
	if dsn := strings.TrimSpace(flag); dsn != "" {
		return dsn, nil
	}
	if _, err := configuration.LoadEnv([]string{".env", ".env.local"}); err != nil {
		return "", fmt.Errorf("load env: %w", err)
	}
	var db configuration.DatabaseOptions
	if err := env.Parse(&db); err != nil {
		return "", fmt.Errorf("parse db env: %w", err)
	}
	return db.ConnectionString(), nil
}

func connectDB(ctx context.Context, flag string) (*pgxpool.Pool, error) {
	dsn, err := resolveDSN(flag)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, fmt.Errorf("db ping failed: %w", err))
	}
	return pool, nil
}
