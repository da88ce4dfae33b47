package storage

import (
	"context"
	"time"
)

// Storage bundles the external collaborators: Postgres for profiles, rooms,
// sessions and feedback; Redis for session markers and pub/sub fan-out.
type Storage struct {
	DB    *PostgresDB
	Redis *RedisClient
}

type Options struct {
	Postgres   PostgresOptions
	SessionTTL time.Duration
}

func NewStorage(ctx context.Context, databaseURL, redisURL string, opts Options) (*Storage, error) {
	db, err := NewPostgresDB(ctx, databaseURL, opts.Postgres)
	if err != nil {
		return nil, err
	}

	redisClient, err := NewRedisClient(ctx, redisURL, opts.SessionTTL)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{DB: db, Redis: redisClient}, nil
}

func (s *Storage) Close() error {
	s.DB.Close()
	return s.Redis.Close()
}
