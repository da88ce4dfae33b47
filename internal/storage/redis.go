package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"skillswap-backend/internal/sessions"
)

type RedisClient struct {
	client     *redis.Client
	sessionTTL time.Duration
}

func NewRedisClient(ctx context.Context, redisURL string, sessionTTL time.Duration) (*RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisClient{client: client, sessionTTL: sessionTTL}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Addr exposes the resolved server address, used to point the background
// task server at the same Redis instance.
func (r *RedisClient) Addr() string {
	return r.client.Options().Addr
}

// SessionCreated records the active pair under a TTL'd key so other
// surfaces can resolve session membership without hitting Postgres. The TTL
// bounds how long an abandoned session lingers.
func (r *RedisClient) SessionCreated(ctx context.Context, s *sessions.Session) error {
	key := fmt.Sprintf("session:%s", s.ID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_a":   s.ParticipantA,
		"user_b":   s.ParticipantB,
		"room_ref": s.RoomRef,
		"status":   string(s.Status),
	})
	pipe.Expire(ctx, key, r.sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PublishMatchFound fans the match event out on the user's channel.
func (r *RedisClient) PublishMatchFound(ctx context.Context, userID, sessionID, roomRef string) error {
	channel := fmt.Sprintf("user:%s:matches", userID)
	message := map[string]string{
		"type":       "match_found",
		"session_id": sessionID,
		"room_id":    roomRef,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisClient) SubscribeToUserEvents(ctx context.Context, userID string) *redis.PubSub {
	channel := fmt.Sprintf("user:%s:matches", userID)
	return r.client.Subscribe(ctx, channel)
}
