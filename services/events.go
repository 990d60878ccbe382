package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/models"

	goredis "github.com/redis/go-redis/v9"
)

// ChallengeEvent is published after a sighting moves a challenge section.
type ChallengeEvent struct {
	UserID     string               `json:"user_id"`
	Kind       models.ChallengeKind `json:"kind"`
	AnimalName string               `json:"animal_name"`
	Completed  bool                 `json:"completed"`
	XPAwarded  int64                `json:"xp_awarded"`
	At         time.Time            `json:"at"`
}

// ChallengeEventPublisher fans challenge transitions out to other services.
type ChallengeEventPublisher interface {
	Publish(ctx context.Context, ev ChallengeEvent) error
	Close() error
}

type noopPublisher struct{}

// NewNoopPublisher drops every event.
func NewNoopPublisher() ChallengeEventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, ChallengeEvent) error { return nil }
func (noopPublisher) Close() error                                  { return nil }

// RedisPublisher publishes events as JSON on a redis pub/sub channel.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
	log     *logger.Logger
}

func NewRedisPublisher(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "wildlife.challenges"
	}
	if log == nil {
		log = logger.Nop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{rdb: rdb, channel: channel, log: log.With("service", "RedisPublisher")}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ChallengeEvent) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
