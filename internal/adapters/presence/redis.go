// Package presence backs the presence tracker with Redis sets so online
// state is shared across relay processes and survives any single restart.
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/domain"
)

const DefaultKeyPrefix = "online:user:"

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(userID domain.UserID) string {
	return s.prefix + string(userID)
}

func (s *RedisStore) AddConnection(ctx context.Context, userID domain.UserID, connID domain.ConnID) error {
	return s.client.SAdd(ctx, s.key(userID), string(connID)).Err()
}

func (s *RedisStore) RemoveConnections(ctx context.Context, userID domain.UserID, connIDs ...domain.ConnID) error {
	if len(connIDs) == 0 {
		return nil
	}
	members := make([]any, 0, len(connIDs))
	for _, id := range connIDs {
		members = append(members, string(id))
	}
	return s.client.SRem(ctx, s.key(userID), members...).Err()
}

func (s *RedisStore) Connections(ctx context.Context, userID domain.UserID) ([]domain.ConnID, error) {
	members, err := s.client.SMembers(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConnID, 0, len(members))
	for _, m := range members {
		out = append(out, domain.ConnID(m))
	}
	return out, nil
}

func (s *RedisStore) ConnectionCount(ctx context.Context, userID domain.UserID) (int64, error) {
	return s.client.SCard(ctx, s.key(userID)).Result()
}

// Clear walks the presence namespace and deletes every key in it.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan presence keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete presence keys: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	log.Info().Str("module", "adapters.presence").Int("keys", deleted).Msg("cleared presence namespace")
	return nil
}
