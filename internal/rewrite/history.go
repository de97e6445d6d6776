package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbserve/retrieval-core/internal/model"
)

// RedisHistoryStore persists each conversation's turns as a bounded Redis
// list, capped to MaxTurns entries so the rewriter never has to truncate a
// history that was allowed to grow unbounded. Implements
// retrieval.HistorySource.
type RedisHistoryStore struct {
	client   *redis.Client
	prefix   string
	maxTurns int
	ttl      time.Duration
}

// RedisHistoryConfig configures a RedisHistoryStore.
type RedisHistoryConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key namespace, defaults to "kbserve:history:"
	MaxTurns int           // ring size per conversation, defaults to 10
	TTL      time.Duration // 0 means no expiration
}

// NewRedisHistoryStore builds a RedisHistoryStore from cfg, applying
// defaults for any zero-valued field.
func NewRedisHistoryStore(cfg RedisHistoryConfig) *RedisHistoryStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "kbserve:history:"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisHistoryStore{client: client, prefix: cfg.Prefix, maxTurns: cfg.MaxTurns, ttl: cfg.TTL}
}

type storedTurn struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
	TS      time.Time  `json:"ts"`
}

// Append adds turn to conversationID's history, trimming the list so it
// never holds more than MaxTurns entries (oldest dropped first).
func (s *RedisHistoryStore) Append(ctx context.Context, conversationID string, turn model.ConversationTurn) error {
	data, err := json.Marshal(storedTurn{Role: turn.Role, Content: turn.Content, TS: turn.TS})
	if err != nil {
		return fmt.Errorf("rewrite: marshal turn: %w", err)
	}

	key := s.key(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(s.maxTurns), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewrite: append turn: %w", err)
	}
	return nil
}

// History returns up to maxTurns most recent turns for conversationID, in
// chronological order. Implements retrieval.HistorySource. An unknown
// conversation ID returns an empty, non-error result.
func (s *RedisHistoryStore) History(ctx context.Context, conversationID string, maxTurns int) ([]model.ConversationTurn, error) {
	if maxTurns <= 0 || maxTurns > s.maxTurns {
		maxTurns = s.maxTurns
	}

	raw, err := s.client.LRange(ctx, s.key(conversationID), -int64(maxTurns), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rewrite: load history %s: %w", conversationID, err)
	}

	turns := make([]model.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var st storedTurn
		if err := json.Unmarshal([]byte(item), &st); err != nil {
			return nil, fmt.Errorf("rewrite: decode turn: %w", err)
		}
		turns = append(turns, model.ConversationTurn{Role: st.Role, Content: st.Content, TS: st.TS})
	}
	return turns, nil
}

// Clear removes all stored turns for conversationID.
func (s *RedisHistoryStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("rewrite: clear history %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}

func (s *RedisHistoryStore) key(conversationID string) string {
	return s.prefix + conversationID
}
