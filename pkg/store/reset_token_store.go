package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidResetToken indicates the token is unknown, used or expired.
var ErrInvalidResetToken = errors.New("invalid reset token")

type resetEntry struct {
	userID string
	expiry time.Time
}

// MemoryResetTokenStore keeps reset tokens in memory.
type MemoryResetTokenStore struct {
	mu     sync.Mutex
	tokens map[string]resetEntry // tokenHash -> entry
}

// NewMemoryResetTokenStore constructs an in-memory reset token store.
func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{tokens: make(map[string]resetEntry)}
}

// NewToken issues a token for userID.
func (s *MemoryResetTokenStore) NewToken(_ context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[resetTokenHash(token)] = resetEntry{userID: userID, expiry: time.Now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

// Consume validates and invalidates token.
func (s *MemoryResetTokenStore) Consume(_ context.Context, token string) (string, error) {
	hash := resetTokenHash(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[hash]
	if !ok {
		return "", ErrInvalidResetToken
	}
	delete(s.tokens, hash)
	if time.Now().After(entry.expiry) {
		return "", ErrInvalidResetToken
	}
	return entry.userID, nil
}

// RedisResetTokenStore stores hashed reset tokens in Redis with TTL.
type RedisResetTokenStore struct {
	client *redis.Client
}

// NewRedisResetTokenStore builds a Redis-backed reset token store.
func NewRedisResetTokenStore(client *redis.Client) *RedisResetTokenStore {
	return &RedisResetTokenStore{client: client}
}

// NewToken issues a token for userID.
func (s *RedisResetTokenStore) NewToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, resetTokenRedisKey(resetTokenHash(token)), userID, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume validates and invalidates token atomically.
func (s *RedisResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, resetTokenRedisKey(resetTokenHash(token))).Result()
	if err == redis.Nil {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func generateResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func resetTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetTokenRedisKey(tokenHash string) string {
	return fmt.Sprintf("reset:token:%s", tokenHash)
}
