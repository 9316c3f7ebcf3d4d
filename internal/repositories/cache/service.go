// Package cache holds the Redis-backed read cache for wallets and the
// processed-event markers used to short-circuit duplicate callbacks.
// Neither is authoritative: a miss or an outage only costs a store read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/models"

	"github.com/redis/go-redis/v9"
)

type CacheService struct {
	client   *redis.Client
	ttl      time.Duration
	eventTTL time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL, eventTTL time.Duration) *CacheService {
	return &CacheService{
		client:   client,
		ttl:      defaultTTL,
		eventTTL: eventTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Wallet caching
func (s *CacheService) CacheWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet == nil {
		return errors.New("cannot cache nil wallet")
	}
	return s.Set(ctx, s.GenerateKey("wallet", "id", wallet.ID), wallet)
}

// GetWallet returns nil, nil on a miss.
func (s *CacheService) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	var wallet models.Wallet
	found, err := s.Get(ctx, s.GenerateKey("wallet", "id", walletID), &wallet)
	if err != nil || !found {
		return nil, err
	}
	return &wallet, nil
}

func (s *CacheService) InvalidateWallet(ctx context.Context, walletID string) error {
	return s.Delete(ctx, s.GenerateKey("wallet", "id", walletID))
}

// Processed-event markers

// MarkEventProcessed records that the event with this id has been applied.
// Only call it after the store committed or reported a duplicate.
func (s *CacheService) MarkEventProcessed(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, s.GenerateKey("event", "processed", eventID), time.Now().UTC().Format(time.RFC3339), s.eventTTL).Err()
}

func (s *CacheService) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.GenerateKey("event", "processed", eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event marker: %w", err)
	}
	return n > 0, nil
}

func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
