package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/apex/internal/core/domain"
)

// indexKey is a sorted set of transfer IDs scored by last update time,
// which makes the stale scan a single ZRANGEBYSCORE.
const indexKey = "transfers:updated"

// TransferStore implements TransferRepository using Redis. Each record is
// stored as JSON under its own key; relay claims are SETNX leases that
// expire on their own if the holder dies.
type TransferStore struct {
	rdb *redis.Client
}

// NewTransferStore creates a new Redis-backed transfer repository.
func NewTransferStore(client *Client) *TransferStore {
	return &TransferStore{rdb: client.rdb}
}

// Key helpers
func transferKey(id string) string {
	return fmt.Sprintf("transfer:%s", id)
}

func claimKey(id string) string {
	return fmt.Sprintf("transfer_claim:%s", id)
}

// Save upserts the full transfer record and refreshes its index score.
func (s *TransferStore) Save(ctx context.Context, transfer *domain.BridgeTransfer) error {
	data, err := json.Marshal(transfer)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	if err := s.rdb.Set(ctx, transferKey(transfer.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set transfer: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(transfer.UpdatedAt.UnixMilli()),
		Member: transfer.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index transfer: %w", err)
	}

	return nil
}

// Get retrieves a transfer by ID.
func (s *TransferStore) Get(ctx context.Context, id string) (*domain.BridgeTransfer, error) {
	data, err := s.rdb.Get(ctx, transferKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	var t domain.BridgeTransfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer: %w", err)
	}
	return &t, nil
}

// ListByState retrieves transfers in any of the given states, oldest
// update first.
func (s *TransferStore) ListByState(ctx context.Context, states ...domain.TransferState) ([]*domain.BridgeTransfer, error) {
	transfers, err := s.scan(ctx, "-inf", "+inf")
	if err != nil {
		return nil, err
	}

	var out []*domain.BridgeTransfer
	for _, t := range transfers {
		for _, state := range states {
			if t.State == state {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// ListStale retrieves non-terminal transfers not updated since the cutoff.
func (s *TransferStore) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.BridgeTransfer, error) {
	max := strconv.FormatInt(cutoff.UnixMilli()-1, 10)
	transfers, err := s.scan(ctx, "-inf", max)
	if err != nil {
		return nil, err
	}

	var out []*domain.BridgeTransfer
	for _, t := range transfers {
		if !t.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

// scan walks the index in score order and loads each record. IDs whose
// data key has vanished are dropped from the index on the way.
func (s *TransferStore) scan(ctx context.Context, min, max string) ([]*domain.BridgeTransfer, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	out := make([]*domain.BridgeTransfer, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, transferKey(id)).Bytes()
		if err == redis.Nil {
			s.rdb.ZRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get transfer: %w", err)
		}

		var t domain.BridgeTransfer
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// Delete removes a transfer record, its index entry, and any claim.
func (s *TransferStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, indexKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := s.rdb.Del(ctx, transferKey(id), claimKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}

// Count returns the number of live transfer records.
func (s *TransferStore) Count(ctx context.Context) (int, error) {
	count, err := s.rdb.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

// Claim takes the relay lease for a transfer.
func (s *TransferStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, claimKey(id), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// RefreshClaim extends the TTL of a held lease.
func (s *TransferStore) RefreshClaim(ctx context.Context, id string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, claimKey(id), ttl).Err()
}

// ReleaseClaim drops the lease.
func (s *TransferStore) ReleaseClaim(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, claimKey(id)).Err()
}
