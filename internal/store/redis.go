package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// The tier catalog and per-user position sets are the only cached reads:
// the catalog changes rarely, and position sets are invalidated on every
// accrual, claim, and upgrade touching the user.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Tier catalog (read-through) ---

func (s *CachedStore) CreateTier(ctx context.Context, t *model.Tier) error {
	if err := s.primary.CreateTier(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, tiersKey())
	return nil
}

func (s *CachedStore) ListTiers(ctx context.Context) ([]model.Tier, error) {
	data, err := s.rdb.Get(ctx, tiersKey()).Bytes()
	if err == nil {
		var tiers []model.Tier
		if json.Unmarshal(data, &tiers) == nil {
			return tiers, nil
		}
	}

	tiers, err := s.primary.ListTiers(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tiers); err == nil {
		s.rdb.Set(ctx, tiersKey(), data, s.ttl)
	}
	return tiers, nil
}

// --- Position reads (read-through per user) ---

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListActivePositions(ctx context.Context) ([]model.Position, error) {
	// Batch accrual always reads the source of truth.
	return s.primary.ListActivePositions(ctx)
}

func (s *CachedStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Writes (write to primary, invalidate) ---

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) ApplyAccrual(ctx context.Context, p *model.Position, prevCalc time.Time) error {
	if err := s.primary.ApplyAccrual(ctx, p, prevCalc); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) ClaimROI(ctx context.Context, userID string) (decimal.Decimal, error) {
	total, err := s.primary.ClaimROI(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return total, nil
}

func (s *CachedStore) ApplyUpgrade(ctx context.Context, userID string, closeIDs []string, newPos *model.Position) error {
	if err := s.primary.ApplyUpgrade(ctx, userID, closeIDs, newPos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return nil
}

// --- Passthrough ---

func (s *CachedStore) SystemStats(ctx context.Context) (*model.SystemStats, error) {
	return s.primary.SystemStats(ctx)
}

// --- Cache keys ---

func tiersKey() string               { return "growth:tiers" }
func positionsKey(uid string) string { return fmt.Sprintf("growth:positions:%s", uid) }
