package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

// RetryStore wraps a Store with a bounded retry policy (exponential backoff
// with jitter) for read operations. Writes pass through untouched: the
// accrual and upgrade paths must decide retries themselves, since a blind
// re-send could double-apply money movement. This keeps all transport-level
// retrying at one boundary instead of scattered through callers.
type RetryStore struct {
	inner    Store
	attempts int
	baseWait time.Duration
}

// NewRetryStore wraps a store with the given retry budget. attempts counts
// total tries, not re-tries; values below 1 are treated as 1.
func NewRetryStore(inner Store, attempts int, baseWait time.Duration) *RetryStore {
	if attempts < 1 {
		attempts = 1
	}
	if baseWait <= 0 {
		baseWait = 50 * time.Millisecond
	}
	return &RetryStore{inner: inner, attempts: attempts, baseWait: baseWait}
}

// do runs op up to the attempt budget. Not-found and conflict results are
// definitive, never transient, so they return immediately.
func (s *RetryStore) do(ctx context.Context, op func() error) error {
	wait := s.baseWait
	var err error

	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= s.attempts {
			return err
		}

		jitter := time.Duration(rand.Int63n(int64(wait)/2 + 1))
		select {
		case <-time.After(wait + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
}

// --- Retried reads ---

func (s *RetryStore) ListTiers(ctx context.Context) ([]model.Tier, error) {
	var tiers []model.Tier
	err := s.do(ctx, func() error {
		var opErr error
		tiers, opErr = s.inner.ListTiers(ctx)
		return opErr
	})
	return tiers, err
}

func (s *RetryStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p *model.Position
	err := s.do(ctx, func() error {
		var opErr error
		p, opErr = s.inner.GetPosition(ctx, id)
		return opErr
	})
	return p, err
}

func (s *RetryStore) ListActivePositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := s.do(ctx, func() error {
		var opErr error
		positions, opErr = s.inner.ListActivePositions(ctx)
		return opErr
	})
	return positions, err
}

func (s *RetryStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	err := s.do(ctx, func() error {
		var opErr error
		positions, opErr = s.inner.ListUserPositions(ctx, userID)
		return opErr
	})
	return positions, err
}

func (s *RetryStore) SystemStats(ctx context.Context) (*model.SystemStats, error) {
	var stats *model.SystemStats
	err := s.do(ctx, func() error {
		var opErr error
		stats, opErr = s.inner.SystemStats(ctx)
		return opErr
	})
	return stats, err
}

// --- Passthrough writes ---

func (s *RetryStore) CreateTier(ctx context.Context, t *model.Tier) error {
	return s.inner.CreateTier(ctx, t)
}

func (s *RetryStore) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.inner.CreatePosition(ctx, p)
}

func (s *RetryStore) ApplyAccrual(ctx context.Context, p *model.Position, prevCalc time.Time) error {
	return s.inner.ApplyAccrual(ctx, p, prevCalc)
}

func (s *RetryStore) ClaimROI(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.inner.ClaimROI(ctx, userID)
}

func (s *RetryStore) ApplyUpgrade(ctx context.Context, userID string, closeIDs []string, newPos *model.Position) error {
	return s.inner.ApplyUpgrade(ctx, userID, closeIDs, newPos)
}
