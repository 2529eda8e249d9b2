package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	tiers     []model.Tier
	positions map[string]*model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateTier(_ context.Context, t *model.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tiers {
		if existing.ID == t.ID {
			return fmt.Errorf("tier %d already exists", t.ID)
		}
	}
	s.tiers = append(s.tiers, *t)
	return nil
}

func (s *MemoryStore) ListTiers(_ context.Context) ([]model.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]model.Tier, len(s.tiers))
	copy(tiers, s.tiers)
	return tiers, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListActivePositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Status == model.StatusActive {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ApplyAccrual(_ context.Context, p *model.Position, prevCalc time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.positions[p.ID]
	if !ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrNotFound)
	}
	if stored.Status != model.StatusActive {
		return fmt.Errorf("position %s is %s: %w", p.ID, stored.Status, ErrConflict)
	}
	if !stored.LastROICalc.Equal(prevCalc) {
		return fmt.Errorf("position %s accrual basis moved: %w", p.ID, ErrConflict)
	}

	stored.AccruedROI = p.AccruedROI
	stored.LastROICalc = p.LastROICalc
	stored.Status = p.Status
	return nil
}

func (s *MemoryStore) ClaimROI(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		if p.Status != model.StatusActive && p.Status != model.StatusMatured {
			continue
		}
		if p.AccruedROI.IsZero() {
			continue
		}
		total = total.Add(p.AccruedROI)
		p.ClaimedROI = p.ClaimedROI.Add(p.AccruedROI)
		p.AccruedROI = decimal.Zero
	}
	return total, nil
}

func (s *MemoryStore) ApplyUpgrade(_ context.Context, userID string, closeIDs []string, newPos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every position first so the commit is all-or-nothing.
	for _, id := range closeIDs {
		p, ok := s.positions[id]
		if !ok {
			return fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		if p.UserID != userID {
			return fmt.Errorf("position %s not owned by %s: %w", id, userID, ErrConflict)
		}
		if p.Status != model.StatusActive {
			return fmt.Errorf("position %s is %s: %w", id, p.Status, ErrConflict)
		}
	}
	if _, ok := s.positions[newPos.ID]; ok {
		return fmt.Errorf("position %s already exists: %w", newPos.ID, ErrConflict)
	}

	for _, id := range closeIDs {
		p := s.positions[id]
		p.ClaimedROI = p.ClaimedROI.Add(p.AccruedROI)
		p.AccruedROI = decimal.Zero
		p.Status = model.StatusClosed
	}

	cp := *newPos
	s.positions[newPos.ID] = &cp
	return nil
}

func (s *MemoryStore) SystemStats(_ context.Context) (*model.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.SystemStats{
		TotalPrincipal:  decimal.Zero,
		TotalAccruedROI: decimal.Zero,
		TotalClaimedROI: decimal.Zero,
	}
	investors := make(map[string]bool)

	for _, p := range s.positions {
		stats.TotalAccruedROI = stats.TotalAccruedROI.Add(p.AccruedROI)
		stats.TotalClaimedROI = stats.TotalClaimedROI.Add(p.ClaimedROI)

		switch p.Status {
		case model.StatusActive:
			stats.ActivePositions++
			stats.TotalPrincipal = stats.TotalPrincipal.Add(p.Principal)
			investors[p.UserID] = true
		case model.StatusMatured:
			stats.MaturedPositions++
			investors[p.UserID] = true
		}
	}
	stats.InvestorCount = len(investors)
	return stats, nil
}
