package upgrade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/accrual"
	"github.com/autogrowth/growth-engine/internal/model"
	"github.com/autogrowth/growth-engine/internal/store"
	"github.com/autogrowth/growth-engine/internal/tier"
	"github.com/autogrowth/growth-engine/internal/upgrade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestEnv seeds a three-tier catalog and returns a coordinator over a
// memory store.
func newTestEnv(t *testing.T) (*upgrade.Coordinator, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	tiers := []model.Tier{
		{ID: 1, Name: "Starter", MinAmount: d(0), MaxAmount: d(1000), Days: 30, DailyROI: d(0.003)},
		{ID: 2, Name: "Growth", MinAmount: d(1000), MaxAmount: d(6000), Days: 60, DailyROI: d(0.005)},
		{ID: 3, Name: "Advanced", MinAmount: d(6000), MaxAmount: d(0), Days: 90, DailyROI: d(0.007)},
	}
	for i := range tiers {
		if err := ms.CreateTier(ctx, &tiers[i]); err != nil {
			t.Fatalf("failed to seed tier: %v", err)
		}
	}

	eng := accrual.NewEngine(ms)
	return upgrade.NewCoordinator(ms, eng), ms
}

func seedPosition(t *testing.T, ms *store.MemoryStore, id, userID string, tierID int, principal decimal.Decimal, opened time.Time, days int) {
	t.Helper()
	p := &model.Position{
		ID: id, UserID: userID, TierID: tierID, Currency: model.CurrencyUSD,
		Principal: principal, AccruedROI: decimal.Zero, ClaimedROI: decimal.Zero,
		OpenedAt: opened, MaturesAt: opened.AddDate(0, 0, days),
		Status: model.StatusActive,
	}
	if err := ms.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
}

func TestUpgrade_InsufficientEquityReturnsShortfall(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-11")

	// 5000 at 0.5%/day opened 10 days ago: accrued ROI = 250.
	seedPosition(t, ms, "p1", "user1", 2, d(5000), ts("2024-06-01"), 60)

	_, err := coord.Upgrade(context.Background(), "user1", 3, true, now)

	var insufficient *upgrade.InsufficientEquityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientEquityError, got %v", err)
	}
	// Effective equity 5000 + 250 = 5250 against a 6000 minimum.
	if !insufficient.Equity.Equal(d(5250)) {
		t.Errorf("expected equity 5250, got %s", insufficient.Equity)
	}
	if !insufficient.Shortfall.Equal(d(750)) {
		t.Errorf("expected shortfall 750, got %s", insufficient.Shortfall)
	}
}

func TestUpgrade_AutoClaimFoldsROIIntoNewPrincipal(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-21")

	// 5800 at 0.5%/day for 20 days: accrued 580 → effective 6380 ≥ 6000.
	seedPosition(t, ms, "p1", "user1", 2, d(5800), ts("2024-06-01"), 60)

	result, err := coord.Upgrade(context.Background(), "user1", 3, true, now)
	if err != nil {
		t.Fatalf("upgrade should succeed: %v", err)
	}

	if result.NewTier.ID != 3 {
		t.Errorf("expected tier 3, got %d", result.NewTier.ID)
	}
	if !result.ClaimedAmount.Equal(d(580)) {
		t.Errorf("expected claimed 580, got %s", result.ClaimedAmount)
	}
	if !result.Equity.Equal(d(6380)) {
		t.Errorf("expected equity 6380, got %s", result.Equity)
	}

	// Old position closed, new one active at the target tier.
	old, _ := ms.GetPosition(context.Background(), "p1")
	if old.Status != model.StatusClosed {
		t.Errorf("old position should be closed, got %s", old.Status)
	}
	if !old.AccruedROI.IsZero() {
		t.Errorf("closed position must carry no unclaimed ROI, got %s", old.AccruedROI)
	}

	newPos, err := ms.GetPosition(context.Background(), result.PositionID)
	if err != nil {
		t.Fatalf("new position should exist: %v", err)
	}
	if !newPos.Principal.Equal(d(6380)) {
		t.Errorf("new principal should fold in claimed ROI, got %s", newPos.Principal)
	}
	if !newPos.OpenedAt.Equal(now) {
		t.Errorf("new position opened_at should be now, got %s", newPos.OpenedAt)
	}
	if !newPos.MaturesAt.Equal(now.AddDate(0, 0, 90)) {
		t.Errorf("new position should carry the new tier's term, got %s", newPos.MaturesAt)
	}
}

func TestUpgrade_WithoutAutoClaimCountsPrincipalOnly(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-21")

	// Principal alone (5800) misses the 6000 minimum even though the
	// accrued 580 would cover it.
	seedPosition(t, ms, "p1", "user1", 2, d(5800), ts("2024-06-01"), 60)

	_, err := coord.Upgrade(context.Background(), "user1", 3, false, now)

	var insufficient *upgrade.InsufficientEquityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientEquityError, got %v", err)
	}
	if !insufficient.Shortfall.Equal(d(200)) {
		t.Errorf("expected shortfall 200, got %s", insufficient.Shortfall)
	}
}

func TestUpgrade_ConsolidatesMultiplePositions(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-01")

	seedPosition(t, ms, "p1", "user1", 2, d(4000), now, 60)
	seedPosition(t, ms, "p2", "user1", 2, d(2500), now, 60)

	result, err := coord.Upgrade(context.Background(), "user1", 3, false, now)
	if err != nil {
		t.Fatalf("upgrade should succeed: %v", err)
	}
	if !result.Equity.Equal(d(6500)) {
		t.Errorf("expected consolidated equity 6500, got %s", result.Equity)
	}

	for _, id := range []string{"p1", "p2"} {
		p, _ := ms.GetPosition(context.Background(), id)
		if p.Status != model.StatusClosed {
			t.Errorf("position %s should be closed, got %s", id, p.Status)
		}
	}
}

func TestUpgrade_IgnoresNonUSDPositions(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-01")

	seedPosition(t, ms, "p1", "user1", 2, d(5000), now, 60)
	btc := &model.Position{
		ID: "p2", UserID: "user1", TierID: 2, Currency: "BTC",
		Principal: d(9000), AccruedROI: decimal.Zero, ClaimedROI: decimal.Zero,
		OpenedAt: now, MaturesAt: now.AddDate(0, 0, 60), Status: model.StatusActive,
	}
	if err := ms.CreatePosition(context.Background(), btc); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	_, err := coord.Upgrade(context.Background(), "user1", 3, false, now)

	var insufficient *upgrade.InsufficientEquityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("non-USD principal must not count toward eligibility, got %v", err)
	}
	if !insufficient.Equity.Equal(d(5000)) {
		t.Errorf("expected USD-only equity 5000, got %s", insufficient.Equity)
	}
}

func TestUpgrade_UnknownTargetTier(t *testing.T) {
	coord, ms := newTestEnv(t)
	seedPosition(t, ms, "p1", "user1", 2, d(5000), ts("2024-06-01"), 60)

	_, err := coord.Upgrade(context.Background(), "user1", 42, false, ts("2024-06-01"))
	if !errors.Is(err, tier.ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestUpgrade_AlreadyAtTargetTier(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-01")
	seedPosition(t, ms, "p1", "user1", 3, d(7000), now, 90)

	_, err := coord.Upgrade(context.Background(), "user1", 3, false, now)
	if !errors.Is(err, upgrade.ErrAlreadyAtTier) {
		t.Errorf("expected ErrAlreadyAtTier, got %v", err)
	}
}

func TestUpgrade_NoActivePositions(t *testing.T) {
	coord, _ := newTestEnv(t)

	_, err := coord.Upgrade(context.Background(), "nobody", 2, false, ts("2024-06-01"))
	if !errors.Is(err, upgrade.ErrNoActivePositions) {
		t.Errorf("expected ErrNoActivePositions, got %v", err)
	}
}

func TestUpgrade_ConcurrentRequestsNeverBothCommit(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-01")
	seedPosition(t, ms, "p1", "user1", 2, d(7000), now, 60)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := coord.Upgrade(context.Background(), "user1", 3, false, now)
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, upgrade.ErrConcurrentUpgrade):
		case errors.Is(err, store.ErrConflict):
		case errors.Is(err, upgrade.ErrAlreadyAtTier):
			// A late request sees the already-consolidated ledger.
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("exactly one concurrent upgrade must commit, got %d", succeeded)
	}
}

func TestClaim_MovesAccruedIntoClaimed(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-11")

	// 10 days at 0.5% on 5000 → 250 claimable.
	seedPosition(t, ms, "p1", "user1", 2, d(5000), ts("2024-06-01"), 60)

	result, err := coord.Claim(context.Background(), "user1", now)
	if err != nil {
		t.Fatalf("claim should succeed: %v", err)
	}
	if !result.ClaimedAmount.Equal(d(250)) {
		t.Errorf("expected claimed 250, got %s", result.ClaimedAmount)
	}
	if result.Positions != 1 {
		t.Errorf("expected 1 position claimed, got %d", result.Positions)
	}

	p, _ := ms.GetPosition(context.Background(), "p1")
	if !p.AccruedROI.IsZero() {
		t.Errorf("accrued should be zeroed, got %s", p.AccruedROI)
	}
	if !p.ClaimedROI.Equal(d(250)) {
		t.Errorf("claimed should be 250, got %s", p.ClaimedROI)
	}
	if p.Status != model.StatusActive {
		t.Errorf("claim must not close the position, got %s", p.Status)
	}
}

func TestClaim_NothingToClaim(t *testing.T) {
	coord, ms := newTestEnv(t)
	now := ts("2024-06-01")
	seedPosition(t, ms, "p1", "user1", 2, d(5000), now, 60)

	result, err := coord.Claim(context.Background(), "user1", now)
	if err != nil {
		t.Fatalf("claim should succeed: %v", err)
	}
	if !result.ClaimedAmount.IsZero() {
		t.Errorf("expected zero claim, got %s", result.ClaimedAmount)
	}
}
