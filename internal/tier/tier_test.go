package tier_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
	"github.com/autogrowth/growth-engine/internal/tier"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// threeTiers builds the canonical {0, 1000, 5000} catalog used across tests.
func threeTiers(t *testing.T) *tier.Catalog {
	t.Helper()
	c, err := tier.NewCatalog([]model.Tier{
		{ID: 1, Name: "Starter", MinAmount: d(0), MaxAmount: d(1000), Days: 30, DailyROI: d(0.003)},
		{ID: 2, Name: "Growth", MinAmount: d(1000), MaxAmount: d(5000), Days: 60, DailyROI: d(0.005)},
		{ID: 3, Name: "Advanced", MinAmount: d(5000), MaxAmount: d(0), Days: 90, DailyROI: d(0.007)},
	})
	if err != nil {
		t.Fatalf("catalog should be valid: %v", err)
	}
	return c
}

func TestCurrent_Boundaries(t *testing.T) {
	c := threeTiers(t)

	cases := []struct {
		equity float64
		wantID int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{4999, 2},
		{5000, 3},
		{1000000, 3},
	}
	for _, tc := range cases {
		got := c.Current(d(tc.equity))
		if got.ID != tc.wantID {
			t.Errorf("Current(%v) = tier %d, want %d", tc.equity, got.ID, tc.wantID)
		}
	}
}

func TestCurrent_BelowLowestMinimumFallsBackToLowestTier(t *testing.T) {
	c, err := tier.NewCatalog([]model.Tier{
		{ID: 1, MinAmount: d(500), MaxAmount: d(1000), Days: 30, DailyROI: d(0.003)},
		{ID: 2, MinAmount: d(1000), MaxAmount: d(0), Days: 60, DailyROI: d(0.005)},
	})
	if err != nil {
		t.Fatalf("catalog should be valid: %v", err)
	}

	// 100 is below tier 1's minimum; the lowest tier is still returned.
	if got := c.Current(d(100)); got.ID != 1 {
		t.Errorf("expected lowest-tier fallback, got tier %d", got.ID)
	}
}

func TestCurrent_Monotonicity(t *testing.T) {
	c := threeTiers(t)

	// Increasing equity must never decrease the resolved tier.
	prev := 0
	for equity := 0; equity <= 10000; equity += 50 {
		got := c.Current(decimal.NewFromInt(int64(equity)))
		if got.ID < prev {
			t.Fatalf("tier decreased from %d to %d at equity %d", prev, got.ID, equity)
		}
		prev = got.ID
	}
}

func TestShortfall(t *testing.T) {
	target := model.Tier{ID: 2, MinAmount: d(1000)}

	if got := tier.Shortfall(d(800), target); !got.Equal(d(200)) {
		t.Errorf("Shortfall(800) = %s, want 200", got)
	}
	if got := tier.Shortfall(d(1200), target); !got.IsZero() {
		t.Errorf("Shortfall(1200) = %s, want 0", got)
	}
	if got := tier.Shortfall(d(1000), target); !got.IsZero() {
		t.Errorf("Shortfall(1000) = %s, want 0", got)
	}
}

func TestIsEligible(t *testing.T) {
	target := model.Tier{ID: 2, MinAmount: d(1000)}

	if tier.IsEligible(d(999), target) {
		t.Error("999 should not be eligible for min 1000")
	}
	if !tier.IsEligible(d(1000), target) {
		t.Error("1000 should be eligible for min 1000")
	}
}

func TestNext(t *testing.T) {
	c := threeTiers(t)

	starter, _ := c.ByID(1)
	next := c.Next(starter)
	if next == nil || next.ID != 2 {
		t.Fatalf("Next(starter) should be tier 2, got %+v", next)
	}

	top, _ := c.ByID(3)
	if got := c.Next(top); got != nil {
		t.Errorf("Next(top tier) should be nil, got tier %d", got.ID)
	}
}

func TestByID_Unknown(t *testing.T) {
	c := threeTiers(t)

	_, err := c.ByID(99)
	if !errors.Is(err, tier.ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

// --- Catalog validation ---

func TestNewCatalog_Empty(t *testing.T) {
	_, err := tier.NewCatalog(nil)
	if !errors.Is(err, tier.ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
}

func TestNewCatalog_OverlappingRanges(t *testing.T) {
	_, err := tier.NewCatalog([]model.Tier{
		{ID: 1, MinAmount: d(0), MaxAmount: d(2000), Days: 30, DailyROI: d(0.003)},
		{ID: 2, MinAmount: d(1000), MaxAmount: d(0), Days: 60, DailyROI: d(0.005)},
	})
	if !errors.Is(err, tier.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange for overlap, got %v", err)
	}
}

func TestNewCatalog_UnboundedTierNotLast(t *testing.T) {
	_, err := tier.NewCatalog([]model.Tier{
		{ID: 1, MinAmount: d(0), MaxAmount: d(0), Days: 30, DailyROI: d(0.003)},
		{ID: 2, MinAmount: d(1000), MaxAmount: d(0), Days: 60, DailyROI: d(0.005)},
	})
	if !errors.Is(err, tier.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange for mid-catalog unbounded tier, got %v", err)
	}
}

func TestNewCatalog_NonPositiveRate(t *testing.T) {
	_, err := tier.NewCatalog([]model.Tier{
		{ID: 1, MinAmount: d(0), MaxAmount: d(1000), Days: 30, DailyROI: d(0)},
	})
	if !errors.Is(err, tier.ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

func TestNewCatalog_AllocationMustSumTo100(t *testing.T) {
	_, err := tier.NewCatalog([]model.Tier{
		{ID: 1, MinAmount: d(0), MaxAmount: d(1000), Days: 30, DailyROI: d(0.003),
			AllocationMix: map[string]decimal.Decimal{"BTC": d(50), "ETH": d(40)}},
	})
	if !errors.Is(err, tier.ErrInvalidAllocation) {
		t.Errorf("expected ErrInvalidAllocation, got %v", err)
	}
}

func TestNewCatalog_SortsUnorderedInput(t *testing.T) {
	c, err := tier.NewCatalog([]model.Tier{
		{ID: 3, MinAmount: d(5000), MaxAmount: d(0), Days: 90, DailyROI: d(0.007)},
		{ID: 1, MinAmount: d(0), MaxAmount: d(1000), Days: 30, DailyROI: d(0.003)},
		{ID: 2, MinAmount: d(1000), MaxAmount: d(5000), Days: 60, DailyROI: d(0.005)},
	})
	if err != nil {
		t.Fatalf("unordered input should be sorted, not rejected: %v", err)
	}
	tiers := c.Tiers()
	if tiers[0].ID != 1 || tiers[2].ID != 3 {
		t.Errorf("catalog not sorted: %d, %d, %d", tiers[0].ID, tiers[1].ID, tiers[2].ID)
	}
}

func TestDefaultTiers_Valid(t *testing.T) {
	if _, err := tier.NewCatalog(tier.DefaultTiers()); err != nil {
		t.Fatalf("default catalog must validate: %v", err)
	}
}
