// Package tier implements the investment tier catalog: validation of the
// administered tier list and the pure resolver that maps a user's qualifying
// equity to tier membership.
//
// Resolution is deterministic and side-effect free: the highest tier whose
// MinAmount <= equity wins, scanning in ascending MinAmount order. If equity
// is below every tier's minimum the lowest tier is returned as an explicit
// default — the product has no "no tier" state.
//
// All monetary values use shopspring/decimal — never float64 for money.
package tier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

var (
	// ErrEmptyCatalog is returned when the catalog has no tiers.
	ErrEmptyCatalog = errors.New("tier: catalog must contain at least one tier")

	// ErrUnorderedCatalog is returned when tiers are not strictly
	// increasing by MinAmount.
	ErrUnorderedCatalog = errors.New("tier: tiers must be ordered by ascending min_amount")

	// ErrInvalidRange is returned when a tier's bounds are inverted or
	// overlap the next tier's range.
	ErrInvalidRange = errors.New("tier: invalid or overlapping tier range")

	// ErrInvalidRate is returned when daily_roi or days is not positive.
	ErrInvalidRate = errors.New("tier: daily_roi and days must be positive")

	// ErrInvalidAllocation is returned when an allocation mix does not
	// sum to 100 percent.
	ErrInvalidAllocation = errors.New("tier: allocation mix must sum to 100")

	// ErrUnknownTier is returned when a tier ID is not in the catalog.
	ErrUnknownTier = errors.New("tier: unknown tier id")
)

var hundred = decimal.NewFromInt(100)

// ValidateCatalog checks the catalog invariants: non-empty, unique IDs,
// ascending non-overlapping ranges, positive rates and terms, allocation
// mixes summing to 100. The input must already be sorted by MinAmount
// (Catalog sorts before validating).
func ValidateCatalog(tiers []model.Tier) error {
	if len(tiers) == 0 {
		return ErrEmptyCatalog
	}

	seen := make(map[int]bool, len(tiers))
	for i, t := range tiers {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate id %d", ErrUnorderedCatalog, t.ID)
		}
		seen[t.ID] = true

		if t.DailyROI.LessThanOrEqual(decimal.Zero) || t.Days <= 0 {
			return fmt.Errorf("%w: tier %d", ErrInvalidRate, t.ID)
		}

		if !t.Unbounded() && t.MaxAmount.LessThan(t.MinAmount) {
			return fmt.Errorf("%w: tier %d max below min", ErrInvalidRange, t.ID)
		}

		if i > 0 {
			prev := tiers[i-1]
			if t.MinAmount.LessThan(prev.MinAmount) {
				return fmt.Errorf("%w: tier %d before tier %d", ErrUnorderedCatalog, t.ID, prev.ID)
			}
			// An unbounded tier below the top would swallow every
			// tier above it.
			if prev.Unbounded() {
				return fmt.Errorf("%w: tier %d is unbounded but not last", ErrInvalidRange, prev.ID)
			}
			if t.MinAmount.LessThan(prev.MaxAmount) {
				return fmt.Errorf("%w: tier %d overlaps tier %d", ErrInvalidRange, t.ID, prev.ID)
			}
		}

		if len(t.AllocationMix) > 0 {
			sum := decimal.Zero
			for _, pct := range t.AllocationMix {
				sum = sum.Add(pct)
			}
			if !sum.Equal(hundred) {
				return fmt.Errorf("%w: tier %d sums to %s", ErrInvalidAllocation, t.ID, sum)
			}
		}
	}
	return nil
}

// Catalog is a validated, immutable tier list sorted by ascending MinAmount.
type Catalog struct {
	tiers []model.Tier
	byID  map[int]model.Tier
}

// NewCatalog sorts, validates, and wraps a tier list.
func NewCatalog(tiers []model.Tier) (*Catalog, error) {
	sorted := make([]model.Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinAmount.Equal(sorted[j].MinAmount) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].MinAmount.LessThan(sorted[j].MinAmount)
	})

	if err := ValidateCatalog(sorted); err != nil {
		return nil, err
	}

	byID := make(map[int]model.Tier, len(sorted))
	for _, t := range sorted {
		byID[t.ID] = t
	}
	return &Catalog{tiers: sorted, byID: byID}, nil
}

// Tiers returns the tiers in ascending MinAmount order. Callers must not
// mutate the returned slice.
func (c *Catalog) Tiers() []model.Tier {
	return c.tiers
}

// ByID looks up a tier by ID.
func (c *Catalog) ByID(id int) (model.Tier, error) {
	t, ok := c.byID[id]
	if !ok {
		return model.Tier{}, fmt.Errorf("%w: %d", ErrUnknownTier, id)
	}
	return t, nil
}

// Current resolves the tier for the given qualifying equity: the last tier
// in ascending order whose MinAmount <= equity (ties broken by highest ID
// via the stable sort). Equity below every minimum resolves to the lowest
// tier; there is no "no tier" state.
func (c *Catalog) Current(equity decimal.Decimal) model.Tier {
	current := c.tiers[0]
	for _, t := range c.tiers {
		if t.MinAmount.LessThanOrEqual(equity) {
			current = t
		}
	}
	return current
}

// Next returns the tier immediately above the given one, or nil if it is
// the top tier.
func (c *Catalog) Next(current model.Tier) *model.Tier {
	for i, t := range c.tiers {
		if t.ID == current.ID && i+1 < len(c.tiers) {
			next := c.tiers[i+1]
			return &next
		}
	}
	return nil
}

// Shortfall returns how much additional equity is needed to qualify for the
// target tier: max(0, target.MinAmount - equity).
func Shortfall(equity decimal.Decimal, target model.Tier) decimal.Decimal {
	gap := target.MinAmount.Sub(equity)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// IsEligible reports whether the given equity qualifies for the target tier.
func IsEligible(equity decimal.Decimal, target model.Tier) bool {
	return equity.GreaterThanOrEqual(target.MinAmount)
}
