// Package model defines the core domain types shared across the growth engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position status values. A position moves active → matured exactly once,
// and is closed only by the upgrade coordinator (or a full claim-out).
const (
	StatusActive  = "active"
	StatusMatured = "matured"
	StatusClosed  = "closed"
)

// CurrencyUSD is the only currency that counts toward tier eligibility.
const CurrencyUSD = "USD"

// Tier is one row of the investment tier catalog. Tiers are administered
// externally and read-only to the engine; a catalog is valid when tiers are
// ordered by ascending MinAmount with non-overlapping ranges.
type Tier struct {
	ID        int             `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	MinAmount decimal.Decimal `json:"min_amount" db:"min_amount"`
	// MaxAmount of zero means the tier is unbounded above (top tier).
	MaxAmount decimal.Decimal `json:"max_amount" db:"max_amount"`
	Days      int             `json:"days" db:"days"`
	// DailyROI is a flat daily rate applied against principal, not against
	// the growing balance (simple, non-compounding interest).
	DailyROI decimal.Decimal `json:"daily_roi" db:"daily_roi"`
	// AllocationMix maps asset symbol → percentage; percentages sum to 100.
	AllocationMix map[string]decimal.Decimal `json:"allocation_mix" db:"allocation_mix"`
}

// Unbounded reports whether the tier has no upper equity bound.
func (t Tier) Unbounded() bool {
	return t.MaxAmount.IsZero()
}

// Position is one investment position in the ledger.
type Position struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	TierID   int    `json:"tier_id" db:"tier_id"`
	Currency string `json:"currency" db:"currency"`

	Principal decimal.Decimal `json:"principal" db:"principal"`
	// AccruedROI is the unclaimed ROI earned so far. Monotonically
	// non-decreasing while the position is active; only the accrual
	// engine increments it.
	AccruedROI decimal.Decimal `json:"accrued_roi" db:"accrued_roi"`
	// ClaimedROI is the lifetime ROI moved out of AccruedROI by explicit
	// claim operations.
	ClaimedROI decimal.Decimal `json:"claimed_roi" db:"claimed_roi"`

	OpenedAt  time.Time `json:"opened_at" db:"opened_at"`
	MaturesAt time.Time `json:"matures_at" db:"matures_at"`
	// LastROICalc is the instant of the most recent accrual application.
	// Zero means the position has never accrued (accrual starts from
	// OpenedAt). Never set past MaturesAt.
	LastROICalc time.Time `json:"last_roi_calculation" db:"last_roi_calculation"`

	Status string `json:"status" db:"status"`
}

// AccrualBasis returns the instant accrual resumes from.
func (p Position) AccrualBasis() time.Time {
	if p.LastROICalc.IsZero() {
		return p.OpenedAt
	}
	return p.LastROICalc
}

// AccrualReport summarizes one accrual engine invocation.
type AccrualReport struct {
	RunID            string          `json:"run_id"`
	RanAt            time.Time       `json:"ran_at"`
	Success          bool            `json:"success"`
	PositionsUpdated int             `json:"positions_updated"`
	PositionsMatured int             `json:"positions_matured"`
	ROIDistributed   decimal.Decimal `json:"roi_distributed"`
	// Errors lists per-position failures. A failed position never aborts
	// the rest of the batch.
	Errors []string `json:"errors,omitempty"`
}

// GrowthStatus is the read-only per-user snapshot returned by get-status.
type GrowthStatus struct {
	UserID           string          `json:"user_id"`
	TotalInvested    decimal.Decimal `json:"total_invested"`
	TotalAccruedROI  decimal.Decimal `json:"total_accrued_roi"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	OverallROIPct    decimal.Decimal `json:"overall_roi_percentage"`
	ActivePositions  int             `json:"active_positions"`
	MaturedPositions int             `json:"matured_positions"`
	CurrentTier      Tier            `json:"current_tier"`
	NextTier         *Tier           `json:"next_tier,omitempty"`
	UpgradeShortfall decimal.Decimal `json:"upgrade_shortfall"`
	Positions        []Position      `json:"positions"`
}

// UpgradeResult is returned from a successful tier upgrade.
type UpgradeResult struct {
	Success       bool            `json:"success"`
	NewTier       Tier            `json:"new_tier"`
	PositionID    string          `json:"position_id"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Equity        decimal.Decimal `json:"equity"`
}

// ClaimResult is returned from a manual ROI claim.
type ClaimResult struct {
	Success       bool            `json:"success"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Positions     int             `json:"positions"`
}

// SystemStats aggregates engine-wide totals across all users.
type SystemStats struct {
	ActivePositions  int             `json:"active_positions"`
	MaturedPositions int             `json:"matured_positions"`
	TotalPrincipal   decimal.Decimal `json:"total_principal"`
	TotalAccruedROI  decimal.Decimal `json:"total_accrued_roi"`
	TotalClaimedROI  decimal.Decimal `json:"total_claimed_roi"`
	InvestorCount    int             `json:"investor_count"`
}
