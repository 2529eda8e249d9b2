// Package upgrade orchestrates tier upgrades: eligibility evaluation with
// optional ROI auto-claim, followed by an atomic commit that closes the
// user's active positions and opens a consolidated replacement at the new
// tier. Opening a fresh position (rather than mutating tier pointers on
// the old ones) keeps the opened_at/matures_at invariants intact.
//
// A single upgrade call moves through transient, in-memory states only:
// Idle → Evaluating → {Eligible → Committing → Done | Ineligible → Idle}.
// Nothing persists across calls except the position ledger itself.
//
// All monetary values use shopspring/decimal — never float64 for money.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/accrual"
	"github.com/autogrowth/growth-engine/internal/model"
	"github.com/autogrowth/growth-engine/internal/store"
	"github.com/autogrowth/growth-engine/internal/tier"
)

var (
	// ErrConcurrentUpgrade is returned when another upgrade or claim is
	// already in flight for the same user. Callers may retry after
	// backoff; requests are never queued silently.
	ErrConcurrentUpgrade = errors.New("upgrade: another operation is in flight for this user")

	// ErrNoActivePositions is returned when the user has nothing to
	// upgrade.
	ErrNoActivePositions = errors.New("upgrade: user has no active positions")

	// ErrAlreadyAtTier is returned when every active position already
	// sits at the requested tier, so there is nothing to change.
	ErrAlreadyAtTier = errors.New("upgrade: already at the requested tier")
)

// InsufficientEquityError reports an ineligible upgrade attempt along with
// the shortfall the caller needs to top up.
type InsufficientEquityError struct {
	Equity    decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientEquityError) Error() string {
	return fmt.Sprintf("upgrade: insufficient equity %s for tier minimum %s (shortfall %s)",
		e.Equity, e.Required, e.Shortfall)
}

// Coordinator runs the upgrade flow end to end. Operations for a single
// user are serialized; operations for different users run concurrently.
type Coordinator struct {
	store  store.Store
	engine *accrual.Engine
	locks  *lockRegistry
}

// NewCoordinator creates an upgrade coordinator over the given store and
// accrual engine.
func NewCoordinator(st store.Store, eng *accrual.Engine) *Coordinator {
	return &Coordinator{
		store:  st,
		engine: eng,
		locks:  newLockRegistry(),
	}
}

// Upgrade evaluates and, if eligible, commits a tier change for the user.
//
// Accrual is brought up to date first so the claimable figure is current.
// With autoClaim, accrued ROI counts toward the eligibility check and is
// folded into the new position's principal at commit; without it, equity
// is principal only and accrued ROI on the closed positions is settled to
// the claimed ledger for the wallet subsystem to pay out.
func (c *Coordinator) Upgrade(ctx context.Context, userID string, targetTierID int, autoClaim bool, now time.Time) (*model.UpgradeResult, error) {
	if !c.locks.acquire(userID) {
		return nil, ErrConcurrentUpgrade
	}
	defer c.locks.release(userID)

	// --- Evaluating ---

	if report := c.engine.RunForUser(ctx, userID, now); !report.Success {
		return nil, fmt.Errorf("upgrade: refresh accrual: %s", report.Errors[0])
	}

	tiers, err := c.store.ListTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("upgrade: load catalog: %w", err)
	}
	catalog, err := tier.NewCatalog(tiers)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	target, err := catalog.ByID(targetTierID)
	if err != nil {
		return nil, err
	}

	positions, err := c.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("upgrade: load positions: %w", err)
	}

	equity := decimal.Zero
	claimable := decimal.Zero
	var closeIDs []string
	allAtTarget := true
	for _, p := range positions {
		if p.Status != model.StatusActive || p.Currency != model.CurrencyUSD {
			continue
		}
		equity = equity.Add(p.Principal)
		claimable = claimable.Add(p.AccruedROI)
		closeIDs = append(closeIDs, p.ID)
		if p.TierID != target.ID {
			allAtTarget = false
		}
	}
	if len(closeIDs) == 0 {
		return nil, ErrNoActivePositions
	}
	if allAtTarget {
		return nil, ErrAlreadyAtTier
	}

	effective := equity
	claimed := decimal.Zero
	if autoClaim {
		effective = effective.Add(claimable)
		claimed = claimable
	}

	if !tier.IsEligible(effective, target) {
		// --- Ineligible → Idle ---
		shortfall := tier.Shortfall(effective, target)
		slog.Info("upgrade rejected",
			"user", userID,
			"target_tier", target.ID,
			"equity", effective.String(),
			"shortfall", shortfall.String(),
		)
		return nil, &InsufficientEquityError{
			Equity:    effective,
			Required:  target.MinAmount,
			Shortfall: shortfall,
		}
	}

	// --- Eligible → Committing ---

	newPos := &model.Position{
		ID:         uuid.New().String(),
		UserID:     userID,
		TierID:     target.ID,
		Currency:   model.CurrencyUSD,
		Principal:  effective,
		AccruedROI: decimal.Zero,
		ClaimedROI: decimal.Zero,
		OpenedAt:   now,
		MaturesAt:  now.AddDate(0, 0, target.Days),
		Status:     model.StatusActive,
	}

	if err := c.store.ApplyUpgrade(ctx, userID, closeIDs, newPos); err != nil {
		return nil, fmt.Errorf("upgrade: commit: %w", err)
	}

	slog.Info("tier upgrade committed",
		"user", userID,
		"new_tier", target.ID,
		"position", newPos.ID,
		"principal", effective.String(),
		"claimed", claimed.String(),
		"closed_positions", len(closeIDs),
	)

	// --- Done ---
	return &model.UpgradeResult{
		Success:       true,
		NewTier:       target,
		PositionID:    newPos.ID,
		ClaimedAmount: claimed,
		Equity:        effective,
	}, nil
}

// Claim moves the user's accrued ROI into the claimed ledger as an
// explicit, audited operation. Shares the per-user serialization with
// Upgrade so a claim can never race an in-flight upgrade.
func (c *Coordinator) Claim(ctx context.Context, userID string, now time.Time) (*model.ClaimResult, error) {
	if !c.locks.acquire(userID) {
		return nil, ErrConcurrentUpgrade
	}
	defer c.locks.release(userID)

	if report := c.engine.RunForUser(ctx, userID, now); !report.Success {
		return nil, fmt.Errorf("claim: refresh accrual: %s", report.Errors[0])
	}

	positions, err := c.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("claim: load positions: %w", err)
	}
	claimablePositions := 0
	for _, p := range positions {
		if (p.Status == model.StatusActive || p.Status == model.StatusMatured) && p.AccruedROI.IsPositive() {
			claimablePositions++
		}
	}

	total, err := c.store.ClaimROI(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	slog.Info("roi claimed",
		"user", userID,
		"amount", total.String(),
		"positions", claimablePositions,
	)
	return &model.ClaimResult{
		Success:       true,
		ClaimedAmount: total,
		Positions:     claimablePositions,
	}, nil
}
