// Package accrual implements the daily ROI accrual engine for investment
// positions.
//
// Accrual is whole-day simple interest: each elapsed 24h period since the
// last calculation earns principal × daily_roi, never compounding. The
// engine is idempotent — re-invoking it before a full day has elapsed is a
// no-op — and clamps accrual at the maturity boundary, so a position found
// long past its term still earns exactly its term's worth of ROI before
// being marked matured.
//
// All monetary values use shopspring/decimal — never float64 for money.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
	"github.com/autogrowth/growth-engine/internal/store"
	"github.com/autogrowth/growth-engine/internal/tier"
)

// ErrInvalidState is returned for a position the engine cannot accrue
// (unknown tier reference, malformed timestamps). Such positions are
// logged and skipped; they never abort the rest of a batch.
var ErrInvalidState = errors.New("accrual: position in invalid state")

const day = 24 * time.Hour

// Engine advances ROI accrual and maturity transitions over the position
// ledger. It holds no state of its own; "now" is always injected so runs
// are deterministic and testable.
type Engine struct {
	store store.Store
}

// NewEngine creates an accrual engine over the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Run brings every active position up to date as of now. Per-position
// failures are reported in the result and do not abort the batch; only a
// failure to load the ledger or the catalog marks the run unsuccessful.
func (e *Engine) Run(ctx context.Context, now time.Time) model.AccrualReport {
	report := newReport(now)

	positions, err := e.store.ListActivePositions(ctx)
	if err != nil {
		report.Success = false
		report.Errors = append(report.Errors, fmt.Sprintf("list positions: %v", err))
		return report
	}

	return e.runOver(ctx, report, positions, now)
}

// RunForUser brings one user's active positions up to date as of now.
// Used by the on-demand paths (status view, upgrade) so figures are fresh
// without waiting for the scheduled batch.
func (e *Engine) RunForUser(ctx context.Context, userID string, now time.Time) model.AccrualReport {
	report := newReport(now)

	all, err := e.store.ListUserPositions(ctx, userID)
	if err != nil {
		report.Success = false
		report.Errors = append(report.Errors, fmt.Sprintf("list positions: %v", err))
		return report
	}

	var active []model.Position
	for _, p := range all {
		if p.Status == model.StatusActive {
			active = append(active, p)
		}
	}
	return e.runOver(ctx, report, active, now)
}

func (e *Engine) runOver(ctx context.Context, report model.AccrualReport, positions []model.Position, now time.Time) model.AccrualReport {
	catalog, err := e.loadCatalog(ctx)
	if err != nil {
		report.Success = false
		report.Errors = append(report.Errors, fmt.Sprintf("load catalog: %v", err))
		return report
	}

	for _, p := range positions {
		increment, matured, err := e.accrueOne(ctx, p, catalog, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("position %s: %v", p.ID, err))
			slog.Warn("accrual skipped position", "position", p.ID, "err", err)
			continue
		}
		if increment.IsPositive() || matured {
			report.PositionsUpdated++
			report.ROIDistributed = report.ROIDistributed.Add(increment)
		}
		if matured {
			report.PositionsMatured++
		}
	}

	slog.Info("accrual run complete",
		"run_id", report.RunID,
		"as_of", now,
		"updated", report.PositionsUpdated,
		"matured", report.PositionsMatured,
		"roi_distributed", report.ROIDistributed.String(),
		"errors", len(report.Errors),
	)
	return report
}

// accrueOne advances a single position and persists the result. The write
// is guarded on the position's prior accrual basis, so a racing run (or a
// retry after a partial failure) applies the advance at most once.
func (e *Engine) accrueOne(ctx context.Context, p model.Position, catalog *tier.Catalog, now time.Time) (decimal.Decimal, bool, error) {
	t, err := catalog.ByID(p.TierID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	prevCalc := p.LastROICalc
	increment, matured := Advance(&p, t, now)
	if increment.IsZero() && !matured {
		// Same-day re-invocation: nothing to persist.
		return decimal.Zero, false, nil
	}

	if err := e.store.ApplyAccrual(ctx, &p, prevCalc); err != nil {
		return decimal.Zero, false, err
	}
	return increment, matured, nil
}

// Advance mutates p in memory: it applies whole-day simple interest from
// the accrual basis up to now (clamped at maturity) and flips the status
// to matured when the maturity date has passed. Returns the ROI increment
// and whether the position matured in this advance.
//
// The maturity check is unconditional — it happens even when no full day
// has elapsed since the last calculation.
func Advance(p *model.Position, t model.Tier, now time.Time) (decimal.Decimal, bool) {
	// Never accrue past the maturity boundary.
	cutoff := now
	if cutoff.After(p.MaturesAt) {
		cutoff = p.MaturesAt
	}

	increment := decimal.Zero
	basis := p.AccrualBasis()
	if cutoff.After(basis) {
		elapsedDays := int64(cutoff.Sub(basis) / day)
		if elapsedDays > 0 {
			increment = p.Principal.Mul(t.DailyROI).Mul(decimal.NewFromInt(elapsedDays))
			p.AccruedROI = p.AccruedROI.Add(increment)
			p.LastROICalc = cutoff
		}
	}

	matured := false
	if p.Status == model.StatusActive && !p.MaturesAt.After(now) {
		p.Status = model.StatusMatured
		matured = true
	}
	return increment, matured
}

func (e *Engine) loadCatalog(ctx context.Context) (*tier.Catalog, error) {
	tiers, err := e.store.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	return tier.NewCatalog(tiers)
}

func newReport(now time.Time) model.AccrualReport {
	return model.AccrualReport{
		RunID:          uuid.New().String(),
		RanAt:          now,
		Success:        true,
		ROIDistributed: decimal.Zero,
	}
}
