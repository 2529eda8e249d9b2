// Package store defines the persistence interface for the growth engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

var (
	// ErrNotFound is returned when a tier or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a guarded write observes state that
	// changed underneath it (stale accrual basis, position no longer
	// active). Callers surface this as a concurrent-modification failure.
	ErrConflict = errors.New("store: conflicting concurrent update")
)

// Store is the persistence interface for the position ledger and the tier
// catalog. PostgreSQL is the source of truth; Redis provides a read-through
// cache layer.
type Store interface {
	// --- Tier catalog (administered externally, read-mostly) ---

	// CreateTier inserts a catalog row. Used only for first-boot seeding.
	CreateTier(ctx context.Context, t *model.Tier) error

	// ListTiers returns the full catalog.
	ListTiers(ctx context.Context) ([]model.Tier, error)

	// --- Position ledger ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListActivePositions returns every active position across all users.
	ListActivePositions(ctx context.Context) ([]model.Position, error)

	// ListUserPositions returns all positions owned by one user.
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ApplyAccrual persists one position's accrual advance (new AccruedROI,
	// LastROICalc, and Status taken from p). The write is guarded on
	// prevCalc matching the stored last_roi_calculation, so a retried or
	// concurrent run can never double-count; a stale guard returns
	// ErrConflict.
	ApplyAccrual(ctx context.Context, p *model.Position, prevCalc time.Time) error

	// ClaimROI moves accrued ROI into claimed ROI for all of the user's
	// active and matured positions, returning the total amount claimed.
	ClaimROI(ctx context.Context, userID string) (decimal.Decimal, error)

	// ApplyUpgrade atomically closes the given positions (which must still
	// be active) and opens the replacement position at the new tier. Any
	// position that is no longer active aborts the whole transaction with
	// ErrConflict.
	ApplyUpgrade(ctx context.Context, userID string, closeIDs []string, newPos *model.Position) error

	// SystemStats aggregates engine-wide totals.
	SystemStats(ctx context.Context) (*model.SystemStats, error)
}
