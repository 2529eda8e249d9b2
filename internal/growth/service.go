// Package growth provides the HTTP handlers and orchestration for the
// position accrual and tier engine: accrual triggers, per-user growth
// status, position opening, ROI claims, and tier upgrades.
//
// All monetary values use shopspring/decimal — never float64 for money.
package growth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/accrual"
	"github.com/autogrowth/growth-engine/internal/auth"
	"github.com/autogrowth/growth-engine/internal/metrics"
	"github.com/autogrowth/growth-engine/internal/model"
	"github.com/autogrowth/growth-engine/internal/store"
	"github.com/autogrowth/growth-engine/internal/tier"
	"github.com/autogrowth/growth-engine/internal/upgrade"
)

// Service handles engine operations over HTTP. Pure tier resolution needs
// no locking; accrual and upgrades serialize per user further down the
// stack (lock registry + guarded store writes).
type Service struct {
	store  store.Store
	engine *accrual.Engine
	coord  *upgrade.Coordinator
	hub    *EventHub // optional; nil disables broadcasting
}

// NewService creates a new growth service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *accrual.Engine, coord *upgrade.Coordinator, hub *EventHub) *Service {
	return &Service{
		store:  st,
		engine: eng,
		coord:  coord,
		hub:    hub,
	}
}

// --- Request/Response types ---

// TriggerRequest is the JSON body for POST /accrual/trigger. The optional
// now override keeps scheduled and backfill invocations deterministic.
type TriggerRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	TierID   int             `json:"tier_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"` // defaults to USD
}

// UpgradeRequest is the JSON body for POST /upgrade.
type UpgradeRequest struct {
	TargetTierID int  `json:"target_tier_id"`
	AutoClaimROI bool `json:"auto_claim_roi"`
}

// UpgradeFailure is returned when an upgrade is rejected for a business
// reason; Shortfall is present for insufficient-equity rejections so the
// caller can present a top-up amount.
type UpgradeFailure struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"`
	Equity    *decimal.Decimal `json:"equity,omitempty"`
	Required  *decimal.Decimal `json:"required,omitempty"`
}

// TierView is a catalog entry annotated for display.
type TierView struct {
	model.Tier
	TermDays int `json:"term_days"`
}

// --- HTTP Handlers ---

// TriggerAccrual handles POST /api/v1/accrual/trigger.
// Idempotent: re-invocation within the same day distributes nothing new.
func (s *Service) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	report := s.engine.Run(r.Context(), now)
	s.recordAccrual(report)

	status := http.StatusOK
	if !report.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

// GetStatus handles GET /api/v1/status.
// Read-only snapshot: totals, tier membership, and the next tier's
// shortfall for the authenticated user.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		writeError(w, "failed to load tier catalog", http.StatusInternalServerError)
		return
	}
	positions, err := s.store.ListUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, buildStatus(userID, positions, catalog))
}

// ListTiers handles GET /api/v1/tiers.
func (s *Service) ListTiers(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.loadCatalog(r.Context())
	if err != nil {
		writeError(w, "failed to load tier catalog", http.StatusInternalServerError)
		return
	}

	views := make([]TierView, 0, len(catalog.Tiers()))
	for _, t := range catalog.Tiers() {
		views = append(views, TierView{Tier: t, TermDays: t.Days})
	}
	writeJSON(w, http.StatusOK, views)
}

// OpenPosition handles POST /api/v1/positions.
// The engine-side half of the purchase flow: validates the amount against
// the tier's bounds and stamps the immutable open/maturity timestamps.
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = model.CurrencyUSD
	}

	ctx := r.Context()
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		writeError(w, "failed to load tier catalog", http.StatusInternalServerError)
		return
	}
	t, err := catalog.ByID(req.TierID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if req.Amount.LessThan(t.MinAmount) || (!t.Unbounded() && req.Amount.GreaterThan(t.MaxAmount)) {
		writeError(w, "amount outside tier bounds", http.StatusConflict)
		return
	}

	now := time.Now().UTC()
	position := &model.Position{
		ID:         uuid.New().String(),
		UserID:     userID,
		TierID:     t.ID,
		Currency:   currency,
		Principal:  req.Amount,
		AccruedROI: decimal.Zero,
		ClaimedROI: decimal.Zero,
		OpenedAt:   now,
		MaturesAt:  now.AddDate(0, 0, t.Days),
		Status:     model.StatusActive,
	}
	if err := s.store.CreatePosition(ctx, position); err != nil {
		writeError(w, "failed to create position", http.StatusInternalServerError)
		return
	}

	metrics.PositionsOpenedTotal.WithLabelValues(strconv.Itoa(t.ID)).Inc()
	slog.Info("position opened",
		"position", position.ID,
		"user", userID,
		"tier", t.ID,
		"principal", req.Amount.String(),
		"matures_at", position.MaturesAt,
	)
	s.emit(Event{
		Type:       EventPositionOpened,
		UserID:     userID,
		PositionID: position.ID,
		TierID:     t.ID,
		Amount:     req.Amount.String(),
	})

	writeJSON(w, http.StatusCreated, position)
}

// UpgradeTier handles POST /api/v1/upgrade.
func (s *Service) UpgradeTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.coord.Upgrade(r.Context(), userID, req.TargetTierID, req.AutoClaimROI, time.Now().UTC())
	if err != nil {
		s.writeUpgradeError(w, err)
		return
	}

	metrics.UpgradesTotal.WithLabelValues("committed").Inc()
	s.emit(Event{
		Type:       EventTierUpgraded,
		UserID:     userID,
		PositionID: result.PositionID,
		TierID:     result.NewTier.ID,
		Amount:     result.Equity.String(),
	})
	writeJSON(w, http.StatusOK, result)
}

// ClaimROI handles POST /api/v1/claim.
func (s *Service) ClaimROI(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	result, err := s.coord.Claim(r.Context(), userID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, upgrade.ErrConcurrentUpgrade) {
			writeError(w, "concurrent operation in flight", http.StatusConflict)
			return
		}
		writeError(w, "failed to claim roi", http.StatusInternalServerError)
		return
	}

	metrics.ClaimsTotal.Inc()
	s.emit(Event{
		Type:   EventROIClaimed,
		UserID: userID,
		Amount: result.ClaimedAmount.String(),
	})
	writeJSON(w, http.StatusOK, result)
}

// SystemStats handles GET /api/v1/stats.
func (s *Service) SystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.SystemStats(r.Context())
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

func (s *Service) writeUpgradeError(w http.ResponseWriter, err error) {
	var insufficient *upgrade.InsufficientEquityError
	switch {
	case errors.As(err, &insufficient):
		metrics.UpgradesTotal.WithLabelValues("insufficient_equity").Inc()
		writeJSON(w, http.StatusConflict, UpgradeFailure{
			Error:     "insufficient_equity",
			Shortfall: &insufficient.Shortfall,
			Equity:    &insufficient.Equity,
			Required:  &insufficient.Required,
		})
	case errors.Is(err, upgrade.ErrConcurrentUpgrade), errors.Is(err, store.ErrConflict):
		metrics.UpgradesTotal.WithLabelValues("conflict").Inc()
		writeJSON(w, http.StatusConflict, UpgradeFailure{Error: "concurrent_modification"})
	case errors.Is(err, tier.ErrUnknownTier):
		metrics.UpgradesTotal.WithLabelValues("rejected").Inc()
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, upgrade.ErrNoActivePositions):
		metrics.UpgradesTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusConflict, UpgradeFailure{Error: "no_active_positions"})
	case errors.Is(err, upgrade.ErrAlreadyAtTier):
		metrics.UpgradesTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusConflict, UpgradeFailure{Error: "already_at_tier"})
	default:
		metrics.UpgradesTotal.WithLabelValues("error").Inc()
		slog.Error("upgrade failed", "err", err)
		writeError(w, "upgrade failed", http.StatusInternalServerError)
	}
}

// recordAccrual updates metrics and broadcasts the run outcome.
func (s *Service) recordAccrual(report model.AccrualReport) {
	status := "success"
	if !report.Success {
		status = "failure"
	}
	metrics.AccrualRunsTotal.WithLabelValues(status).Inc()
	metrics.ROIDistributedTotal.Add(report.ROIDistributed.InexactFloat64())
	metrics.PositionsMaturedTotal.Add(float64(report.PositionsMatured))

	s.emit(Event{
		Type:             EventAccrualCompleted,
		Amount:           report.ROIDistributed.String(),
		PositionsUpdated: report.PositionsUpdated,
		PositionsMatured: report.PositionsMatured,
	})
}

// RunScheduledAccrual is invoked by the in-process scheduler; it shares
// the metrics/broadcast path with the HTTP trigger.
func (s *Service) RunScheduledAccrual(ctx context.Context, now time.Time) model.AccrualReport {
	report := s.engine.Run(ctx, now)
	s.recordAccrual(report)
	return report
}

func (s *Service) loadCatalog(ctx context.Context) (*tier.Catalog, error) {
	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	return tier.NewCatalog(tiers)
}

func (s *Service) emit(event Event) {
	if s.hub != nil {
		s.hub.Broadcast(event)
	}
}

// buildStatus aggregates a user's non-closed positions into the display
// snapshot. Equity for tier resolution counts active USD principal only;
// totals cover active and matured positions.
func buildStatus(userID string, positions []model.Position, catalog *tier.Catalog) *model.GrowthStatus {
	status := &model.GrowthStatus{
		UserID:           userID,
		TotalInvested:    decimal.Zero,
		TotalAccruedROI:  decimal.Zero,
		CurrentValue:     decimal.Zero,
		OverallROIPct:    decimal.Zero,
		UpgradeShortfall: decimal.Zero,
		Positions:        []model.Position{},
	}

	equity := decimal.Zero
	for _, p := range positions {
		switch p.Status {
		case model.StatusActive:
			status.ActivePositions++
			if p.Currency == model.CurrencyUSD {
				equity = equity.Add(p.Principal)
			}
		case model.StatusMatured:
			status.MaturedPositions++
		default:
			continue
		}
		// A matured position is still the user's money until it is closed,
		// so its principal stays in the invested total.
		status.TotalInvested = status.TotalInvested.Add(p.Principal)
		status.TotalAccruedROI = status.TotalAccruedROI.Add(p.AccruedROI)
		status.Positions = append(status.Positions, p)
	}

	status.CurrentValue = status.TotalInvested.Add(status.TotalAccruedROI)
	if status.TotalInvested.IsPositive() {
		status.OverallROIPct = status.TotalAccruedROI.
			Div(status.TotalInvested).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	status.CurrentTier = catalog.Current(equity)
	if next := catalog.Next(status.CurrentTier); next != nil {
		status.NextTier = next
		status.UpgradeShortfall = tier.Shortfall(equity, *next)
	}
	return status
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
