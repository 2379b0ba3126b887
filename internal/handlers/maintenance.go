package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const defaultSweepBatch = 500

// IdempotencySweeper removes expired idempotency records.
type IdempotencySweeper interface {
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// MaintenanceHandlers exposes scheduler-triggered housekeeping under /internal.
type MaintenanceHandlers struct {
	sweeper   IdempotencySweeper
	batchSize int
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// MaintenanceOption customises MaintenanceHandlers.
type MaintenanceOption func(*MaintenanceHandlers)

// WithMaintenanceClock overrides the clock used for expiry decisions.
func WithMaintenanceClock(clock func() time.Time) MaintenanceOption {
	return func(h *MaintenanceHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithMaintenanceLogger records sweep outcomes.
func WithMaintenanceLogger(logger func(ctx context.Context, event string, fields map[string]any)) MaintenanceOption {
	return func(h *MaintenanceHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewMaintenanceHandlers constructs maintenance handlers. A non-positive batch uses the default.
func NewMaintenanceHandlers(sweeper IdempotencySweeper, batchSize int, opts ...MaintenanceOption) *MaintenanceHandlers {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	h := &MaintenanceHandlers{
		sweeper:   sweeper,
		batchSize: batchSize,
		clock:     time.Now,
		logger:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers maintenance endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "idempotency store not configured", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.sweeper.Sweep(ctx, h.clock().UTC(), h.batchSize)
	if err != nil {
		h.logger(ctx, "maintenance.idempotency.sweep_failed", map[string]any{"error": err.Error(), "removed": removed})
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "failed to sweep idempotency records", http.StatusInternalServerError))
		return
	}
	h.logger(ctx, "maintenance.idempotency.swept", map[string]any{"removed": removed})
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed})
}
