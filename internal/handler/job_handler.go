package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type Dispatcher interface {
	Run(ctx context.Context) (service.DispatchSummary, error)
}

type Reconciler interface {
	Run(ctx context.Context) (service.ReconcileSummary, error)
}

// JobHandler exposes the periodic jobs to an external scheduler.
type JobHandler struct {
	Dispatcher Dispatcher
	Reconciler Reconciler
	Log        *zap.Logger
}

// Dispatch runs one dispatch pass and returns its summary.
func (h *JobHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Dispatcher.Run(r.Context())
	if err != nil {
		logger.OrNop(h.Log).Error("dispatch job failed", zap.Error(err))
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// Reconcile runs one reply reconciliation pass and returns its summary.
func (h *JobHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reconciler.Run(r.Context())
	if err != nil {
		logger.OrNop(h.Log).Error("reconcile job failed", zap.Error(err))
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
