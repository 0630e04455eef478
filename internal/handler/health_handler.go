package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/authskeleton/internal/middleware"
	"github.com/hitoshi/authskeleton/internal/model"
	"github.com/hitoshi/authskeleton/internal/repository"
)

// HealthHandler はストアへの疎通を含むヘルスチェックを提供する。
type HealthHandler struct {
	store repository.HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(store repository.HealthChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health はストアにpingし、成功すれば200を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
