package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/plancheckout/internal/database"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db database.Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db database.Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health はDBへの疎通を確認し、結果を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := database.Ping(r.Context(), h.db, healthCheckTimeout); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
}
