package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/openintel/internal/audit"
	"github.com/hitoshi/openintel/internal/middleware"
	"github.com/hitoshi/openintel/internal/model"
)

// HistoryReader は監査ログ履歴の参照インターフェース。
type HistoryReader interface {
	// Recent は新しい順に最大limit件の監査ログを返す。失敗時は空のスライスを返す。
	Recent(ctx context.Context, limit int) []audit.Record
}

// HistoryHandler は監査ログ履歴のHTTPハンドラー。
type HistoryHandler struct {
	history HistoryReader
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(history HistoryReader) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List は監査ログ履歴を返す。
// GET /api/osint/history?limit=N
//
// limitが省略された場合は0として扱い、既定件数の決定はHistoryReaderに委ねる。
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeInvalidRequest,
				Message:  "limitは0以上の整数で指定してください。",
				Category: "validation",
				Action:   "limitパラメータを修正してください。",
			})
			return
		}
		limit = n
	}

	records := h.history.Recent(r.Context(), limit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(records)
}
