package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/openintel/internal/middleware"
	"github.com/hitoshi/openintel/internal/model"
)

// maxSearchBodySize は検索リクエストボディの上限サイズ。
const maxSearchBodySize = 64 << 10

// SearchService は検索ハンドラーが必要とするパイプラインのインターフェース。
type SearchService interface {
	// Handle は調査要求を処理してレポートを返す。
	Handle(ctx context.Context, q model.Query) (*model.Report, error)
}

// SearchHandler は調査要求のHTTPハンドラー。
type SearchHandler struct {
	service SearchService
	logger  *slog.Logger
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(service SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{service: service, logger: logger}
}

// searchRequest は調査要求のリクエストボディ。
type searchRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Consent  bool   `json:"consent"`
}

// Search は調査要求を処理する。
// POST /api/osint/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if !req.Consent {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewConsentRequiredError())
		return
	}

	q, err := model.NewQuery(model.Identifiers{
		Email:    req.Email,
		Phone:    req.Phone,
		Username: req.Username,
		Name:     req.Name,
	}, middleware.ClientKey(r))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError())
		return
	}

	report, err := h.service.Handle(r.Context(), q)
	if err != nil {
		h.handleSearchError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}

// handleSearchError はパイプラインのエラーをHTTPレスポンスに変換する。
func (h *SearchHandler) handleSearchError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *model.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		middleware.WriteRateLimited(w, rateErr.RetryAfter)
	case errors.Is(err, model.ErrInvalidQuery):
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidQueryError())
	case errors.Is(err, model.ErrValidation):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// クライアントが切断済みのため応答は届かない
		h.logger.Info("search request canceled by client",
			slog.String("client", middleware.ClientKey(r)),
		)
	default:
		h.logger.Error("search failed",
			slog.String("client", middleware.ClientKey(r)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
