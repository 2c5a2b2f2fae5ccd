package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/openintel/internal/model"
)

// 履歴取得件数の既定値と上限。
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// History は監査ログの参照を提供する。
type History struct {
	repo         Repository
	defaultLimit int
	logger       *slog.Logger
}

// NewHistory は新しいHistoryを生成する。
// defaultLimitが0以下の場合はDefaultHistoryLimitを使用する。
func NewHistory(repo Repository, defaultLimit int, logger *slog.Logger) *History {
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &History{repo: repo, defaultLimit: defaultLimit, logger: logger}
}

// Recent は新しい順に最大limit件の監査ログを返す。
// limitが0以下の場合は既定値、上限を超える場合はMaxHistoryLimitに丸める。
// 取得に失敗した場合は空のスライスを返す。
func (h *History) Recent(ctx context.Context, limit int) []Record {
	if limit <= 0 {
		limit = h.defaultLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records, err := h.repo.ListRecent(ctx, limit)
	if err != nil {
		if !errors.Is(err, model.ErrPersistenceUnavailable) {
			h.logger.Error("監査ログ履歴の取得に失敗しました",
				slog.Int("limit", limit),
				slog.String("error", err.Error()),
			)
		}
		return []Record{}
	}
	if records == nil {
		return []Record{}
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
