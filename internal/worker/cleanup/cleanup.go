// Package cleanup は監査ログの保持期間管理ジョブを提供する。
// 保持期間（デフォルト90日）を超過した監査ログを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は監査ログの既定の保持日数。
const DefaultRetentionDays = 90

// Pruner は保持期間を超過したレコードを削除するインターフェース。
// audit.PostgresRepo が満たす。
type Pruner interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// CleanupJob は保持期間を超過した監査ログの削除ジョブ。
// 冪等であり、何度実行しても同じ結果になる。
type CleanupJob struct {
	pruner        Pruner
	logger        *slog.Logger
	RetentionDays int // 監査ログの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(pruner Pruner, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		pruner:        pruner,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Start は指定間隔のティッカーでジョブを繰り返し実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("監査ログクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("監査ログクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過した監査ログを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.pruner.DeleteOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("監査ログクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("監査ログクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("監査ログクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
