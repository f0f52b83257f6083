// Package cleanup は期限切れログイントークンの自動削除ジョブを提供する。
// expires_atを過ぎたトークンを定期バッチで削除し、セッション解決側の
// 期限フィルタと合わせて失効済みトークンが残存しないことを保証する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenDeleter は期限切れトークンの削除を抽象化するインターフェース。
// repository.TokenRepositoryが満たす。
type TokenDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れログイントークンの自動削除ジョブ。
// worker モードから定期実行される。冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	tokens TokenDeleter
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(tokens TokenDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		tokens: tokens,
		logger: logger,
	}
}

// Run は期限切れトークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.tokens.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れトークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れトークンのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
