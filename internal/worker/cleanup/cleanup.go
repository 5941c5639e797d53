// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 期限切れセッションは参照時にも無効として扱われるため、このジョブは
// ストアの肥大化を防ぐためだけに動作する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beatmiles/beatmiles/internal/metrics"
)

// ExpiredSessionDeleter は期限切れセッションを削除するインターフェース。
// repository.SessionRepository が実装する。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionSweepJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type SessionSweepJob struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewSessionSweepJob は新しいSessionSweepJobを生成する。
func NewSessionSweepJob(sessions ExpiredSessionDeleter, logger *slog.Logger, m metrics.MetricsCollector) *SessionSweepJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &SessionSweepJob{
		sessions: sessions,
		logger:   logger,
		metrics:  m,
		Interval: time.Hour,
	}
}

// Run は期限切れセッションを1回削除する。
func (j *SessionSweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	j.metrics.RecordSessionsSwept(int(deleted))
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
func (j *SessionSweepJob) Start(ctx context.Context) {
	j.runLogged(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunのエラーをログに記録済みとして扱い、ループを継続させる。
func (j *SessionSweepJob) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = j.Run(ctx)
}
