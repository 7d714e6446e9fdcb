package render

import (
	"errors"
	"time"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（10分）。
	maxBackoff = 10 * time.Minute
)

// ジョブに記録してクライアントへ返す失敗メッセージ。原因の詳細はログにのみ出力する。
const (
	retryingMessage     = "一時的なエラーが発生したため、出力を再試行しています。"
	failedMessage       = "出力に失敗しました。時間をおいて再度お試しください。"
	unrenderableMessage = "デザインまたはテンプレートが見つからないため出力できませんでした。"
)

// CalculateBackoff は試行回数に基づいて再試行までの遅延を計算する。
// 1回目の失敗後は30秒、以降2倍ずつ増加し、最大10分。
func CalculateBackoff(attempts int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ShouldRetry は失敗したジョブを再度キューに戻すかを判定する。
// attemptsは今回の試行を含む試行回数。
func ShouldRetry(attempts, maxAttempts int) bool {
	return attempts < maxAttempts
}

// failureMessage は失敗の原因をクライアント向けの固定メッセージに置き換える。
func failureMessage(cause error, final bool) string {
	switch {
	case errors.Is(cause, errPermanent):
		return unrenderableMessage
	case final:
		return failedMessage
	default:
		return retryingMessage
	}
}
