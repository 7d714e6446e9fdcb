// Package queue はエクスポートジョブ作成をレンダリングワーカーへ通知する仕組みを提供する。
// ジョブ自体はoutputsテーブルが保持し、ここで扱うのは起床通知のみ。
// 通知が失われてもワーカーは定期ポーリングでジョブを取得する。
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey は通知に使用するRedisリストのキー。
const DefaultKey = "designstudio:render:wakeup"

// maxPending は通知リストに保持する最大件数。
const maxPending = 1000

// Notifier はジョブ作成の通知を送る。
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

// Waiter は通知が届くかタイムアウトするまで待機する。
// 通知を受け取った場合はtrueを返す。
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

// ListClient はRedisNotifierが使用するRedisコマンドのインターフェース。
type ListClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// RedisNotifier はRedisリストを使ったNotifier/Waiterの実装。
type RedisNotifier struct {
	client ListClient
	key    string
}

// NewRedisNotifier はRedisNotifierを生成する。
func NewRedisNotifier(client ListClient, key string) *RedisNotifier {
	if key == "" {
		key = DefaultKey
	}
	return &RedisNotifier{client: client, key: key}
}

// Connect はREDIS_URLからクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return client, nil
}

// Notify はジョブIDを通知リストへ追加する。
func (n *RedisNotifier) Notify(ctx context.Context, jobID string) error {
	if err := n.client.LPush(ctx, n.key, jobID).Err(); err != nil {
		return fmt.Errorf("レンダリング通知の送信に失敗: %w", err)
	}
	if err := n.client.LTrim(ctx, n.key, 0, maxPending-1).Err(); err != nil {
		return fmt.Errorf("通知リストの切り詰めに失敗: %w", err)
	}
	return nil
}

// Wait は通知が届くまで最大timeoutだけブロックする。
func (n *RedisNotifier) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	err := n.client.BRPop(ctx, timeout, n.key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("レンダリング通知の受信に失敗: %w", err)
	}
	return true, nil
}

// NoopNotifier はRedis未設定時に使用する何もしないNotifier。
type NoopNotifier struct{}

// Notify は何もしない。
func (NoopNotifier) Notify(ctx context.Context, jobID string) error { return nil }

// compile-time interface check
var (
	_ Notifier = (*RedisNotifier)(nil)
	_ Waiter   = (*RedisNotifier)(nil)
	_ Notifier = NoopNotifier{}
)
