package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig はコネクションプールの上限設定。ゼロ値の項目はdatabase/sqlの既定値のままにする。
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig はAPIとワーカーで共通の既定値を返す。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (p PoolConfig) apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}

// Open はPostgreSQLへのハンドルを既定のプール設定で開く。
// 接続は行わないため、疎通確認はConnectかdb.Pingで行う。
func Open(databaseURL string) (*sql.DB, error) {
	return OpenWithPool(databaseURL, DefaultPoolConfig())
}

// OpenWithPool はプール設定を指定してハンドルを開く。
func OpenWithPool(databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.apply(db)
	return db, nil
}

// Connect はハンドルを開き、ctxが終わるまで指数バックオフでPingを繰り返す。
// コンテナ同時起動でDBの準備が遅れる場合に使う。
func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := OpenWithPool(databaseURL, pool)
	if err != nil {
		return nil, err
	}

	backoff := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		slog.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}
