// Package logger はアプリケーション全体で使うJSON構造化ロガーを組み立てる。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は秘匿属性の値の置き換え文字列。
const Redacted = "[REDACTED]"

// secretKeyFragments を含む属性キーは値を出力しない。
var secretKeyFragments = []string{"password", "secret", "token", "authorization", "cookie", "api_key"}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はinfo。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON出力のslog.Loggerを返す。
// パスワードやトークンなどキー名から秘匿と判断できる属性は値を伏せる。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	}))
}

// SetupDefault はSetupのロガーをslogのデフォルトに設定して返す。wがnilならos.Stdout。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, level)
	slog.SetDefault(l)
	return l
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(key, frag) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}
