// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はデザインの変数値やテンプレートのテキストから
// マークアップを除去する。値は画像やPDFに描画されるプレーンテキストとして扱うため、
// bluemondayのStrictPolicyで全てのタグを落とし、エスケープされた文字参照を元に戻す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
// デザイン保存前とテンプレート登録時に使用される。
type ContentSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleタグは中身ごと除去される。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string

	// SanitizeVariables はデザイン変数の全ての値にSanitizeTextを適用した新しいマップを返す。
	SanitizeVariables(vars map[string]string) map[string]string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは & < > 等を文字参照に変換するため、描画用に元へ戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(cleaned)
}

// SanitizeVariables はデザイン変数の全ての値をサニタイズする。
func (s *contentSanitizer) SanitizeVariables(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = s.SanitizeText(v)
	}
	return out
}
