package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAssetTooLarge はアセットのサイズが上限を超えた場合のエラー。
var ErrAssetTooLarge = errors.New("asset exceeds maximum size")

// AssetFetcher はテンプレートの背景画像や画像要素をSSRF防止付きで取得する。
// レンダリングワーカーから使用される。
type AssetFetcher struct {
	guard   SSRFGuardService
	timeout time.Duration
	maxSize int64
}

// NewAssetFetcher はAssetFetcherを生成する。
func NewAssetFetcher(guard SSRFGuardService, timeout time.Duration, maxSize int64) *AssetFetcher {
	return &AssetFetcher{
		guard:   guard,
		timeout: timeout,
		maxSize: maxSize,
	}
}

// Fetch はURLの事前検証を行った上でアセットを取得し、本体のバイト列を返す。
// 2xx以外のステータス、上限超過のレスポンスはエラーになる。
func (f *AssetFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("アセットURLの検証に失敗: %w", err)
	}

	client := f.guard.NewSafeClient(f.timeout, f.maxSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "DesignStudio/1.0 Renderer")
	req.Header.Set("Accept", "image/png, image/jpeg, image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("アセットの取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("アセットの取得に失敗: HTTPステータス %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxSize {
		return nil, ErrAssetTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("アセットの読み込みに失敗: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, ErrAssetTooLarge
	}
	return body, nil
}
