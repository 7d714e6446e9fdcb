// Package security はテンプレート由来の外部入力を扱う際の防御機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL はアセットURLが取得対象として許可されない場合のエラー。
var ErrUnsafeURL = errors.New("unsafe asset URL")

const maxAssetRedirects = 3

// SSRFGuardService はアセットURLの検証と、検証済みクライアントの生成を行う。
// レンダリングワーカーのアセット取得で、取得前の検証と実際の接続の両方に使われる。
type SSRFGuardService interface {
	// NewSafeClient はダイアル時に接続先IPを検査するHTTPクライアントを返す。
	// DNS解決後のアドレスを検査するため、DNS再バインディングも防げる。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を行わない静的な検証を行い、拒否した場合はErrUnsafeURLをラップして返す。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は公開インターネット上のアセットとしてあり得ないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドのメタデータIPを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// blockedHostSuffixes に一致するホスト名はクラスタ内部の名前解決に使われる。
var blockedHostSuffixes = []string{".localhost", ".internal", ".local"}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの実装を返す。
func NewSSRFGuard() SSRFGuardService {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlのクライアントを返す。接続先は80/443番ポートのみ許可し、
// リダイレクトはmaxAssetRedirects回までに制限する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(config).Client
	inner := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxAssetRedirects {
			return fmt.Errorf("%w: too many redirects", ErrUnsafeURL)
		}
		if err := g.ValidateURL(req.URL.String()); err != nil {
			return err
		}
		if inner != nil {
			return inner(req, via)
		}
		return nil
	}
	return client
}

// ValidateURL はスキーム、認証情報、ポート、ホストを静的に検証する。
// 名前解決後のIPはNewSafeClient側で検査される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme %q", ErrUnsafeURL, scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrUnsafeURL)
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		return fmt.Errorf("%w: disallowed port %s", ErrUnsafeURL, port)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, addr)
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

// isBlockedAddr はIPv4射影アドレスを展開してから範囲を照合する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
