package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	maxUserInfoBytes         = 64 << 10
)

// ErrUnverifiedEmail はIdPがメールアドレスの所有を確認していない場合のエラー。
// 未確認のアドレスではアカウントを作成しない。
var ErrUnverifiedEmail = errors.New("oauth email is not verified")

// GoogleOAuthConfig はGoogleログインの設定。AuthURL、TokenURL、UserInfoURLはテストで差し替える。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider はGoogleのOpenID Connectでユーザーを識別する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := google.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	p := &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: config.UserInfoURL,
	}
	if p.userInfoURL == "" {
		p.userInfoURL = defaultGoogleUserInfoURL
	}
	return p
}

// GetLoginURL は同意画面へのURLを返す。ログインにしか使わないのでリフレッシュトークンは要求しない。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ExchangeCode は認可コードをトークンに交換し、userinfoエンドポイントからユーザーを取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if !info.EmailVerified {
		return nil, ErrUnverifiedEmail
	}

	return &OAuthUserInfo{
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           info.Name,
		Image:          info.Picture,
		Provider:       "google",
	}, nil
}

func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxUserInfoBytes)
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, snippet)
	}

	var info googleUserInfo
	if err := json.NewDecoder(body).Decode(&info); err != nil {
		return nil, fmt.Errorf("invalid userinfo response: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo response is missing sub or email")
	}
	return &info, nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
