package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// defaultGoogleIssuer はGoogleのOIDC issuer URL。
// ディスカバリドキュメントは {issuer}/.well-known/openid-configuration から取得される。
const defaultGoogleIssuer = "https://accounts.google.com"

// defaultExchangeTimeout は外部IdPとのHTTP通信のデフォルトタイムアウト。
// タイムアウトは認証失敗として扱い、無期限に待たない。
const defaultExchangeTimeout = 10 * time.Second

// GoogleOIDCConfig はGoogle OIDCプロバイダーの設定。
type GoogleOIDCConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Issuer はテスト用にモックIdPへ差し替え可能。空の場合はGoogle。
	Issuer string

	// Timeout はディスカバリ・トークン交換・鍵取得のHTTPタイムアウト。
	Timeout time.Duration

	// HTTPClient はアウトバウンド通信に使用するクライアント。
	// 本番ではsecurity.URLGuardServiceのSSRF防止クライアントを渡す。
	// nilの場合はTimeout付きの素のクライアントを使用する。
	HTTPClient *http.Client
}

// GoogleOIDCProvider はOIDCディスカバリに基づくGoogle認証プロバイダー。
// IDトークンの署名・発行者・audience・有効期限の検証はgo-oidcのVerifierが
// ディスカバリドキュメントの公開鍵セットを用いて行う。
type GoogleOIDCProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	httpClient   *http.Client
	timeout      time.Duration
}

// NewGoogleOIDCProvider はディスカバリドキュメントを取得してプロバイダーを生成する。
// ディスカバリは起動時に1回だけ行い、失敗した場合は起動エラーとする。
func NewGoogleOIDCProvider(ctx context.Context, config GoogleOIDCConfig) (*GoogleOIDCProvider, error) {
	issuer := config.Issuer
	if issuer == "" {
		issuer = defaultGoogleIssuer
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	discoveryCtx = oidc.ClientContext(discoveryCtx, httpClient)

	provider, err := oidc.NewProvider(discoveryCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", issuer, err)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	return &GoogleOIDCProvider{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		httpClient:   httpClient,
		timeout:      timeout,
	}, nil
}

// GetLoginURL はOIDC認可エンドポイントのURLを生成する。
// スコープはopenid, email, profile。stateはCSRF対策用の値で、
// コールバック時にブラウザ側の署名付きCookieと突き合わせて検証される。
func (p *GoogleOIDCProvider) GetLoginURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証して
// 本人確認情報（subjectとemail）を取り出す。
// コードの不正・期限切れ、IDトークンの欠落・検証失敗はすべてエラーとなり、
// 呼び出し側で認証失敗として扱われる。ゲスト扱いへのフォールバックはしない。
func (p *GoogleOIDCProvider) ExchangeCode(ctx context.Context, code string) (*IdentityAssertion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// oauth2とgo-oidcの両方にHTTPクライアントを注入する
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	ctx = oidc.ClientContext(ctx, p.httpClient)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("id_token not found in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if idToken.Subject == "" {
		return nil, fmt.Errorf("empty sub claim in ID token")
	}

	return &IdentityAssertion{
		Subject: idToken.Subject,
		Email:   claims.Email,
	}, nil
}

// compile-time interface check
var _ OIDCProvider = (*GoogleOIDCProvider)(nil)
