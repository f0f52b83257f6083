// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/securecookie"

	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
)

// loginStateCookie はログインフロー中の状態（CSRF対策のstateと
// ログイン後のリダイレクト先）を保持する署名付きCookieの名前。
const loginStateCookie = "login_state"

// loginStateMaxAge はログイン状態Cookieの有効期間（秒）。
// IdPとの往復1回分だけ生存すればよい。
const loginStateMaxAge = 600

// loginState はIdPとの往復の間ブラウザ側に預ける状態。
// securecookieでHMAC署名されるため、改ざんされるとデコードに失敗する。
// リダイレクト先をIdP経由の平文パラメータで運ばないための仕組み。
type loginState struct {
	State    string
	Redirect string
}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.LoginToken, error)
	Logout(ctx context.Context, tokenID string) error
}

// RedirectValidator はログイン後リダイレクト先の検証インターフェース。
// security.URLGuardServiceの部分集合として定義する。
type RedirectValidator interface {
	ValidateRedirect(rawRedirect, baseURL string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
	TokenMaxAge  int // セッショントークンCookieの有効期間（秒）
}

// AuthHandler はOIDC認証関連のHTTPハンドラー。
type AuthHandler struct {
	service    AuthServiceInterface
	validator  RedirectValidator
	stateCodec *securecookie.SecureCookie
	config     AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// stateCodecはSESSION_SECRET由来の鍵で構築された署名用コーデック。
func NewAuthHandler(
	service AuthServiceInterface,
	validator RedirectValidator,
	stateCodec *securecookie.SecureCookie,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:    service,
		validator:  validator,
		stateCodec: stateCodec,
		config:     config,
	}
}

// Login はGoogle OIDCフローを開始する。
// GET /login/google?redirect=<url>
// redirectパラメータは検証のうえ署名付きCookieに保存し、
// コールバック時に読み出して消費する（IdP経由では運ばない）。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = h.config.BaseURL
	} else if err := h.validator.ValidateRedirect(redirect, h.config.BaseURL); err != nil {
		slog.Warn("login redirect rejected",
			slog.String("redirect", redirect),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRedirectError())
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	encoded, err := h.stateCodec.Encode(loginStateCookie, &loginState{
		State:    state,
		Redirect: redirect,
	})
	if err != nil {
		slog.Error("failed to encode login state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 署名付きログイン状態をCookieに保存（CSRF対策 + リダイレクト先の持ち回り）
	http.SetCookie(w, &http.Cookie{
		Name:     loginStateCookie,
		Value:    encoded,
		Path:     "/",
		MaxAge:   loginStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOIDCコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. 署名付きログイン状態の読み出し（改ざんされていればデコード失敗）
	stateCookie, err := r.Cookie(loginStateCookie)
	if err != nil {
		http.Error(w, "missing login state", http.StatusBadRequest)
		return
	}

	var stored loginState
	if err := h.stateCodec.Decode(loginStateCookie, stateCookie.Value, &stored); err != nil {
		slog.Warn("login state cookie rejected", slog.String("error", err.Error()))
		http.Error(w, "invalid login state", http.StatusBadRequest)
		return
	}

	// 2. ログイン状態Cookieは1往復で消費する（read-then-clear）。
	// 後続の無関係なログインに漏れ出さないよう、検証結果に関わらず破棄する。
	h.clearLoginStateCookie(w)

	// 3. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	if state == "" || stored.State != state {
		slog.Warn("oauth state mismatch")
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// 4. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 5. 交換・紐付け・トークン発行
	// 失敗時はユーザーもトークンも作成されない（ゲスト扱いにもしない）
	token, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oidc callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewLoginFailedError())
		return
	}

	// 6. セッショントークンCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    token.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.TokenMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 7. ログイン前に要求されたリダイレクト先へ
	http.Redirect(w, r, stored.Redirect, http.StatusTemporaryRedirect)
}

// Logout はセッションを終了する。
// GET /logout
// クライアント側のCookieクリアに加えて、サーバー側のトークンレコードも
// 失効させる。Cookieクリアだけではベアラ値が有効なまま残るため。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			slog.Error("failed to revoke token", slog.String("error", err.Error()))
			// 失効に失敗してもCookieはクリアする
		}
	}

	// セッショントークンCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。
// GET /me
// SessionMiddleware + RequireAuthの後段に配置され、
// 匿名リクエストは境界で401に変換済み。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
	})
}

// clearLoginStateCookie はログイン状態Cookieを破棄する。
func (h *AuthHandler) clearLoginStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     loginStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
