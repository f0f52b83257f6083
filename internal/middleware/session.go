// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/projecthub/internal/model"
)

const (
	// TokenCookieName はセッショントークンを保持するCookieの名前。
	TokenCookieName = "session_token"
	// TokenHeaderName はセッショントークンを受け取るヘッダーの名前。
	// Cookieと同名。両方が提示された場合はヘッダーを優先する。
	TokenHeaderName = "session_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// TokenResolver はトークンからユーザーへの解決に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type TokenResolver interface {
	// ResolveToken はトークンをユーザーに解決する。
	// 未提示・未知・期限切れはいずれも(nil, nil)＝匿名。
	// エラーはストア障害の場合のみ。
	ResolveToken(ctx context.Context, tokenID string) (*model.User, error)
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// ヘッダーを優先し、なければCookieを参照する。どちらもなければ空文字列。
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(TokenHeaderName); token != "" {
		return token
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// NewSessionMiddleware はセッショントークンを解決するミドルウェアを返す。
// 解決できた場合のみユーザーをリクエストコンテキストに注入する。
// 解決できないリクエストは匿名のまま通過させる（401にはしない）。
// 認証を必須にするのはRequireAuthの役割であり、ここでは行わない。
// ストア障害の場合のみ500を返す。
func NewSessionMiddleware(resolver TokenResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)

			user, err := resolver.ResolveToken(r.Context(), token)
			if err != nil {
				slog.Error("failed to resolve session token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if user == nil {
				// 匿名のまま通過
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は認証済みユーザーを必須とするミドルウェアを返す。
// SessionMiddlewareの後段に配置し、匿名リクエストを401に変換する。
// トークン未提示と未知のトークンはこの時点で区別できない（どちらも匿名）。
func RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// セッションミドルウェアを通過し、かつ認証に成功したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
