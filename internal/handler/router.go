package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/securecookie"

	"github.com/hitoshi/projecthub/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DB を直接受け付けられる。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	TokenResolver     middleware.TokenResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// メトリクス
	MetricsHandler   http.Handler         // /metrics（nilの場合はマウントしない）
	RecordHTTPStatus func(statusCode int) // レスポンスステータスの記録（nil可）

	// 認証
	AuthService       AuthServiceInterface
	RedirectValidator RedirectValidator
	StateCodec        *securecookie.SecureCookie
	AuthConfig        AuthHandlerConfig

	// プロジェクト
	ProjectService ProjectServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → (RequireAuth → CSRF → RateLimit)
//
// セッション解決は参照系を含む全APIルートに適用するが、匿名リクエストを
// 遮断するのは変更系ルートのRequireAuthのみ（401への変換は境界で行う）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default(), deps.RecordHTTPStatus))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.RedirectValidator, deps.StateCodec, deps.AuthConfig)
	projectHandler := NewProjectHandler(deps.ProjectService)

	// --- 運用系ルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート（OIDCフロー） ---

	r.Get("/login/google", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)

	// CSRFトークン取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- セッション解決を通るルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.TokenResolver))

		// ログアウトとユーザー情報
		r.Get("/logout", authHandler.Logout)
		r.With(middleware.RequireAuth()).Get("/me", authHandler.Me)

		// プロジェクト参照（匿名アクセス可）
		r.Get("/api/projects", projectHandler.ListProjects)
		r.Get("/api/projects/{id}", projectHandler.GetProject)

		// プロジェクト変更（要認証）
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// POST /api/projects - 作成専用レート制限を追加
			r.With(deps.RateLimiter.ProjectCreateMiddleware()).Post("/api/projects", projectHandler.CreateProject)

			r.Put("/api/projects/{id}", projectHandler.UpdateProject)
			r.Delete("/api/projects/{id}", projectHandler.DeleteProject)
		})
	})

	return r
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// DB接続の死活を確認し、正常なら200、異常なら503を返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
