package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/projecthub/internal/model"
)

// --- モック定義 ---

type mockTokenResolver struct {
	resolveTokenFn func(ctx context.Context, tokenID string) (*model.User, error)
}

func (m *mockTokenResolver) ResolveToken(ctx context.Context, tokenID string) (*model.User, error) {
	if m.resolveTokenFn != nil {
		return m.resolveTokenFn(ctx, tokenID)
	}
	return nil, nil
}

var _ TokenResolver = (*mockTokenResolver)(nil)

func resolverFor(tokenID string, user *model.User) *mockTokenResolver {
	return &mockTokenResolver{
		resolveTokenFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == tokenID {
				return user, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestTokenFromRequest_HeaderTakesPrecedenceOverCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set(TokenHeaderName, "header-token")
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "cookie-token"})

	if got := TokenFromRequest(req); got != "header-token" {
		t.Errorf("TokenFromRequest() = %q, want %q", got, "header-token")
	}
}

func TestTokenFromRequest_CookieOnly(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "cookie-token"})

	if got := TokenFromRequest(req); got != "cookie-token" {
		t.Errorf("TokenFromRequest() = %q, want %q", got, "cookie-token")
	}
}

func TestTokenFromRequest_NoToken_ReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)

	if got := TokenFromRequest(req); got != "" {
		t.Errorf("TokenFromRequest() = %q, want empty", got)
	}
}

func TestSessionMiddleware_ValidToken_InjectsUser(t *testing.T) {
	user := &model.User{ID: "user-123", Email: "a@x.com"}
	mw := NewSessionMiddleware(resolverFor("valid-token", user))

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected user in context, got error %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "valid-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
}

// 未提示・未知のトークンは401にせず匿名のまま通過させること
func TestSessionMiddleware_NoToken_PassesThroughAsAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockTokenResolver{})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if _, err := UserFromContext(r.Context()); err == nil {
			t.Error("anonymous request should have no user in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("anonymous request should reach the handler")
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestSessionMiddleware_UnknownToken_PassesThroughAsAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockTokenResolver{})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "unknown-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("unknown token should be treated as anonymous, not rejected")
	}
}

// ストア障害は匿名扱いにせず500を返すこと
func TestSessionMiddleware_StoreFailure_Returns500(t *testing.T) {
	resolver := &mockTokenResolver{
		resolveTokenFn: func(ctx context.Context, tokenID string) (*model.User, error) {
			return nil, context.DeadlineExceeded
		},
	}
	mw := NewSessionMiddleware(resolver)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called on store failure")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "some-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestRequireAuth_Anonymous_Returns401(t *testing.T) {
	mw := RequireAuth()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for anonymous request")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAuth_AuthenticatedUser_PassesThrough(t *testing.T) {
	mw := RequireAuth()

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	ctx := ContextWithUser(req.Context(), &model.User{ID: "user-1"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req.WithContext(ctx))

	if !handlerCalled {
		t.Fatal("authenticated request should reach the handler")
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing user in context")
	}
}

func TestUserIDFromContext_ValidValue_ReturnsUserID(t *testing.T) {
	ctx := ContextWithUser(context.Background(), &model.User{ID: "user-456"})
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}
