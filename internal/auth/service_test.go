package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	findBySubjectFn func(ctx context.Context, subject string) (*model.User, error)
	createFn        func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByGoogleSubject(ctx context.Context, subject string) (*model.User, error) {
	if m.findBySubjectFn != nil {
		return m.findBySubjectFn(ctx, subject)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type mockTokenRepo struct {
	createFn         func(ctx context.Context, token *model.LoginToken) error
	findByIDFn       func(ctx context.Context, id string) (*model.LoginToken, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
	deleteExpiredFn  func(ctx context.Context) (int64, error)
}

func (m *mockTokenRepo) Create(ctx context.Context, token *model.LoginToken) error {
	if m.createFn != nil {
		return m.createFn(ctx, token)
	}
	return nil
}

func (m *mockTokenRepo) FindByID(ctx context.Context, id string) (*model.LoginToken, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockTokenRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockTokenRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockOIDCProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*IdentityAssertion, error)
}

func (m *mockOIDCProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOIDCProvider) ExchangeCode(ctx context.Context, code string) (*IdentityAssertion, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.TokenRepository = (*mockTokenRepo)(nil)
var _ OIDCProvider = (*mockOIDCProvider)(nil)

// uniqueViolation はgoogle_subject等のユニーク制約違反を模したpqエラーを返す。
func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

// --- テスト ---

func TestGetLoginURL_ReturnsAuthorizationURL(t *testing.T) {
	provider := &mockOIDCProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state
		},
	}
	svc := NewService(provider, nil, nil, nil, ServiceConfig{TokenMaxAge: 86400})

	url := svc.GetLoginURL("test-state")

	expected := "https://accounts.google.com/o/oauth2/v2/auth?state=test-state"
	if url != expected {
		t.Errorf("GetLoginURL() = %q, want %q", url, expected)
	}
}

func TestHandleCallback_NewSubject_CreatesUserAndIssuesToken(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdToken *model.LoginToken

	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return &IdentityAssertion{Subject: "ext-42", Email: "a@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			createdUser = user
			return nil
		},
	}
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, token *model.LoginToken) error {
			createdToken = token
			return nil
		},
	}
	svc := NewService(provider, userRepo, tokenRepo, nil, ServiceConfig{TokenMaxAge: 3600})

	token, err := svc.HandleCallback(ctx, "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if createdUser == nil {
		t.Fatal("expected a user to be created")
	}
	if createdUser.GoogleSubject != "ext-42" {
		t.Errorf("GoogleSubject = %q, want %q", createdUser.GoogleSubject, "ext-42")
	}
	if createdUser.Email != "a@x.com" {
		t.Errorf("Email = %q, want %q", createdUser.Email, "a@x.com")
	}

	if createdToken == nil {
		t.Fatal("expected a token to be created")
	}
	if token.UserID != createdUser.ID {
		t.Errorf("token.UserID = %q, want %q", token.UserID, createdUser.ID)
	}
	if len(token.ID) != 64 {
		t.Errorf("token ID length = %d, want 64 hex chars", len(token.ID))
	}
	if token.IsExpired(time.Now()) {
		t.Error("issued token should not be expired")
	}
}

func TestHandleCallback_ExistingSubject_DoesNotCreateUser(t *testing.T) {
	ctx := context.Background()

	existing := &model.User{
		ID:            "user-1",
		Email:         "a@x.com",
		GoogleSubject: "ext-42",
	}

	createCalled := false
	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			// 既存ユーザーのemailがIdP側で変わっていても紐付けはsubjectのみで決まる
			return &IdentityAssertion{Subject: "ext-42", Email: "b@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findBySubjectFn: func(ctx context.Context, subject string) (*model.User, error) {
			if subject == "ext-42" {
				return existing, nil
			}
			return nil, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			createCalled = true
			return nil
		},
	}
	svc := NewService(provider, userRepo, &mockTokenRepo{}, nil, ServiceConfig{TokenMaxAge: 3600})

	token, err := svc.HandleCallback(ctx, "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if createCalled {
		t.Error("expected no user creation for an already linked subject")
	}
	if token.UserID != "user-1" {
		t.Errorf("token.UserID = %q, want %q", token.UserID, "user-1")
	}
}

// 同一subjectの2回のログインが同じユーザーに解決されること（冪等な紐付け）
func TestHandleCallback_SameSubjectTwice_ResolvesToSameUser(t *testing.T) {
	ctx := context.Background()

	users := map[string]*model.User{}
	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return &IdentityAssertion{Subject: "ext-42", Email: "a@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findBySubjectFn: func(ctx context.Context, subject string) (*model.User, error) {
			return users[subject], nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			if _, exists := users[user.GoogleSubject]; exists {
				return uniqueViolation()
			}
			users[user.GoogleSubject] = user
			return nil
		},
	}
	svc := NewService(provider, userRepo, &mockTokenRepo{}, nil, ServiceConfig{TokenMaxAge: 3600})

	first, err := svc.HandleCallback(ctx, "code-1")
	if err != nil {
		t.Fatalf("first HandleCallback() error = %v", err)
	}
	second, err := svc.HandleCallback(ctx, "code-2")
	if err != nil {
		t.Fatalf("second HandleCallback() error = %v", err)
	}

	if first.UserID != second.UserID {
		t.Errorf("same subject resolved to different users: %q vs %q", first.UserID, second.UserID)
	}
	if len(users) != 1 {
		t.Errorf("expected exactly 1 user record, got %d", len(users))
	}
}

// 同時初回ログインの競合: INSERTがユニーク制約違反になった場合は
// 先に作成されたレコードを読み直して同じユーザーを返す
func TestHandleCallback_ConcurrentFirstLogin_RecoversFromUniqueViolation(t *testing.T) {
	ctx := context.Background()

	winner := &model.User{
		ID:            "winner-id",
		Email:         "a@x.com",
		GoogleSubject: "ext-42",
	}

	findCalls := 0
	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return &IdentityAssertion{Subject: "ext-42", Email: "a@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findBySubjectFn: func(ctx context.Context, subject string) (*model.User, error) {
			findCalls++
			// 最初の検索では未登録、INSERT失敗後の再検索では競合相手のレコードが見える
			if findCalls == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			return uniqueViolation()
		},
	}
	svc := NewService(provider, userRepo, &mockTokenRepo{}, nil, ServiceConfig{TokenMaxAge: 3600})

	token, err := svc.HandleCallback(ctx, "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if token.UserID != "winner-id" {
		t.Errorf("token.UserID = %q, want %q", token.UserID, "winner-id")
	}
	if findCalls != 2 {
		t.Errorf("expected re-find after unique violation, findCalls = %d", findCalls)
	}
}

// 交換に失敗した場合はユーザーもトークンも一切作成されないこと
func TestHandleCallback_ExchangeFails_CreatesNothing(t *testing.T) {
	ctx := context.Background()

	userCreated := false
	tokenCreated := false
	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return nil, errors.New("invalid authorization code")
		},
	}
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			userCreated = true
			return nil
		},
	}
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, token *model.LoginToken) error {
			tokenCreated = true
			return nil
		},
	}
	svc := NewService(provider, userRepo, tokenRepo, nil, ServiceConfig{TokenMaxAge: 3600})

	_, err := svc.HandleCallback(ctx, "bad-code")
	if err == nil {
		t.Fatal("expected error for failed exchange")
	}
	if userCreated {
		t.Error("no user should be created when exchange fails")
	}
	if tokenCreated {
		t.Error("no token should be created when exchange fails")
	}
}

// N回のログインでN個の相異なるトークンが発行され、すべて同一ユーザーに解決されること
func TestHandleCallback_RepeatedLogins_IssueDistinctTokens(t *testing.T) {
	ctx := context.Background()

	user := &model.User{ID: "user-1", GoogleSubject: "ext-42"}
	tokens := map[string]*model.LoginToken{}

	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return &IdentityAssertion{Subject: "ext-42", Email: "a@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findBySubjectFn: func(ctx context.Context, subject string) (*model.User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == user.ID {
				return user, nil
			}
			return nil, nil
		},
	}
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, token *model.LoginToken) error {
			if _, exists := tokens[token.ID]; exists {
				return uniqueViolation()
			}
			tokens[token.ID] = token
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.LoginToken, error) {
			return tokens[id], nil
		},
	}
	svc := NewService(provider, userRepo, tokenRepo, nil, ServiceConfig{TokenMaxAge: 3600})

	const n = 5
	issued := make([]*model.LoginToken, 0, n)
	for i := 0; i < n; i++ {
		token, err := svc.HandleCallback(ctx, "auth-code")
		if err != nil {
			t.Fatalf("HandleCallback() #%d error = %v", i, err)
		}
		issued = append(issued, token)
	}

	if len(tokens) != n {
		t.Errorf("expected %d distinct tokens, got %d", n, len(tokens))
	}
	for _, token := range issued {
		resolved, err := svc.ResolveToken(ctx, token.ID)
		if err != nil {
			t.Fatalf("ResolveToken() error = %v", err)
		}
		if resolved == nil || resolved.ID != user.ID {
			t.Errorf("token %q did not resolve to user %q", token.ID, user.ID)
		}
	}
}

// トークンIDの衝突は上書きせず生成エラーとして失敗すること
func TestHandleCallback_TokenIDCollision_FailsWithoutOverwrite(t *testing.T) {
	ctx := context.Background()

	provider := &mockOIDCProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*IdentityAssertion, error) {
			return &IdentityAssertion{Subject: "ext-42", Email: "a@x.com"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findBySubjectFn: func(ctx context.Context, subject string) (*model.User, error) {
			return &model.User{ID: "user-1", GoogleSubject: subject}, nil
		},
	}
	tokenRepo := &mockTokenRepo{
		createFn: func(ctx context.Context, token *model.LoginToken) error {
			return uniqueViolation()
		},
	}
	svc := NewService(provider, userRepo, tokenRepo, nil, ServiceConfig{TokenMaxAge: 3600})

	_, err := svc.HandleCallback(ctx, "auth-code")
	if err == nil {
		t.Fatal("expected error for token ID collision")
	}
}

func TestResolveToken_EmptyToken_ReturnsAnonymous(t *testing.T) {
	svc := NewService(nil, &mockUserRepo{}, &mockTokenRepo{}, nil, ServiceConfig{})

	user, err := svc.ResolveToken(context.Background(), "")
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if user != nil {
		t.Error("empty token should resolve to anonymous (nil user)")
	}
}

// 未知のトークンと無トークンは外部から区別できないこと（どちらも匿名でエラーなし）
func TestResolveToken_UnknownToken_IndistinguishableFromNoToken(t *testing.T) {
	svc := NewService(nil, &mockUserRepo{}, &mockTokenRepo{}, nil, ServiceConfig{})

	fromEmpty, errEmpty := svc.ResolveToken(context.Background(), "")
	fromUnknown, errUnknown := svc.ResolveToken(context.Background(), "completely-unknown-token")

	if errEmpty != nil || errUnknown != nil {
		t.Fatalf("unexpected errors: %v, %v", errEmpty, errUnknown)
	}
	if fromEmpty != nil || fromUnknown != nil {
		t.Error("both no-token and unknown-token should resolve to anonymous")
	}
}

func TestResolveToken_ValidToken_ReturnsUser(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "a@x.com"}
	tokenRepo := &mockTokenRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LoginToken, error) {
			if id == "valid-token" {
				return &model.LoginToken{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return user, nil
			}
			return nil, nil
		},
	}
	svc := NewService(nil, userRepo, tokenRepo, nil, ServiceConfig{})

	resolved, err := svc.ResolveToken(context.Background(), "valid-token")
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if resolved == nil || resolved.ID != "user-1" {
		t.Errorf("ResolveToken() = %v, want user-1", resolved)
	}
}

// トークンは残っているがユーザーが存在しない場合も匿名扱いになること
func TestResolveToken_OrphanToken_ReturnsAnonymous(t *testing.T) {
	tokenRepo := &mockTokenRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LoginToken, error) {
			return &model.LoginToken{ID: id, UserID: "deleted-user", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	svc := NewService(nil, &mockUserRepo{}, tokenRepo, nil, ServiceConfig{})

	user, err := svc.ResolveToken(context.Background(), "orphan-token")
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if user != nil {
		t.Error("orphan token should resolve to anonymous")
	}
}

// ストア障害は匿名ではなくエラーとして返ること
func TestResolveToken_StoreFailure_ReturnsError(t *testing.T) {
	tokenRepo := &mockTokenRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LoginToken, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(nil, &mockUserRepo{}, tokenRepo, nil, ServiceConfig{})

	_, err := svc.ResolveToken(context.Background(), "any-token")
	if err == nil {
		t.Fatal("expected error for store failure")
	}
}

func TestLogout_RevokesServerSideToken(t *testing.T) {
	var deletedID string
	tokenRepo := &mockTokenRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedID = id
			return nil
		},
	}
	svc := NewService(nil, &mockUserRepo{}, tokenRepo, nil, ServiceConfig{})

	if err := svc.Logout(context.Background(), "token-to-revoke"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deletedID != "token-to-revoke" {
		t.Errorf("deleted token = %q, want %q", deletedID, "token-to-revoke")
	}
}

func TestLogout_EmptyToken_NoOp(t *testing.T) {
	deleteCalled := false
	tokenRepo := &mockTokenRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleteCalled = true
			return nil
		},
	}
	svc := NewService(nil, &mockUserRepo{}, tokenRepo, nil, ServiceConfig{})

	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deleteCalled {
		t.Error("empty token logout should not touch the store")
	}
}
