// Package auth はOIDC認証フローとセッショントークン管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
)

// IdentityAssertion は検証済みIDトークンから取り出した本人確認情報を表す。
type IdentityAssertion struct {
	// Subject はIdPが発行する安定した一意識別子（subクレーム）。
	// メールアドレスとは独立しており、アカウント紐付けの唯一のキーとなる。
	Subject string
	// Email はIdPが主張するメールアドレス。初回ログイン時のみ保存される。
	Email string
}

// OIDCProvider はOIDC認証プロバイダーのインターフェース。
// 本人確認（External Identity Exchange）と永続化を分離するための抽象化。
type OIDCProvider interface {
	// GetLoginURL はOIDC認可エンドポイントのURLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを交換し、検証済みの本人確認情報を返す。
	ExchangeCode(ctx context.Context, code string) (*IdentityAssertion, error)
}

// MetricsRecorder は認証まわりのメトリクス記録のインターフェース。
// 未設定（nil）でも動作する。
type MetricsRecorder interface {
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordTokenIssued()
	RecordSessionResolved(authenticated bool)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenMaxAge int // セッショントークンの有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// OIDC交換 → ユーザー紐付け（find-or-create） → トークン発行、
// およびトークンからユーザーへの解決を担う。
type Service struct {
	oidc      OIDCProvider
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	metrics   MetricsRecorder
	config    ServiceConfig
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	oidc OIDCProvider,
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		oidc:      oidc,
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		metrics:   metrics,
		config:    config,
	}
}

// GetLoginURL はOIDC認可エンドポイントのURLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oidc.GetLoginURL(state)
}

// HandleCallback はOIDCコールバックを処理し、セッショントークンを発行する。
// 交換・検証に失敗した場合はユーザーもトークンも一切作成しない。
// 未登録のsubjectの場合はusersレコードを自動作成する（first-seen link）。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.LoginToken, error) {
	// 1. 認可コードを交換し、検証済みの本人確認情報を取得
	assertion, err := s.oidc.ExchangeCode(ctx, code)
	if err != nil {
		s.recordLoginFailure()
		return nil, fmt.Errorf("failed to exchange oidc code: %w", err)
	}

	// 2. subjectでユーザーを解決（未登録なら作成）
	user, err := s.resolveOrCreateUser(ctx, assertion)
	if err != nil {
		s.recordLoginFailure()
		return nil, err
	}

	// 3. セッショントークンを発行
	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		s.recordLoginFailure()
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordLoginSuccess()
	}
	return token, nil
}

// resolveOrCreateUser はsubjectに対応するユーザーを取得し、未登録なら作成する。
//
// 既存ユーザーのemailはIdP側の主張と異なっていても更新しない（first-write-wins）。
// IdP側でメールアドレスが変更・乗っ取られてもローカルアカウントの紐付けは
// subjectのみで決まる。
//
// 同一subjectの同時初回ログインでは、後着のINSERTがgoogle_subjectの
// ユニーク制約違反となる。これは「他のリクエストが先に作成した」ことを
// 意味するため、再検索にフォールバックして同じユーザーを返す（冪等な作成）。
func (s *Service) resolveOrCreateUser(ctx context.Context, assertion *IdentityAssertion) (*model.User, error) {
	user, err := s.userRepo.FindByGoogleSubject(ctx, assertion.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by subject: %w", err)
	}
	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
		)
		return user, nil
	}

	newUser := &model.User{
		ID:            uuid.New().String(),
		Email:         assertion.Email,
		GoogleSubject: assertion.Subject,
		CreatedAt:     time.Now(),
	}

	if err := s.userRepo.Create(ctx, newUser); err != nil {
		if repository.IsUniqueViolation(err) {
			// 同時初回ログインの競合。先に作成されたレコードを読み直す。
			existing, findErr := s.userRepo.FindByGoogleSubject(ctx, assertion.Subject)
			if findErr != nil {
				return nil, fmt.Errorf("failed to re-find user after conflict: %w", findErr)
			}
			if existing == nil {
				return nil, fmt.Errorf("user not found after unique violation: %w", err)
			}
			slog.Info("concurrent first login resolved to existing user",
				slog.String("user_id", existing.ID),
			)
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
	)
	return newUser, nil
}

// issueToken はセッショントークンを生成し永続化する。
// IDの衝突（256bitランダム値が既存レコードと一致）は乱数生成の異常を
// 意味するため、上書きせず生成エラーとして失敗させる。
func (s *Service) issueToken(ctx context.Context, userID string) (*model.LoginToken, error) {
	tokenID, err := generateTokenID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token ID: %w", err)
	}

	now := time.Now()
	token := &model.LoginToken{
		ID:        tokenID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.TokenMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.tokenRepo.Create(ctx, token); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("token ID collision detected, refusing to overwrite: %w", err)
		}
		return nil, fmt.Errorf("failed to save login token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}
	return token, nil
}

// ResolveToken は提示されたトークンをユーザーに解決する。
// トークン未提示・未知のトークン・期限切れのいずれも(nil, nil)を返し、
// 匿名（Anonymous）として扱う。未知のトークンと無トークンを外部から
// 区別できないようにし、トークン列挙のオラクルを作らない。
// 401への変換は保護対象エンドポイントの境界（ミドルウェア）が行う。
// エラーを返すのはストア障害の場合のみ。
func (s *Service) ResolveToken(ctx context.Context, tokenID string) (*model.User, error) {
	if tokenID == "" {
		s.recordSessionResolved(false)
		return nil, nil
	}

	token, err := s.tokenRepo.FindByID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to find login token: %w", err)
	}
	if token == nil {
		s.recordSessionResolved(false)
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// トークンが残っているのにユーザーが存在しない場合も匿名扱い
		s.recordSessionResolved(false)
		return nil, nil
	}

	s.recordSessionResolved(true)
	return user, nil
}

// Logout はサーバー側のトークンレコードを失効させる。
// Cookieのクリアだけではベアラ値が有効なまま残るため、必ずレコードを削除する。
func (s *Service) Logout(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}

	if err := s.tokenRepo.DeleteByID(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to revoke login token: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

func (s *Service) recordLoginFailure() {
	if s.metrics != nil {
		s.metrics.RecordLoginFailure()
	}
}

func (s *Service) recordSessionResolved(authenticated bool) {
	if s.metrics != nil {
		s.metrics.RecordSessionResolved(authenticated)
	}
}
