// Package project はプロジェクト管理のドメインロジックと認可ガードを提供する。
//
// 認可コントラクト:
//   - プロジェクトの参照（一覧・取得）は匿名を含む全員に許可される。
//   - 作成は認証済みユーザーのみ。作成者は必ずmembership setに含められる。
//   - 更新・削除はmembership setに含まれるユーザーのみ。
//   - 判定順序は「存在確認（404）→ メンバー確認（403）」で固定。
//     このため、未認可の呼び出し元にもプロジェクトの存在の有無は開示される。
//     存在を秘匿する設計（403を先に返す）は採用していない。意図的な挙動である。
package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
	"github.com/hitoshi/projecthub/internal/security"
)

// Input はプロジェクトの作成・更新入力を表す。
// MemberIDsはmembership setとして登録するユーザーID（実在しないIDは無視される）。
type Input struct {
	Name         string
	MemberIDs    []string
	DateProposed time.Time
	Time         time.Time
	Type         string
	Description  string
	GitHub       string
	URL          string
}

// MetricsRecorder は認可まわりのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordAuthzDenied()
}

// Service はプロジェクト管理のサービス層。
type Service struct {
	projectRepo repository.ProjectRepository
	sanitizer   security.ContentSanitizerService
	urlGuard    security.URLGuardService
	metrics     MetricsRecorder
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	projectRepo repository.ProjectRepository,
	sanitizer security.ContentSanitizerService,
	urlGuard security.URLGuardService,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		projectRepo: projectRepo,
		sanitizer:   sanitizer,
		urlGuard:    urlGuard,
		metrics:     metrics,
	}
}

// List は全プロジェクトを返す。匿名アクセス可。
func (s *Service) List(ctx context.Context) ([]*model.Project, error) {
	projects, err := s.projectRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Get は指定IDのプロジェクトを返す。匿名アクセス可。
// 見つからない場合はPROJECT_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	return project, nil
}

// Create はプロジェクトを作成する。
// userIDは認証境界（ミドルウェア）を通過した呼び出し元のユーザーID。
// 作成者はmembership setに必ず含められる。作成直後から作成者が
// 更新・削除できない状態を作らないため。
func (s *Service) Create(ctx context.Context, userID string, in *Input) (*model.Project, error) {
	if userID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	sanitized, err := s.validateInput(in)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	project := &model.Project{
		ID:           uuid.New().String(),
		Name:         sanitized.Name,
		DateProposed: sanitized.DateProposed,
		Time:         sanitized.Time,
		Type:         model.ProjectType(sanitized.Type),
		Description:  sanitized.Description,
		GitHub:       sanitized.GitHub,
		URL:          sanitized.URL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	memberIDs := ensureMember(sanitized.MemberIDs, userID)

	if err := s.projectRepo.Create(ctx, project, memberIDs); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	slog.Info("project created",
		slog.String("project_id", project.ID),
		slog.String("user_id", userID),
	)

	// membership setを解決済みの状態で返すため読み直す
	created, err := s.projectRepo.FindByID(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload created project: %w", err)
	}
	return created, nil
}

// Update は指定IDのプロジェクトを更新する。
// 存在確認 → 認可ガードの順で判定し、membership setは入力の内容に置き換える。
func (s *Service) Update(ctx context.Context, userID, id string, in *Input) (*model.Project, error) {
	existing, err := s.findForMutation(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	sanitized, err := s.validateInput(in)
	if err != nil {
		return nil, err
	}

	updated := &model.Project{
		ID:           existing.ID,
		Name:         sanitized.Name,
		DateProposed: sanitized.DateProposed,
		Time:         sanitized.Time,
		Type:         model.ProjectType(sanitized.Type),
		Description:  sanitized.Description,
		GitHub:       sanitized.GitHub,
		URL:          sanitized.URL,
		CreatedAt:    existing.CreatedAt,
		UpdatedAt:    time.Now(),
	}

	if err := s.projectRepo.Update(ctx, updated, sanitized.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	slog.Info("project updated",
		slog.String("project_id", id),
		slog.String("user_id", userID),
	)

	reloaded, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload updated project: %w", err)
	}
	return reloaded, nil
}

// Delete は指定IDのプロジェクトを削除する。
// 存在確認 → 認可ガードの順で判定する。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.findForMutation(ctx, userID, id); err != nil {
		return err
	}

	if err := s.projectRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	slog.Info("project deleted",
		slog.String("project_id", id),
		slog.String("user_id", userID),
	)
	return nil
}

// findForMutation は変更操作の前提条件を検証し、対象プロジェクトを返す。
// 判定順序は固定: 存在確認（PROJECT_NOT_FOUND）→ 認可ガード（NOT_PROJECT_MEMBER）。
// 呼び出し元が非メンバーであってもプロジェクトが存在しなければ404が返る。
func (s *Service) findForMutation(ctx context.Context, userID, id string) (*model.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return nil, model.NewProjectNotFoundError(id)
	}

	if err := s.checkMembership(project, userID); err != nil {
		return nil, err
	}

	return project, nil
}

// checkMembership は認可ガード本体。
// membership setへの所属が変更操作を許可する唯一の根拠であり、
// ここを迂回する呼び出し経路は存在しない。
func (s *Service) checkMembership(project *model.Project, userID string) error {
	if project.HasMember(userID) {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordAuthzDenied()
	}
	slog.Warn("project mutation denied",
		slog.String("project_id", project.ID),
		slog.String("user_id", userID),
	)
	return model.NewNotProjectMemberError()
}

// validateInput は入力を検証し、サニタイズ済みの入力を返す。
func (s *Service) validateInput(in *Input) (*Input, error) {
	if in.Name == "" {
		return nil, model.NewInvalidProjectError("nameは必須です")
	}
	if !model.ProjectType(in.Type).IsValid() {
		return nil, model.NewInvalidProjectError(
			fmt.Sprintf("typeはsoftwareまたはhardwareを指定してください: %s", in.Type))
	}

	if in.URL != "" {
		if err := s.urlGuard.ValidateURL(in.URL); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	}
	if in.GitHub != "" {
		if err := s.urlGuard.ValidateURL(in.GitHub); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	}

	out := *in
	out.Description = s.sanitizer.Sanitize(in.Description)
	return &out, nil
}

// ensureMember はmemberIDsにuserIDが含まれることを保証する。
func ensureMember(memberIDs []string, userID string) []string {
	for _, id := range memberIDs {
		if id == userID {
			return memberIDs
		}
	}
	return append(append([]string{}, memberIDs...), userID)
}
