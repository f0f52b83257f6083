package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	List(ctx context.Context) ([]*model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	Create(ctx context.Context, userID string, in *project.Input) (*model.Project, error)
	Update(ctx context.Context, userID, id string, in *project.Input) (*model.Project, error)
	Delete(ctx context.Context, userID, id string) error
}

// ProjectHandler はプロジェクトCRUDのHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

// projectRequest はプロジェクト作成・更新のリクエストボディ。
// usersはmembership setとして登録するユーザーIDの配列。
type projectRequest struct {
	Name         string    `json:"name"`
	Users        []string  `json:"users"`
	DateProposed time.Time `json:"date_proposed"`
	Time         time.Time `json:"time"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	GitHub       string    `json:"github"`
	URL          string    `json:"url"`
}

// memberResponse はmembership setに含まれるユーザーのレスポンス表現。
// GoogleのsubjectはAPIには露出しない。
type memberResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// projectResponse はプロジェクトのレスポンス表現。
type projectResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Users        []memberResponse `json:"users"`
	DateProposed time.Time        `json:"date_proposed"`
	Time         time.Time        `json:"time"`
	Type         string           `json:"type"`
	Description  string           `json:"description,omitempty"`
	GitHub       string           `json:"github,omitempty"`
	URL          string           `json:"url,omitempty"`
}

// toProjectResponse はドメインモデルをレスポンス表現に変換する。
func toProjectResponse(p *model.Project) projectResponse {
	members := make([]memberResponse, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, memberResponse{ID: m.ID, Email: m.Email})
	}
	return projectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Users:        members,
		DateProposed: p.DateProposed,
		Time:         p.Time,
		Type:         string(p.Type),
		Description:  p.Description,
		GitHub:       p.GitHub,
		URL:          p.URL,
	}
}

// toInput はリクエストボディをサービス入力に変換する。
func (req *projectRequest) toInput() *project.Input {
	return &project.Input{
		Name:         req.Name,
		MemberIDs:    req.Users,
		DateProposed: req.DateProposed,
		Time:         req.Time,
		Type:         req.Type,
		Description:  req.Description,
		GitHub:       req.GitHub,
		URL:          req.URL,
	}
}

// ListProjects は全プロジェクトの一覧を返す。
// GET /api/projects（匿名アクセス可）
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		res = append(res, toProjectResponse(p))
	}

	writeJSON(w, http.StatusOK, res)
}

// GetProject は指定IDのプロジェクトを返す。
// GET /api/projects/{id}（匿名アクセス可）
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// CreateProject はプロジェクトを作成する。
// POST /api/projects（要認証）
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidProjectError("リクエストボディのJSONが不正です"))
		return
	}

	p, err := h.service.Create(r.Context(), userID, req.toInput())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// UpdateProject は指定IDのプロジェクトを更新する。
// PUT /api/projects/{id}（要認証・要メンバー）
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidProjectError("リクエストボディのJSONが不正です"))
		return
	}

	p, err := h.service.Update(r.Context(), userID, id, req.toInput())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// DeleteProject は指定IDのプロジェクトを削除する。
// DELETE /api/projects/{id}（要認証・要メンバー）
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// エラーコードとHTTPステータスの対応:
//
//	PROJECT_NOT_FOUND  → 404（存在確認は認可より先。存在は秘匿しない）
//	NOT_PROJECT_MEMBER → 403
//	NOT_AUTHENTICATED  → 401
//	INVALID_*          → 400
//	その他              → 500（詳細はログのみ）
func writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected service error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case model.ErrCodeProjectNotFound:
		status = http.StatusNotFound
	case model.ErrCodeNotProjectMember:
		status = http.StatusForbidden
	case model.ErrCodeNotAuthenticated:
		status = http.StatusUnauthorized
	case model.ErrCodeInvalidProject, model.ErrCodeInvalidURL, model.ErrCodeInvalidRedirect:
		status = http.StatusBadRequest
	}

	middleware.WriteErrorResponse(w, status, apiErr)
}
