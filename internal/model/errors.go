// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, authz, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeLoginFailed      = "LOGIN_FAILED"
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrCodeNotProjectMember = "NOT_PROJECT_MEMBER"
	ErrCodeInvalidProject   = "INVALID_PROJECT"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeInvalidRedirect  = "INVALID_REDIRECT"
)

// NewLoginFailedError は外部IdPとの認証フローが失敗した場合のエラーを生成する。
// 認可コードの不正・期限切れ、IDトークンの検証失敗のいずれもこのエラーに集約し、
// 部分的なユーザー・トークンレコードは一切作成しない。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "ログインに失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをお試しください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
// トークン未提示と未知のトークンは外部から区別できないよう、同一のエラーを返す。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
// 認可判定より先に存在確認を行うため、未認可の呼び出し元にも404が返る
// （存在の有無は秘匿しない。詳細はinternal/projectの認可コントラクトを参照）。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "validation",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewNotProjectMemberError は非メンバーによる変更操作エラーを生成する。
func NewNotProjectMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeNotProjectMember,
		Message:  "このプロジェクトを変更する権限がありません。",
		Category: "authz",
		Action:   "プロジェクトのメンバーに追加を依頼してください。",
	}
}

// NewInvalidProjectError はプロジェクト入力の検証エラーを生成する。
func NewInvalidProjectError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProject,
		Message:  fmt.Sprintf("プロジェクトの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewInvalidRedirectError はログイン後リダイレクト先の検証エラーを生成する。
// オープンリダイレクト防止のため、許可されないリダイレクト先は受け付けない。
func NewInvalidRedirectError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRedirect,
		Message:  "ログイン後のリダイレクト先が許可されていません。",
		Category: "validation",
		Action:   "アプリケーション内のURLを指定してください。",
	}
}
