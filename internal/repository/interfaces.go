// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/projecthub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByGoogleSubject はGoogleのsubjectでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByGoogleSubject(ctx context.Context, subject string) (*model.User, error)

	// Create はユーザーを作成する。
	// google_subjectのユニーク制約違反はIsUniqueViolationで判定可能なエラーを返す。
	// 同一subjectの同時初回ログインの競合解決は呼び出し側（auth.Service）が行う。
	Create(ctx context.Context, user *model.User) error
}

// TokenRepository はセッショントークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを作成する。
	// IDの衝突はIsUniqueViolationで判定可能なエラーを返す（上書きはしない）。
	Create(ctx context.Context, token *model.LoginToken) error

	// FindByID は指定IDのトークンを取得する。
	// 見つからない場合および期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.LoginToken, error)

	// DeleteByID は指定IDのトークンを削除する（サーバー側の失効）。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全トークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
type ProjectRepository interface {
	// List は全プロジェクトをmembership set付きで返す。
	List(ctx context.Context) ([]*model.Project, error)

	// FindByID は指定IDのプロジェクトをmembership set付きで取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// Create はプロジェクトとmembership setを同一トランザクションで作成する。
	// memberIDsのうち実在するユーザーのみがxrefに登録される（存在しないIDは黙って無視する）。
	Create(ctx context.Context, project *model.Project, memberIDs []string) error

	// Update はプロジェクトを更新し、membership setを同一トランザクションで
	// memberIDsの内容に置き換える。
	Update(ctx context.Context, project *model.Project, memberIDs []string) error

	// Delete は指定IDのプロジェクトを削除する。xrefはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}
