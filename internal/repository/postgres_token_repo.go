package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/projecthub/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したセッショントークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンを作成する。
// IDのユニーク制約違反はそのまま返す（IsUniqueViolationで判定可能）。
// 衝突時の上書きは行わない。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.LoginToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_tokens (id, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.ID, token.UserID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create login token: %w", err)
	}
	return nil
}

// FindByID は指定IDのトークンを取得する。
// 見つからない場合および期限切れの場合はnilを返す。
func (r *PostgresTokenRepo) FindByID(ctx context.Context, id string) (*model.LoginToken, error) {
	token := &model.LoginToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM login_tokens
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&token.ID, &token.UserID, &token.ExpiresAt, &token.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find login token: %w", err)
	}

	return token, nil
}

// DeleteByID は指定IDのトークンを削除する。
func (r *PostgresTokenRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete login token: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全トークンを削除する。
func (r *PostgresTokenRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user login tokens: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
// ワーカーモードのクリーンアップジョブから呼ばれる。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
