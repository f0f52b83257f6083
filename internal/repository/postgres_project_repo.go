package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/projecthub/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
// membership set（user_project_xref）はプロジェクト本体と同一トランザクションで
// 書き込み、部分的な書き込みを残さない。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// List は全プロジェクトをmembership set付きで返す。
func (r *PostgresProjectRepo) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, date_proposed, time, type, description, github, url, created_at, updated_at
		 FROM projects
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	byID := make(map[string]*model.Project)
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.DateProposed, &p.Time, &p.Type,
			&p.Description, &p.GitHub, &p.URL, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Members = []model.User{}
		projects = append(projects, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	if len(projects) == 0 {
		return []*model.Project{}, nil
	}

	// membership setを1クエリでまとめて取得し、プロジェクトに振り分ける
	memberRows, err := r.db.QueryContext(ctx,
		`SELECT x.project_id, u.id, u.email, u.google_subject, u.created_at
		 FROM user_project_xref x
		 JOIN users u ON u.id = x.user_id
		 ORDER BY u.created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var projectID string
		var u model.User
		if err := memberRows.Scan(&projectID, &u.ID, &u.Email, &u.GoogleSubject, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		if p, ok := byID[projectID]; ok {
			p.Members = append(p.Members, u)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project members: %w", err)
	}

	return projects, nil
}

// FindByID は指定IDのプロジェクトをmembership set付きで取得する。
// 見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, date_proposed, time, type, description, github, url, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.Name, &p.DateProposed, &p.Time, &p.Type,
		&p.Description, &p.GitHub, &p.URL, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	members, err := r.findMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Members = members

	return p, nil
}

// findMembers は指定プロジェクトのmembership setを取得する。
func (r *PostgresProjectRepo) findMembers(ctx context.Context, projectID string) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.google_subject, u.created_at
		 FROM user_project_xref x
		 JOIN users u ON u.id = x.user_id
		 WHERE x.project_id = $1
		 ORDER BY u.created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find project members: %w", err)
	}
	defer rows.Close()

	members := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.GoogleSubject, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project members: %w", err)
	}

	return members, nil
}

// Create はプロジェクトとmembership setを同一トランザクションで作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project, memberIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, date_proposed, time, type, description, github, url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		project.ID, project.Name, project.DateProposed, project.Time, project.Type,
		project.Description, project.GitHub, project.URL, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	if err := insertMembers(ctx, tx, project.ID, memberIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update はプロジェクトを更新し、membership setを置き換える。
func (r *PostgresProjectRepo) Update(ctx context.Context, project *model.Project, memberIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE projects
		 SET name = $2, date_proposed = $3, time = $4, type = $5,
		     description = $6, github = $7, url = $8, updated_at = $9
		 WHERE id = $1`,
		project.ID, project.Name, project.DateProposed, project.Time, project.Type,
		project.Description, project.GitHub, project.URL, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	// membership setは全削除のうえ挿入し直す
	_, err = tx.ExecContext(ctx,
		`DELETE FROM user_project_xref WHERE project_id = $1`,
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear project members: %w", err)
	}

	if err := insertMembers(ctx, tx, project.ID, memberIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete は指定IDのプロジェクトを削除する。xrefはCASCADE削除される。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// insertMembers はmembership setをxrefに挿入する。
// memberIDsのうち実在するユーザーのみを登録する（存在しないIDは黙って無視する）。
func insertMembers(ctx context.Context, tx *sql.Tx, projectID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_project_xref (user_id, project_id)
		 SELECT u.id, $1 FROM users u WHERE u.id = ANY($2)
		 ON CONFLICT DO NOTHING`,
		projectID, pq.Array(memberIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to insert project members: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
