package database

import (
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		t.Fatalf("failed to read migration %s: %v", name, err)
	}
	return string(data)
}

func TestMigrations_AllFilesPresent(t *testing.T) {
	names := []string{
		"000001_create_users.up.sql",
		"000001_create_users.down.sql",
		"000002_create_projects.up.sql",
		"000002_create_projects.down.sql",
	}
	for _, name := range names {
		if _, err := migrationsFS.ReadFile("migrations/" + name); err != nil {
			t.Errorf("missing migration file %s: %v", name, err)
		}
	}
}

// up/downのペアが揃っていること
func TestMigrations_UpDownPairs(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("failed to read migrations dir: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	for base := range ups {
		if !downs[base] {
			t.Errorf("migration %s has no down file", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("migration %s has no up file", base)
		}
	}
}

// google_subjectのユニーク制約は同時初回ログインの競合解決の前提となる
func TestMigrations_UsersTable_GoogleSubjectUnique(t *testing.T) {
	sql := readMigration(t, "000001_create_users.up.sql")

	if !strings.Contains(sql, "google_subject") {
		t.Fatal("users table should have google_subject column")
	}
	if !strings.Contains(sql, "google_subject TEXT NOT NULL UNIQUE") {
		t.Error("google_subject must carry a UNIQUE constraint")
	}
	// emailにはユニーク制約を付けない（first-write-winsで重複しうる）
	if strings.Contains(sql, "email TEXT NOT NULL UNIQUE") {
		t.Error("email must not be unique")
	}
}

func TestMigrations_LoginTokens_ExpiryAndCascade(t *testing.T) {
	sql := readMigration(t, "000001_create_users.up.sql")

	if !strings.Contains(sql, "login_tokens") {
		t.Fatal("expected login_tokens table")
	}
	if !strings.Contains(sql, "expires_at") {
		t.Error("login_tokens should have expires_at column")
	}
	if !strings.Contains(sql, "ON DELETE CASCADE") {
		t.Error("login_tokens.user_id should cascade on user deletion")
	}
	if !strings.Contains(sql, "idx_login_tokens_expires_at") {
		t.Error("expected index on expires_at for the cleanup job")
	}
}

func TestMigrations_Projects_TypeCheckAndXref(t *testing.T) {
	sql := readMigration(t, "000002_create_projects.up.sql")

	if !strings.Contains(sql, "CHECK (type IN ('software', 'hardware'))") {
		t.Error("projects.type should be constrained to software/hardware")
	}
	if !strings.Contains(sql, "user_project_xref") {
		t.Fatal("expected user_project_xref table")
	}
	if !strings.Contains(sql, "PRIMARY KEY (user_id, project_id)") {
		t.Error("xref should have a composite primary key")
	}
	if !strings.Contains(sql, "ON DELETE CASCADE") {
		t.Error("xref rows should cascade on user/project deletion")
	}
}

func TestNewMigrator_InvalidURL_ReturnsError(t *testing.T) {
	_, err := NewMigrator("not-a-database-url")
	if err == nil {
		t.Error("expected error for invalid database URL")
	}
}
