package model

import "time"

// ProjectType はプロジェクトの種別。
type ProjectType string

const (
	// ProjectTypeSoftware はソフトウェアプロジェクト。
	ProjectTypeSoftware ProjectType = "software"
	// ProjectTypeHardware はハードウェアプロジェクト。
	ProjectTypeHardware ProjectType = "hardware"
)

// IsValid は既知のプロジェクト種別かどうかを返す。
func (t ProjectType) IsValid() bool {
	switch t {
	case ProjectTypeSoftware, ProjectTypeHardware:
		return true
	default:
		return false
	}
}

// Project は提案されたプロジェクトを表す。
// Membersは更新・削除を許可されたユーザーの集合（membership set）であり、
// 認可判定の唯一の根拠となる。ロールやオーナーの概念は持たない。
type Project struct {
	ID           string
	Name         string
	DateProposed time.Time
	Time         time.Time
	Type         ProjectType
	Description  string
	GitHub       string
	URL          string
	Members      []User
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasMember は指定ユーザーがmembership setに含まれるかどうかを返す。
func (p *Project) HasMember(userID string) bool {
	for _, m := range p.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// MemberIDs はmembership setのユーザーID一覧を返す。
func (p *Project) MemberIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ID)
	}
	return ids
}
