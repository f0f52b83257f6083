// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GoogleSubjectはGoogleが発行する安定した一意識別子（subクレーム）で、
// 初回ログイン時に1回だけ設定され、以後変更されない。
// EmailはGoogle側で変更されてもローカルレコードには反映しない（first-write-wins）。
// プロバイダー側のメールアドレス変更によってローカルアカウントが
// 別人に紐付け直されることを防ぐため。
type User struct {
	ID            string
	Email         string
	GoogleSubject string
	CreatedAt     time.Time
}

// LoginToken はログイン済みクライアントに払い出すセッショントークンを表す。
// IDそのものがベアラ値であり、推測不可能な秘密情報として扱う。
// 1ユーザーが同時に複数のトークンを保持できる（端末ごとのログイン等）。
type LoginToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はトークンが期限切れかどうかを返す。
func (t *LoginToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
