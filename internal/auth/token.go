package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenIDBytes はセッショントークンIDのエントロピー（バイト数）。
// 256bitあれば総当たり・列挙は現実的に不可能。
const tokenIDBytes = 32

// generateTokenID は暗号的に安全なセッショントークンIDを生成する。
// トークンIDはベアラ値そのものであり、連番等の推測可能な値は使用しない。
func generateTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
