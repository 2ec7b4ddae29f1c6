package fulfillment

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// TemporaryPasswordLength は仮パスワードの文字数。
	TemporaryPasswordLength = 12
	// temporaryPasswordEntropy は仮パスワード1回の生成に使う乱数のバイト数。
	temporaryPasswordEntropy = 12
)

var stripBase64Symbols = strings.NewReplacer("+", "", "/", "", "=", "")

// GenerateTemporaryPassword は英数字12文字の仮パスワードを生成する。
// 12バイトの乱数を標準base64で符号化し、+ / = を除いた先頭12文字を使う。
// 除去後に12文字に満たない場合は生成し直す。
func GenerateTemporaryPassword() (string, error) {
	return generateTemporaryPassword(rand.Reader)
}

func generateTemporaryPassword(r io.Reader) (string, error) {
	buf := make([]byte, temporaryPasswordEntropy)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("乱数の生成に失敗しました: %w", err)
		}
		s := stripBase64Symbols.Replace(base64.StdEncoding.EncodeToString(buf))
		if len(s) >= TemporaryPasswordLength {
			return s[:TemporaryPasswordLength], nil
		}
	}
}
