// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力の自由記述テキスト（ワークアウト種別など）から
// HTMLタグを取り除き、エンティティを含まないプレーンテキストとして返す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はタグ除去とアンエスケープを繰り返す上限回数。
// エンティティで多重にエスケープされたタグも、この回数内で除去される。
const maxSanitizePasses = 5

// TextSanitizerService はプレーンテキスト化のインターフェースを定義する。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 結果はエスケープされていないプレーンテキスト（"Run & Bike" はそのまま）。
	Sanitize(raw string) string
}

// TextSanitizer はbluemondayのStrictPolicyによるTextSanitizerServiceの実装。
// ポリシーは生成後に変更しないため、複数goroutineから安全に使える。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのHTMLタグを除去し、エンティティを元の文字に戻す。
// アンエスケープで新たにタグが現れなくなるまで繰り返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	text := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	// 収束しない入力はタグの開始になり得る文字を落とす
	return strings.TrimSpace(strings.ReplaceAll(text, "<", ""))
}

var _ TextSanitizerService = (*TextSanitizer)(nil)
