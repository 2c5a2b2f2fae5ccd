package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// IdentifierKind は識別子の種類を表す。
type IdentifierKind string

const (
	// KindEmail はメールアドレス。
	KindEmail IdentifierKind = "email"
	// KindPhone は電話番号。
	KindPhone IdentifierKind = "phone"
	// KindUsername はSNS等のハンドル名。
	KindUsername IdentifierKind = "username"
	// KindName は人名・組織名などの自由記述名。
	KindName IdentifierKind = "name"
)

// kindOrder はtarget決定とファンアウト時の識別子の優先順位。
var kindOrder = []IdentifierKind{KindEmail, KindPhone, KindUsername, KindName}

// Identifiers はクエリに含まれる識別子の集合。空文字列は未指定を表す。
type Identifiers struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Get は指定種類の識別子を返す。
func (ids Identifiers) Get(kind IdentifierKind) string {
	switch kind {
	case KindEmail:
		return ids.Email
	case KindPhone:
		return ids.Phone
	case KindUsername:
		return ids.Username
	case KindName:
		return ids.Name
	default:
		return ""
	}
}

// Present は値が指定されている識別子の種類を優先順位順に返す。
func (ids Identifiers) Present() []IdentifierKind {
	var kinds []IdentifierKind
	for _, k := range kindOrder {
		if ids.Get(k) != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// IsEmpty は識別子が1つも指定されていない場合にtrueを返す。
func (ids Identifiers) IsEmpty() bool {
	return len(ids.Present()) == 0
}

// Normalize は各識別子を正規化したコピーを返す。
//   - 全フィールド: 前後の空白を除去
//   - email: 小文字化
//   - phone: 先頭の+と数字のみ残す
//   - username: 先頭の@を除去し小文字化
//   - name: 連続する空白を1つにまとめる
func (ids Identifiers) Normalize() Identifiers {
	return Identifiers{
		Email:    strings.ToLower(strings.TrimSpace(ids.Email)),
		Phone:    normalizePhone(ids.Phone),
		Username: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ids.Username), "@")),
		Name:     strings.Join(strings.Fields(ids.Name), " "),
	}
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.String() == "+" {
		return ""
	}
	return b.String()
}

// DeriveUsername はメールアドレスのローカル部（@より前）をユーザー名候補として返す。
// 有効なローカル部がない場合は空文字列を返す。
func DeriveUsername(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return strings.TrimSpace(local)
}

// Query は1回の調査要求を表す。NewQueryでのみ生成でき、生成後は不変。
type Query struct {
	ids       Identifiers
	clientKey string
}

// NewQuery は識別子を正規化してQueryを生成する。
// 正規化後の識別子に制御文字が残る場合、または識別子が1つも残らない場合はErrValidationを返す。
func NewQuery(ids Identifiers, clientKey string) (Query, error) {
	normalized := ids.Normalize()
	for _, k := range kindOrder {
		if hasControl(normalized.Get(k)) {
			return Query{}, fmt.Errorf("%w: %s contains control characters", ErrValidation, k)
		}
	}
	if normalized.IsEmpty() {
		return Query{}, ErrValidation
	}
	return Query{ids: normalized, clientKey: clientKey}, nil
}

// hasControl は改行・タブを含む制御文字があればtrueを返す。
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// Identifiers は正規化済みの識別子を返す。
func (q Query) Identifiers() Identifiers {
	return q.ids
}

// ClientKey はレート制限に使用する呼び出し元の識別子を返す。
func (q Query) ClientKey() string {
	return q.clientKey
}

// Kind は検索種別（最優先で指定されている識別子の種類）を返す。
func (q Query) Kind() IdentifierKind {
	present := q.ids.Present()
	if len(present) == 0 {
		return ""
	}
	return present[0]
}

// Target はレスポンスのtargetとしてエコーする識別子の値を返す。
func (q Query) Target() string {
	return q.ids.Get(q.Kind())
}

// Fingerprint はキャッシュキーとなる順序非依存のフィンガープリントを返す。
// 指定済みフィールドの [kind, value] の組を固定の種類順に並べたJSONのSHA-256を取る。
// 大文字小文字の扱いはNormalizeに従い、ここでは変換しない。
// 派生ユーザー名は含まれない。
func (q Query) Fingerprint() string {
	pairs := make([][2]string, 0, len(kindOrder))
	for _, k := range q.ids.Present() {
		pairs = append(pairs, [2]string{string(k), q.ids.Get(k)})
	}
	// [][2]stringのエンコードは失敗しない
	raw, _ := json.Marshal(pairs)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
