package model

import "time"

// Category はプロバイダーが返すシグナルの分類を表す。
type Category string

const (
	// CategoryBreach はデータ侵害の件数と一覧。
	CategoryBreach Category = "breach"
	// CategoryReputation はメールアドレスの評判ラベル。
	CategoryReputation Category = "reputation"
	// CategoryIdentity はアバター等の公開プロフィール情報。
	CategoryIdentity Category = "identity"
	// CategoryDomain はメールドメインの組織情報。
	CategoryDomain Category = "domain"
	// CategoryCarrier は電話番号のキャリア・地域情報。
	CategoryCarrier Category = "carrier"
	// CategoryHandles はSNSハンドルの存在確認結果。
	CategoryHandles Category = "handles"
	// CategoryNews はニュース記事・言及。
	CategoryNews Category = "news"
)

// Status はプロバイダー呼び出しの結果状態を表す。
type Status string

const (
	// StatusSuccess はプロバイダーが結果を返したことを示す。
	StatusSuccess Status = "success"
	// StatusSkipped はプロバイダーが呼び出しを見送ったことを示す（APIキー未設定等）。
	StatusSkipped Status = "skipped"
	// StatusFailed はエラーまたはタイムアウトで結果が得られなかったことを示す。
	StatusFailed Status = "failed"
)

// BreachPayload はデータ侵害の検出結果。
type BreachPayload struct {
	Count    int      `json:"count"`
	Breaches []string `json:"breaches,omitempty"`
}

// ReputationPayload はメールアドレスの評判。
type ReputationPayload struct {
	Label      string `json:"label"`
	Suspicious bool   `json:"suspicious"`
	References int    `json:"references,omitempty"`
}

// AvatarPayload は公開アバターの有無。
type AvatarPayload struct {
	Exists bool   `json:"exists"`
	URL    string `json:"url,omitempty"`
}

// DomainPayload はメールドメインの組織情報。
type DomainPayload struct {
	Domain       string `json:"domain"`
	Organization string `json:"organization,omitempty"`
	Emails       int    `json:"emails"`
}

// CarrierPayload は電話番号の検証結果。
type CarrierPayload struct {
	Valid       bool   `json:"valid"`
	Carrier     string `json:"carrier,omitempty"`
	LineType    string `json:"line_type,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Profile は発見された公開プロフィール。
type Profile struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// HandlesPayload はハンドル探索で見つかったプロフィール一覧。
type HandlesPayload struct {
	Checked int       `json:"checked"`
	Found   []Profile `json:"found"`
}

// Article はニュース記事または言及。
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// NewsPayload はニュース記事の一覧。
type NewsPayload struct {
	Articles []Article `json:"articles"`
}

// Payload はカテゴリごとに1つのフィールドだけが設定されるタグ付きユニオン。
type Payload struct {
	Breach     *BreachPayload     `json:"breach,omitempty"`
	Reputation *ReputationPayload `json:"reputation,omitempty"`
	Avatar     *AvatarPayload     `json:"avatar,omitempty"`
	Domain     *DomainPayload     `json:"domain,omitempty"`
	Carrier    *CarrierPayload    `json:"carrier,omitempty"`
	Handles    *HandlesPayload    `json:"handles,omitempty"`
	News       *NewsPayload       `json:"news,omitempty"`
}

// ProviderResult は1つのプロバイダー呼び出しの結果。
type ProviderResult struct {
	Provider   string   `json:"provider"`
	Category   Category `json:"category"`
	Status     Status   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Payload    Payload  `json:"payload"`
}

// Success は成功結果を生成する。
func Success(provider string, category Category, payload Payload, d time.Duration) ProviderResult {
	return ProviderResult{
		Provider:   provider,
		Category:   category,
		Status:     StatusSuccess,
		DurationMS: d.Milliseconds(),
		Payload:    payload,
	}
}

// Skipped は見送り結果を生成する。
func Skipped(provider string, category Category, reason string, d time.Duration) ProviderResult {
	return ProviderResult{
		Provider:   provider,
		Category:   category,
		Status:     StatusSkipped,
		Reason:     reason,
		DurationMS: d.Milliseconds(),
	}
}

// Failed は失敗結果を生成する。
func Failed(provider string, category Category, errMsg string, d time.Duration) ProviderResult {
	return ProviderResult{
		Provider:   provider,
		Category:   category,
		Status:     StatusFailed,
		Error:      errMsg,
		DurationMS: d.Milliseconds(),
	}
}
