// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// パイプラインが呼び出し元へ返す型付きエラー。
// プロバイダー単位の失敗はSignalBundle内のFailedとして吸収されるため、ここには含まれない。
var (
	// ErrValidation は識別子が1つも指定されていないことを示す（呼び出し元の誤り）。
	ErrValidation = errors.New("validation error")
	// ErrRateLimited はクライアントのアドミッションが拒否されたことを示す。
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidQuery はファンアウトが適用可能な識別子を受け取らなかったことを示す。
	ErrInvalidQuery = errors.New("invalid query")
	// ErrPersistenceUnavailable は監査ログの永続化先が構成されていないことを示す。
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// RateLimitError はレート制限による拒否と再試行までの待ち時間を表す。
// errors.Is(err, ErrRateLimited) が true になる。
type RateLimitError struct {
	ClientKey  string
	RetryAfter time.Duration
}

// Error はerrorインターフェースを実装する。
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is はErrRateLimitedとの比較を可能にする。
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// SkipError はプロバイダーが呼び出しを意図的に見送ったことを表す。
// ファンアウトはこのエラーをFailedではなくSkippedとして記録する。
type SkipError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip はSkippedとして記録されるエラーを生成する。
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, rate_limit, search, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidQuery   = "INVALID_QUERY"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewValidationError は識別子未指定エラーを生成する。
func NewValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "識別子（email、phone、username、name）のいずれかが必要です。",
		Category: "validation",
		Action:   "少なくとも1つの識別子を入力してください。",
	}
}

// NewConsentRequiredError は同意フラグ未指定エラーを生成する。
func NewConsentRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "公開情報の調査に対する同意が必要です。",
		Category: "validation",
		Action:   "同意事項を確認し、consentをtrueにしてください。",
	}
}

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError(retryAfter time.Duration) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "rate_limit",
		Action:   fmt.Sprintf("%d秒待ってから再度お試しください。", retryAfterSeconds(retryAfter)),
	}
}

// NewInvalidQueryError は調査対象として処理できないクエリのエラーを生成する。
func NewInvalidQueryError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  "指定された識別子に対応するプロバイダーがありません。",
		Category: "search",
		Action:   "別の種類の識別子で検索してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// RetryAfterSeconds はRetry-Afterヘッダー用の秒数を返す。最小1秒。
func RetryAfterSeconds(d time.Duration) int {
	return retryAfterSeconds(d)
}

func retryAfterSeconds(d time.Duration) int {
	sec := int((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}
