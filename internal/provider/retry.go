package provider

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// statusClass はHTTPステータスコードによる応答の分類。
type statusClass int

const (
	// statusOK は成功（2xx）。
	statusOK statusClass = iota
	// statusStop は再試行しても結果が変わらない応答（404/410/401/403）。
	statusStop
	// statusBackoff は時間をおけば回復しうる応答（429/5xx）。
	statusBackoff
	// statusUnknown はそれ以外。
	statusUnknown
)

const (
	// maxAttempts は1回の問い合わせで送信する最大回数。
	maxAttempts = 2
	// initialBackoff は再送までの初回遅延。
	initialBackoff = 250 * time.Millisecond
	// maxBackoff は再送までの最大遅延。Retry-Afterがこれを超える場合は再送しない。
	maxBackoff = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを分類する。
func classifyStatus(statusCode int) statusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return statusOK
	case statusCode == 404 || statusCode == 410:
		return statusStop
	case statusCode == 401 || statusCode == 403:
		return statusStop
	case statusCode == 429:
		return statusBackoff
	case statusCode >= 500:
		return statusBackoff
	default:
		return statusUnknown
	}
}

// calculateBackoff は送信済み回数に基づいて指数バックオフ遅延を計算する。
// 初回250ミリ秒、2倍ずつ増加、最大2秒。
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryDelay は再送までの遅延を返す。
// Retry-Afterヘッダー（秒数）があればそれに従い、maxBackoffを超える場合は再送しない。
func retryDelay(attempt int, retryAfter string) (time.Duration, bool) {
	if retryAfter == "" {
		return calculateBackoff(attempt), true
	}
	sec, err := strconv.Atoi(retryAfter)
	if err != nil || sec < 0 {
		return calculateBackoff(attempt), true
	}
	d := time.Duration(sec) * time.Second
	if d > maxBackoff {
		return 0, false
	}
	return d, true
}

// shouldRetry は応答を受けて再送するかどうかと、その遅延を返す。
// ボディを持つリクエストや、遅延後にコンテキストの期限を超える場合は再送しない。
func shouldRetry(ctx context.Context, req *http.Request, resp *http.Response, attempt int) (time.Duration, bool) {
	if attempt+1 >= maxAttempts || req.Body != nil {
		return 0, false
	}
	if classifyStatus(resp.StatusCode) != statusBackoff {
		return 0, false
	}
	delay, ok := retryDelay(attempt, resp.Header.Get("Retry-After"))
	if !ok {
		return 0, false
	}
	if deadline, has := ctx.Deadline(); has && time.Until(deadline) <= delay {
		return 0, false
	}
	return delay, true
}

// sleepContext はdだけ待つ。待機中にctxが終了した場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
