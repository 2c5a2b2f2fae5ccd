// Package audit は調査要求の監査ログの記録と参照を提供する。
// 記録は呼び出し元を待たせず、失敗は記録して握りつぶす。
package audit

import (
	"time"

	"github.com/hitoshi/openintel/internal/model"
)

// Summary はSignalBundleの要約。JSONとして永続化される。
type Summary struct {
	BreachCount  int    `json:"breach_count"`
	ProfileCount int    `json:"profile_count"`
	Reputation   string `json:"reputation,omitempty"`
	Succeeded    int    `json:"succeeded"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
}

// Record は1件の監査ログ。
type Record struct {
	ID          string    `json:"id"`
	SearchType  string    `json:"search_type"`
	SearchValue string    `json:"search_value"`
	RiskScore   int       `json:"risk_score"`
	RiskTier    string    `json:"risk_tier"`
	Summary     Summary   `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRecord はレポートから監査ログを生成する。
func NewRecord(report *model.Report) Record {
	counts := report.Bundle.Counts()
	return Record{
		ID:          report.ID,
		SearchType:  string(report.SearchType),
		SearchValue: report.Target,
		RiskScore:   report.Assessment.Score,
		RiskTier:    string(report.Assessment.Tier),
		Summary: Summary{
			BreachCount:  report.BreachCount,
			ProfileCount: len(report.Profiles),
			Reputation:   report.Reputation,
			Succeeded:    counts.Succeeded,
			Skipped:      counts.Skipped,
			Failed:       counts.Failed,
		},
		CreatedAt: report.GeneratedAt,
	}
}
