package model

import (
	"fmt"
	"time"
)

// Disclaimer はすべてのレポートに付与される免責文。
const Disclaimer = "Data shown is collected from publicly available sources only."

// RiskTier はリスクスコアの区分を表す。
type RiskTier string

const (
	// TierSecure はスコア25未満。
	TierSecure RiskTier = "SECURE"
	// TierElevated はスコア25以上45未満。
	TierElevated RiskTier = "ELEVATED"
	// TierWarning はスコア45以上75未満。
	TierWarning RiskTier = "WARNING"
	// TierCritical はスコア75以上。
	TierCritical RiskTier = "CRITICAL"
)

// RiskAssessment はリスクスコアと区分。
type RiskAssessment struct {
	Score int      `json:"score"`
	Tier  RiskTier `json:"tier"`
}

// Report は1回の調査結果。生成後は変更しない。
type Report struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	Target      string         `json:"target"`
	SearchType  IdentifierKind `json:"search_type"`
	Bundle      *SignalBundle  `json:"bundle"`
	Profiles    []Profile      `json:"profiles"`
	BreachCount int            `json:"breach_count"`
	Reputation  string         `json:"reputation,omitempty"`
	Assessment  RiskAssessment `json:"risk"`
	Summary     string         `json:"summary"`
	GeneratedAt time.Time      `json:"generated_at"`
	Disclaimer  string         `json:"disclaimer"`
}

// Summarize はレポート概要文を生成する。
func Summarize(profileCount, breachCount int) string {
	return fmt.Sprintf("Investigative scan identified %d linked digital footprints and %d data breach signals.",
		profileCount, breachCount)
}
