// Package risk はシグナルからリスクスコアを算出する。
// 入力が同じであれば常に同じ結果を返す純粋関数のみを提供する。
package risk

import "github.com/hitoshi/openintel/internal/model"

// スコア算出の定数。
const (
	baseScore = 15

	manyBreachThreshold = 3  // これを超える侵害件数は重度
	manyBreachPoints    = 50 // 重度の侵害
	someBreachPoints    = 30 // 1件以上の侵害

	noProfilePoints        = 20 // プロフィール0件（匿名性シグナル）
	publicProfileThreshold = 4  // これを超えるプロフィール数は公開性が高い
	publicProfilePoints    = -10

	maliciousPoints  = 60
	suspiciousPoints = 35

	minScore = 0
	maxScore = 100
)

// 区分の下限スコア。
const (
	criticalFloor = 75
	warningFloor  = 45
	elevatedFloor = 25
)

// Signals はスコア算出に使用する集約済みシグナル。
type Signals struct {
	BreachCount  int
	ProfileCount int
	Reputation   string
}

// SignalsFrom はSignalBundleからスコア算出用のシグナルを抽出する。
func SignalsFrom(b *model.SignalBundle) Signals {
	return Signals{
		BreachCount:  b.BreachCount(),
		ProfileCount: len(b.Profiles()),
		Reputation:   b.Reputation(),
	}
}

// Score はSignalBundleのリスクを評価する。
func Score(b *model.SignalBundle) model.RiskAssessment {
	return Assess(SignalsFrom(b))
}

// Assess はシグナルからリスクスコアと区分を算出する。
//   - 侵害: 3件超で+50、1件以上で+30
//   - プロフィール: 0件で+20、4件超で-10
//   - 評判: maliciousで+60、suspiciousで+35（maliciousが優先）
//
// 結果は[0, 100]に丸められる。
func Assess(s Signals) model.RiskAssessment {
	score := baseScore

	switch {
	case s.BreachCount > manyBreachThreshold:
		score += manyBreachPoints
	case s.BreachCount > 0:
		score += someBreachPoints
	}

	switch {
	case s.ProfileCount == 0:
		score += noProfilePoints
	case s.ProfileCount > publicProfileThreshold:
		score += publicProfilePoints
	}

	switch s.Reputation {
	case model.ReputationMalicious:
		score += maliciousPoints
	case model.ReputationSuspicious:
		score += suspiciousPoints
	}

	score = min(max(score, minScore), maxScore)

	return model.RiskAssessment{Score: score, Tier: TierFor(score)}
}

// TierFor はスコアに対応する区分を返す。
func TierFor(score int) model.RiskTier {
	switch {
	case score >= criticalFloor:
		return model.TierCritical
	case score >= warningFloor:
		return model.TierWarning
	case score >= elevatedFloor:
		return model.TierElevated
	default:
		return model.TierSecure
	}
}
