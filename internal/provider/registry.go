package provider

import (
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/openintel/internal/fanout"
	"github.com/hitoshi/openintel/internal/provider/catalog"
	"github.com/hitoshi/openintel/internal/security"
)

// Config はアダプター群の構成。APIキーが空のアダプターは登録されるが常に見送る。
type Config struct {
	HIBPKey           string
	EmailRepKey       string
	HunterKey         string
	NumverifyKey      string
	AbstractPhoneKey  string
	SocialSearcherKey string
	NewsAPIKey        string

	Timeout           time.Duration
	ProbeTimeout      time.Duration
	AvatarTimeout     time.Duration
	ReputationTimeout time.Duration
}

// All は全アダプターを識別子の種類順に生成する。
// ハンドル探索にはURLGuardで保護したクライアントを使用する。
func All(cfg Config, deps Deps) ([]fanout.Adapter, error) {
	platforms, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("ハンドル探索カタログの読み込みに失敗しました: %w", err)
	}

	if deps.HTTPClient == nil {
		// 共有クライアントの上限は最も長いアダプターのタイムアウトに合わせる
		deps.HTTPClient = NewHTTPClient(max(cfg.Timeout, cfg.ReputationTimeout))
	}

	guard := security.NewURLGuard()
	safeClient := guard.NewSafeClient(cfg.ProbeTimeout)
	safeClient.Transport = otelhttp.NewTransport(safeClient.Transport)
	probeDeps := deps
	probeDeps.HTTPClient = safeClient

	sanitizer := security.NewTextSanitizer()

	return []fanout.Adapter{
		NewHIBP(cfg.HIBPKey, cfg.Timeout, deps),
		NewEmailRep(cfg.EmailRepKey, cfg.ReputationTimeout, deps),
		NewGravatar(cfg.AvatarTimeout, deps),
		NewHunter(cfg.HunterKey, cfg.Timeout, deps),
		NewNumverify(cfg.NumverifyKey, cfg.Timeout, deps),
		NewAbstractPhone(cfg.AbstractPhoneKey, cfg.Timeout, deps),
		NewHandleProbe(platforms, guard, sanitizer, cfg.ProbeTimeout, probeDeps),
		NewSocialSearcher(cfg.SocialSearcherKey, sanitizer, cfg.Timeout, deps),
		NewNewsAPI(cfg.NewsAPIKey, sanitizer, cfg.Timeout, deps),
		NewNewsRSS(sanitizer, cfg.Timeout, deps),
	}, nil
}
