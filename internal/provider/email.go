package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/openintel/internal/model"
)

const (
	hibpEndpoint     = "https://haveibeenpwned.com/api/v3/breachedaccount"
	emailRepEndpoint = "https://emailrep.io"
	gravatarEndpoint = "https://www.gravatar.com/avatar"
	hunterEndpoint   = "https://api.hunter.io/v2/domain-search"
)

// personalDomains はドメイン検索の対象外とする個人向けメールドメイン。
var personalDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

// HIBP はHave I Been Pwnedのデータ侵害検索アダプター。
type HIBP struct {
	client
	apiKey   string
	timeout  time.Duration
	endpoint string
}

// NewHIBP はHIBPアダプターを生成する。無料枠に合わせて6秒に1回まで送信する。
func NewHIBP(apiKey string, timeout time.Duration, deps Deps) *HIBP {
	return &HIBP{
		client:   newClient("hibp", rate.Every(6*time.Second), 2, deps),
		apiKey:   apiKey,
		timeout:  timeout,
		endpoint: hibpEndpoint,
	}
}

func (a *HIBP) Name() string               { return a.name }
func (a *HIBP) Kind() model.IdentifierKind { return model.KindEmail }
func (a *HIBP) Category() model.Category   { return model.CategoryBreach }
func (a *HIBP) Timeout() time.Duration     { return a.timeout }

// Lookup はメールアドレスが含まれる侵害の一覧を取得する。404は侵害なしとして扱う。
func (a *HIBP) Lookup(ctx context.Context, email string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}

	reqURL := a.endpoint + "/" + url.PathEscape(email) + "?truncateResponse=false"
	header := http.Header{}
	header.Set("hibp-api-key", a.apiKey)

	var breaches []struct {
		Name string `json:"Name"`
	}
	status, err := a.getJSON(ctx, reqURL, header, &breaches)
	if err != nil {
		return model.Payload{}, err
	}

	switch status {
	case http.StatusOK:
		names := make([]string, 0, len(breaches))
		for _, b := range breaches {
			names = append(names, b.Name)
		}
		return model.Payload{Breach: &model.BreachPayload{Count: len(names), Breaches: names}}, nil
	case http.StatusNotFound:
		return model.Payload{Breach: &model.BreachPayload{Count: 0, Breaches: []string{}}}, nil
	default:
		return model.Payload{}, a.statusError(status)
	}
}

// EmailRep はemailrep.ioの評判検索アダプター。APIキーは任意。
type EmailRep struct {
	client
	apiKey   string
	timeout  time.Duration
	endpoint string
}

// NewEmailRep はEmailRepアダプターを生成する。
func NewEmailRep(apiKey string, timeout time.Duration, deps Deps) *EmailRep {
	return &EmailRep{
		client:   newClient("emailrep", rate.Every(time.Second), 5, deps),
		apiKey:   apiKey,
		timeout:  timeout,
		endpoint: emailRepEndpoint,
	}
}

func (a *EmailRep) Name() string               { return a.name }
func (a *EmailRep) Kind() model.IdentifierKind { return model.KindEmail }
func (a *EmailRep) Category() model.Category   { return model.CategoryReputation }
func (a *EmailRep) Timeout() time.Duration     { return a.timeout }

// Lookup はメールアドレスの評判を取得する。
// 悪性活動の記録があればmalicious、不審判定であればsuspiciousとする。
func (a *EmailRep) Lookup(ctx context.Context, email string) (model.Payload, error) {
	header := http.Header{}
	if a.apiKey != "" {
		header.Set("Key", a.apiKey)
	}

	var body struct {
		Reputation string `json:"reputation"`
		Suspicious bool   `json:"suspicious"`
		References int    `json:"references"`
		Details    struct {
			MaliciousActivity bool `json:"malicious_activity"`
		} `json:"details"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"/"+url.PathEscape(email), header, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}

	label := strings.ToLower(body.Reputation)
	switch {
	case body.Details.MaliciousActivity:
		label = model.ReputationMalicious
	case body.Suspicious:
		label = model.ReputationSuspicious
	case label == "":
		label = "none"
	}

	return model.Payload{Reputation: &model.ReputationPayload{
		Label:      label,
		Suspicious: body.Suspicious,
		References: body.References,
	}}, nil
}

// Gravatar は公開アバターの有無を確認するアダプター。APIキーは不要。
type Gravatar struct {
	client
	timeout  time.Duration
	endpoint string
}

// NewGravatar はGravatarアダプターを生成する。
func NewGravatar(timeout time.Duration, deps Deps) *Gravatar {
	return &Gravatar{
		client:   newClient("gravatar", rate.Every(100*time.Millisecond), 10, deps),
		timeout:  timeout,
		endpoint: gravatarEndpoint,
	}
}

func (a *Gravatar) Name() string               { return a.name }
func (a *Gravatar) Kind() model.IdentifierKind { return model.KindEmail }
func (a *Gravatar) Category() model.Category   { return model.CategoryIdentity }
func (a *Gravatar) Timeout() time.Duration     { return a.timeout }

// Lookup はメールアドレスのMD5ハッシュでアバターをHEADリクエストする。
// 200であればアバターあり、それ以外のステータスはアバターなしとして扱う。
func (a *Gravatar) Lookup(ctx context.Context, email string) (model.Payload, error) {
	avatarURL := GravatarURL(a.endpoint, email)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, avatarURL, nil)
	if err != nil {
		return model.Payload{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	resp, err := a.do(ctx, req)
	if err != nil {
		return model.Payload{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		return model.Payload{Avatar: &model.AvatarPayload{Exists: false}}, nil
	}
	return model.Payload{Avatar: &model.AvatarPayload{Exists: true, URL: avatarURL}}, nil
}

// GravatarURL はメールアドレスに対応するアバターURLを返す。
// 存在しない場合に404を返すよう d=404 を付与する。
func GravatarURL(endpoint, email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return endpoint + "/" + hex.EncodeToString(sum[:]) + "?d=404"
}

// Hunter はHunter.ioのドメイン検索アダプター。
type Hunter struct {
	client
	apiKey   string
	timeout  time.Duration
	endpoint string
}

// NewHunter はHunterアダプターを生成する。
func NewHunter(apiKey string, timeout time.Duration, deps Deps) *Hunter {
	return &Hunter{
		client:   newClient("hunter", rate.Every(time.Second), 5, deps),
		apiKey:   apiKey,
		timeout:  timeout,
		endpoint: hunterEndpoint,
	}
}

func (a *Hunter) Name() string               { return a.name }
func (a *Hunter) Kind() model.IdentifierKind { return model.KindEmail }
func (a *Hunter) Category() model.Category   { return model.CategoryDomain }
func (a *Hunter) Timeout() time.Duration     { return a.timeout }

// Lookup はメールドメインの組織名と公開アドレス数を取得する。
// 個人向けメールドメインは検索しない。
func (a *Hunter) Lookup(ctx context.Context, email string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}
	domain := emailDomain(email)
	if domain == "" {
		return model.Payload{}, model.Skip("no domain")
	}
	if personalDomains[domain] {
		return model.Payload{}, model.Skip("personal domain")
	}

	q := url.Values{}
	q.Set("domain", domain)
	q.Set("api_key", a.apiKey)

	var body struct {
		Data struct {
			Organization string `json:"organization"`
			Emails       []struct {
				Value string `json:"value"`
			} `json:"emails"`
		} `json:"data"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"?"+q.Encode(), nil, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}

	return model.Payload{Domain: &model.DomainPayload{
		Domain:       domain,
		Organization: body.Data.Organization,
		Emails:       len(body.Data.Emails),
	}}, nil
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
