package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/openintel/internal/model"
)

const (
	numverifyEndpoint     = "http://apilayer.net/api/validate"
	abstractPhoneEndpoint = "https://phonevalidation.abstractapi.com/v1/"
)

// Numverify はapilayer numverifyの電話番号検証アダプター。
type Numverify struct {
	client
	apiKey   string
	timeout  time.Duration
	endpoint string
}

// NewNumverify はNumverifyアダプターを生成する。
func NewNumverify(apiKey string, timeout time.Duration, deps Deps) *Numverify {
	return &Numverify{
		client:   newClient("numverify", rate.Every(time.Second), 3, deps),
		apiKey:   apiKey,
		timeout:  timeout,
		endpoint: numverifyEndpoint,
	}
}

func (a *Numverify) Name() string               { return a.name }
func (a *Numverify) Kind() model.IdentifierKind { return model.KindPhone }
func (a *Numverify) Category() model.Category   { return model.CategoryCarrier }
func (a *Numverify) Timeout() time.Duration     { return a.timeout }

// Lookup は電話番号のキャリアと地域を取得する。
// apilayerはエラー時も200で success=false を返すため、本文で判定する。
func (a *Numverify) Lookup(ctx context.Context, phone string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}

	q := url.Values{}
	q.Set("access_key", a.apiKey)
	q.Set("number", phone)

	var body struct {
		Success     *bool  `json:"success"`
		Valid       bool   `json:"valid"`
		CountryCode string `json:"country_code"`
		CountryName string `json:"country_name"`
		Location    string `json:"location"`
		Carrier     string `json:"carrier"`
		LineType    string `json:"line_type"`
		Error       struct {
			Code int    `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"?"+q.Encode(), nil, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}
	if body.Success != nil && !*body.Success {
		return model.Payload{}, fmt.Errorf("numverify がエラーを返しました: %d %s", body.Error.Code, body.Error.Info)
	}

	return model.Payload{Carrier: &model.CarrierPayload{
		Valid:       body.Valid,
		Carrier:     body.Carrier,
		LineType:    body.LineType,
		Country:     body.CountryName,
		CountryCode: body.CountryCode,
		Location:    body.Location,
	}}, nil
}

// AbstractPhone はAbstract APIの電話番号検証アダプター。
type AbstractPhone struct {
	client
	apiKey   string
	timeout  time.Duration
	endpoint string
}

// NewAbstractPhone はAbstractPhoneアダプターを生成する。無料枠は毎秒1回まで。
func NewAbstractPhone(apiKey string, timeout time.Duration, deps Deps) *AbstractPhone {
	return &AbstractPhone{
		client:   newClient("abstract-phone", rate.Every(time.Second), 1, deps),
		apiKey:   apiKey,
		timeout:  timeout,
		endpoint: abstractPhoneEndpoint,
	}
}

func (a *AbstractPhone) Name() string               { return a.name }
func (a *AbstractPhone) Kind() model.IdentifierKind { return model.KindPhone }
func (a *AbstractPhone) Category() model.Category   { return model.CategoryCarrier }
func (a *AbstractPhone) Timeout() time.Duration     { return a.timeout }

// Lookup は電話番号の有効性、回線種別、国を取得する。
func (a *AbstractPhone) Lookup(ctx context.Context, phone string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}

	q := url.Values{}
	q.Set("api_key", a.apiKey)
	q.Set("phone", phone)

	var body struct {
		Valid   bool   `json:"valid"`
		Type    string `json:"type"`
		Carrier string `json:"carrier"`
		Country struct {
			Code   string `json:"code"`
			Name   string `json:"name"`
			Prefix string `json:"prefix"`
		} `json:"country"`
		Location string `json:"location"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"?"+q.Encode(), nil, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}

	return model.Payload{Carrier: &model.CarrierPayload{
		Valid:       body.Valid,
		Carrier:     body.Carrier,
		LineType:    body.Type,
		Country:     body.Country.Name,
		CountryCode: body.Country.Code,
		Location:    body.Location,
	}}, nil
}
