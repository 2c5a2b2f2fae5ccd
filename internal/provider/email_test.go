package provider

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/openintel/internal/model"
)

func TestHIBP_MissingKeySkips(t *testing.T) {
	var buf bytes.Buffer
	a := NewHIBP("", time.Second, Deps{Logger: newTestLogger(&buf)})

	_, err := a.Lookup(context.Background(), "alice@example.com")
	assertSkipped(t, err, "no API key")
}

func TestHIBP_ReturnsBreaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("hibp-api-key") != "secret" {
			t.Errorf("hibp-api-key = %q, want secret", r.Header.Get("hibp-api-key"))
		}
		if !strings.HasSuffix(r.URL.Path, "/alice@example.com") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("truncateResponse") != "false" {
			t.Errorf("truncateResponse = %q, want false", r.URL.Query().Get("truncateResponse"))
		}
		w.Write([]byte(`[{"Name":"Adobe"},{"Name":"LinkedIn"}]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewHIBP("secret", time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	payload, err := a.Lookup(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if payload.Breach == nil || payload.Breach.Count != 2 {
		t.Fatalf("Breach = %+v, want count 2", payload.Breach)
	}
	if payload.Breach.Breaches[0] != "Adobe" || payload.Breach.Breaches[1] != "LinkedIn" {
		t.Errorf("Breaches = %v", payload.Breach.Breaches)
	}
}

func TestHIBP_NotFoundMeansNoBreaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewHIBP("secret", time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	payload, err := a.Lookup(context.Background(), "clean@example.com")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if payload.Breach == nil || payload.Breach.Count != 0 {
		t.Errorf("Breach = %+v, want count 0", payload.Breach)
	}
}

func TestHIBP_ServerErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewHIBP("bad", time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	_, err := a.Lookup(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("401でエラーが返されるべき")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("エラーにステータスが含まれていない: %v", err)
	}
	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("WARNログが出力されていない: %s", buf.String())
	}
}

func TestEmailRep_Labels(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malicious activity", `{"reputation":"low","suspicious":true,"details":{"malicious_activity":true}}`, "malicious"},
		{"suspicious", `{"reputation":"low","suspicious":true,"references":3}`, "suspicious"},
		{"plain reputation", `{"reputation":"HIGH","suspicious":false}`, "high"},
		{"empty reputation", `{"suspicious":false}`, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var buf bytes.Buffer
			a := NewEmailRep("", time.Second, testDeps(server, &buf))
			a.endpoint = server.URL

			payload, err := a.Lookup(context.Background(), "alice@example.com")
			if err != nil {
				t.Fatalf("Lookup がエラーを返した: %v", err)
			}
			if payload.Reputation == nil || payload.Reputation.Label != tt.want {
				t.Errorf("Reputation = %+v, want label %q", payload.Reputation, tt.want)
			}
		})
	}
}

func TestEmailRep_SendsKeyWhenConfigured(t *testing.T) {
	gotKey := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("Key")
		w.Write([]byte(`{"reputation":"medium"}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewEmailRep("k123", time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	if _, err := a.Lookup(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if key := <-gotKey; key != "k123" {
		t.Errorf("Key = %q, want k123", key)
	}
}

func TestGravatar_AvatarExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("HTTPメソッド = %s, want HEAD", r.Method)
		}
		if r.URL.Query().Get("d") != "404" {
			t.Errorf("d = %q, want 404", r.URL.Query().Get("d"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewGravatar(time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	payload, err := a.Lookup(context.Background(), " Alice@Example.com ")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if payload.Avatar == nil || !payload.Avatar.Exists {
		t.Fatalf("Avatar = %+v, want exists", payload.Avatar)
	}
	// 正規化後のアドレスでハッシュされる
	if payload.Avatar.URL != GravatarURL(server.URL, "alice@example.com") {
		t.Errorf("URL = %q", payload.Avatar.URL)
	}
}

func TestGravatar_NoAvatar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewGravatar(time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	payload, err := a.Lookup(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if payload.Avatar == nil || payload.Avatar.Exists || payload.Avatar.URL != "" {
		t.Errorf("Avatar = %+v, want not exists", payload.Avatar)
	}
}

func TestGravatarURL_KnownHash(t *testing.T) {
	got := GravatarURL("https://www.gravatar.com/avatar", "MyEmailAddress@example.com ")
	want := "https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?d=404"
	if got != want {
		t.Errorf("GravatarURL() = %q, want %q", got, want)
	}
}

func TestHunter_SkipsPersonalDomain(t *testing.T) {
	var buf bytes.Buffer
	a := NewHunter("key", time.Second, Deps{Logger: newTestLogger(&buf)})

	_, err := a.Lookup(context.Background(), "alice@gmail.com")
	assertSkipped(t, err, "personal domain")
}

func TestHunter_MissingKeySkips(t *testing.T) {
	var buf bytes.Buffer
	a := NewHunter("", time.Second, Deps{Logger: newTestLogger(&buf)})

	_, err := a.Lookup(context.Background(), "alice@acme.io")
	assertSkipped(t, err, "no API key")
}

func TestHunter_ReturnsOrganization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("domain") != "acme.io" {
			t.Errorf("domain = %q, want acme.io", r.URL.Query().Get("domain"))
		}
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("api_key = %q, want key", r.URL.Query().Get("api_key"))
		}
		w.Write([]byte(`{"data":{"organization":"Acme","emails":[{"value":"a@acme.io"},{"value":"b@acme.io"}]}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	a := NewHunter("key", time.Second, testDeps(server, &buf))
	a.endpoint = server.URL

	payload, err := a.Lookup(context.Background(), "alice@ACME.io")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	want := model.DomainPayload{Domain: "acme.io", Organization: "Acme", Emails: 2}
	if payload.Domain == nil || *payload.Domain != want {
		t.Errorf("Domain = %+v, want %+v", payload.Domain, want)
	}
}
