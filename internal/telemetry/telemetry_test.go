package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestSetup_EmptyEndpointIsNoop(t *testing.T) {
	var buf bytes.Buffer
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), "openintel", "", newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("エンドポイント未設定時にグローバルTracerProviderを変更すべきではない")
	}
	if !strings.Contains(buf.String(), "tracing disabled") {
		t.Errorf("無効化のログが出力されていない: %s", buf.String())
	}
}

func TestSetup_WithEndpointInstallsProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	// エクスポーターは送信時まで接続しないため、到達不能なアドレスでも生成できる
	shutdown, err := Setup(context.Background(), "openintel", "127.0.0.1:1", newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if otel.GetTracerProvider() == prev {
		t.Error("TracerProviderが設定されていない")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestExporterOptions(t *testing.T) {
	if got := len(exporterOptions("collector:4318")); got != 2 {
		t.Errorf("host:port should yield endpoint+insecure options, got %d", got)
	}
	if got := len(exporterOptions("https://collector.example.com/v1/traces")); got != 1 {
		t.Errorf("URL should yield a single endpoint URL option, got %d", got)
	}
}
