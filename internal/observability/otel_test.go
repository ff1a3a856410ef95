package observability

import (
	"context"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/platform/logger"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.AppConfig{Name: "ragchat"}, config.TelemetryConfig{}, logger.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
