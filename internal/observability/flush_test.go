package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestFlushTelemetry(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil logger) error = %v", err)
	}
	if err := FlushTelemetry(context.Background(), zap.NewNop()); err != nil {
		t.Errorf("FlushTelemetry(nop) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FlushTelemetry(ctx, zap.NewNop()); err == nil {
		t.Error("FlushTelemetry(cancelled ctx) error = nil, want context error")
	}
}
