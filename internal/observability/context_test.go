package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID(empty ctx) = %q, want empty", got)
	}
	ctx = WithCorrelationID(ctx, "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID = %q, want abc-123", got)
	}
}

func TestLoggerFrom(t *testing.T) {
	if LoggerFrom(context.Background()) != nil {
		t.Error("LoggerFrom(empty ctx) should be nil")
	}
	l := zap.NewNop()
	if got := LoggerFrom(WithLogger(context.Background(), l)); got != l {
		t.Error("LoggerFrom should return the stored logger")
	}
}
