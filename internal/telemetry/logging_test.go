package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newCapturedLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	baseHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(&traceHandler{baseHandler: baseHandler}), &buf
}

func spanContext(t *testing.T) (context.Context, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	ctx, span := StartSpan(context.Background(), "test-span")
	return ctx, func() {
		span.End()
		_ = tp.Shutdown(context.Background())
	}
}

func TestFilterLogsByLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     slog.Level
		logFunc   func(*slog.Logger, context.Context)
		shouldLog bool
	}{
		{
			name:  "debug level logs debug",
			level: slog.LevelDebug,
			logFunc: func(l *slog.Logger, ctx context.Context) {
				l.DebugContext(ctx, "debug message")
			},
			shouldLog: true,
		},
		{
			name:  "info level filters debug",
			level: slog.LevelInfo,
			logFunc: func(l *slog.Logger, ctx context.Context) {
				l.DebugContext(ctx, "debug message")
			},
			shouldLog: false,
		},
		{
			name:  "warn level filters info",
			level: slog.LevelWarn,
			logFunc: func(l *slog.Logger, ctx context.Context) {
				l.InfoContext(ctx, "info message")
			},
			shouldLog: false,
		},
		{
			name:  "error level logs error",
			level: slog.LevelError,
			logFunc: func(l *slog.Logger, ctx context.Context) {
				l.ErrorContext(ctx, "error message")
			},
			shouldLog: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newCapturedLogger(tt.level)

			tt.logFunc(logger, context.Background())

			if tt.shouldLog && buf.Len() == 0 {
				t.Error("expected log output but got none")
			}
			if !tt.shouldLog && buf.Len() > 0 {
				t.Errorf("expected no log output but got: %s", buf.String())
			}
		})
	}
}

func TestTraceAndSpanIDInclusion(t *testing.T) {
	t.Run("includes trace and span IDs when span is active", func(t *testing.T) {
		logger, buf := newCapturedLogger(slog.LevelInfo)
		ctx, done := spanContext(t)
		defer done()

		logger.InfoContext(ctx, "payment captured", "order_id", "ord_1")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output: %v", err)
		}

		if entry["trace_id"] != TraceID(ctx) {
			t.Errorf("trace_id = %v, want %v", entry["trace_id"], TraceID(ctx))
		}
		if entry["span_id"] != SpanID(ctx) {
			t.Errorf("span_id = %v, want %v", entry["span_id"], SpanID(ctx))
		}
		if entry["order_id"] != "ord_1" {
			t.Errorf("order_id = %v, want ord_1", entry["order_id"])
		}
	})

	t.Run("omits trace fields without an active span", func(t *testing.T) {
		logger, buf := newCapturedLogger(slog.LevelInfo)

		logger.InfoContext(context.Background(), "no span here")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output: %v", err)
		}

		if _, ok := entry["trace_id"]; ok {
			t.Error("trace_id should not be present without a span")
		}
		if _, ok := entry["span_id"]; ok {
			t.Error("span_id should not be present without a span")
		}
	})
}

func TestLogWithAttributesAndGroups(t *testing.T) {
	t.Run("chained With and WithGroup survive the trace handler", func(t *testing.T) {
		logger, buf := newCapturedLogger(slog.LevelInfo)

		logger.With("service", "checkout").WithGroup("order").Info("created", "id", "ord_2")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output: %v", err)
		}

		if entry["service"] != "checkout" {
			t.Errorf("service = %v, want checkout", entry["service"])
		}

		group, ok := entry["order"].(map[string]any)
		if !ok {
			t.Fatalf("expected nested order group, got %v", entry["order"])
		}
		if group["id"] != "ord_2" {
			t.Errorf("order.id = %v, want ord_2", group["id"])
		}
	})
}
