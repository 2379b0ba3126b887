package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func TestEventLoggerWritesSortedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logFn := EventLogger(zap.New(core).Named("checkout"))

	logFn(context.Background(), "order.created", map[string]any{
		"orderId":       "ORD-1",
		"customerEmail": "ana@example.com",
		"total":         3000,
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "order.created" || entry.Level != zapcore.InfoLevel {
		t.Fatalf("unexpected entry %s at %s", entry.Message, entry.Level)
	}
	fields := entry.ContextMap()
	if fields["customerEmail"] != "***@example.com" {
		t.Fatalf("expected masked email, got %v", fields["customerEmail"])
	}
	if fields["orderId"] != "ORD-1" {
		t.Fatalf("expected order id, got %v", fields["orderId"])
	}
}

func TestEventLoggerRaisesLevelForErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logFn := EventLogger(zap.New(core))

	logFn(context.Background(), "payment.session_failed", map[string]any{"error": errors.New("stripe down")})

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a warn entry, got %+v", entries)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	logFn := EventLogger(zap.New(baseCore).Named("reconciliation"))
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))

	logFn(ctx, "webhook.processed", nil)

	if baseLogs.Len() != 0 {
		t.Fatalf("expected base logger to stay silent")
	}
	entries := reqLogs.All()
	if len(entries) != 1 {
		t.Fatalf("expected request logger entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["component"] != "reconciliation" {
		t.Fatalf("expected component field, got %v", entries[0].ContextMap())
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := SanitizeEmail("ana@example.com"); got != "***@example.com" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeEmail("not-an-email"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
