package logger

import (
	"context"
	"testing"

	"contractlab/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := globalLogger
	SetGlobal(&Logger{zap: zap.New(core)})
	defer SetGlobal(prev)

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.ProjectID, "course-7")
	Info(ctx, "compile finished", zap.Bool("success", true))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("missing trace_id: %v", fields)
	}
	if fields["project_id"] != "course-7" {
		t.Fatalf("missing project_id: %v", fields)
	}
	if fields["success"] != true {
		t.Fatalf("missing call field: %v", fields)
	}
}

func TestNilGlobalLoggerIsSafe(t *testing.T) {
	prev := globalLogger
	SetGlobal(nil)
	defer SetGlobal(prev)

	Info(context.Background(), "dropped")
	Warnf(context.Background(), "dropped %d", 1)
	if err := Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
