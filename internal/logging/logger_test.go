package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "text")
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=inf", "c=3", "level=ERROR", "d=4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "text")
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing:\n%s", out)
	}
}

func TestSlogLogger_WithAndJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json").With("component", "asm")
	log.Info(context.Background(), "hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"asm"`) {
		t.Errorf("json output missing attribute:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNop(t *testing.T) {
	Nop().Error(context.Background(), "discarded", "k", "v")
}

func TestFatal_LogsThenExits(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	var buf bytes.Buffer
	Fatal(context.Background(), New(&buf, "info", "text"), "db open failed", "error", "connection refused")

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	out := buf.String()
	for _, want := range []string{"level=ERROR", `msg="db open failed"`, `error="connection refused"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
