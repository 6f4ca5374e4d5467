package logx

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "whatsched/internal/transport"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	got := formatTelegramLine([]byte(`{"level":"warn","message":"delivery failed","job":"j1","comp":"dispatch","time":"x"}`))
	want := "[WARN] delivery failed\n- comp=dispatch\n- job=j1"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramLine([]byte("  plain line \n"))
	if got != "plain line" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if parseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatal("expected warn")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatal("expected default")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Warn("ignored")
}

type recordingSender struct {
	lines chan string
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.lines <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestTelegramSinkAttachedLater(t *testing.T) {
	cfg := Config{Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}}
	svc, log := New(cfg, nil)
	defer svc.Close()

	rec := &recordingSender{lines: make(chan string, 4)}
	svc.SetSender(rec)
	svc.SetTelegramTarget(-100, 0)
	svc.Apply(cfg)

	log.Info("below the forward level")
	log.Warn("bridge lost", String("comp", "session"))

	select {
	case got := <-rec.lines:
		if got != "[WARN] bridge lost\n- caller="+callerOf(t, got)+"\n- comp=session" {
			t.Fatalf("forwarded line = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warn line was not forwarded")
	}
	select {
	case got := <-rec.lines:
		t.Fatalf("unexpected extra line %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// callerOf extracts the caller value so the assertion does not pin a line
// number.
func callerOf(t *testing.T, line string) string {
	t.Helper()
	_, rest, ok := strings.Cut(line, "- caller=")
	if !ok {
		t.Fatalf("no caller in %q", line)
	}
	caller, _, _ := strings.Cut(rest, "\n")
	if !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q, want this test file", caller)
	}
	return caller
}

func TestErrNilIsNoField(t *testing.T) {
	t.Parallel()
	if Err(nil) != nil {
		t.Fatal("Err(nil) should add nothing")
	}
}
