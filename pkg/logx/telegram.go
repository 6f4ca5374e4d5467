package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "whatsched/internal/transport"
)

// TextSender is the part of the transport adapter the Telegram sink needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type tgLine struct {
	to   kit.ChatTarget
	text string
}

// tgSink forwards log lines at or above minLevel to one chat. Lines over the
// rate limit, or arriving while the queue is full, are dropped so logging
// never waits on the network.
type tgSink struct {
	queue chan tgLine

	mu       sync.Mutex
	sender   TextSender
	chatID   int64
	threadID int
	minLevel Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTGSink(sender TextSender) *tgSink {
	return &tgSink{
		queue:    make(chan tgLine, 256),
		sender:   sender,
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *tgSink) setSender(sender TextSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *tgSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *tgSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	rps := max(1, cfg.RatePerSec)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
	if cfg.Enabled && t.sender != nil && t.chatID == 0 {
		fmt.Fprintln(stderr, "logx: telegram logging enabled but telegram.group_log is not set")
	}
}

// ready reports whether lines can be delivered, starting the worker on
// first use.
func (t *tgSink) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sender == nil {
		return false
	}
	if t.done == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel, t.done = cancel, make(chan struct{})
		go t.run(ctx, t.done)
	}
	return true
}

func (t *tgSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *tgSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-t.queue:
			t.mu.Lock()
			sender := t.sender
			t.mu.Unlock()
			_, _ = sender.SendText(ctx, l.to, l.text, &kit.SendOptions{DisablePreview: true})
		}
	}
}

func (t *tgSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *tgSink) WriteLevel(level Level, p []byte) (int, error) {
	t.mu.Lock()
	to := kit.ChatTarget{ChatID: t.chatID, ThreadID: t.threadID}
	pass := to.ChatID != 0 && level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if text := formatTelegramLine(p); text != "" {
		select {
		case t.queue <- tgLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramLine renders a JSON log line as "[LEVEL] msg" followed by
// one "- key=value" line per field, keys sorted.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, telegramMaxLen)
	}
	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), telegramMaxLen)
}

// truncate cuts s to at most n bytes, marking the cut with "..." when
// there is room for it.
func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
