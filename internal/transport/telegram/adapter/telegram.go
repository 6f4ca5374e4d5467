// Package adapter connects the bot router and the telegram delivery driver
// to the Bot API through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "whatsched/internal/runtime/supervisor"
	kit "whatsched/internal/transport"
	logx "whatsched/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter long-polls for owner commands and sends text to chats. It serves
// both the command router and the telegram delivery driver.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update // nil while stopped
	sup *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu sync.Mutex
	menu   string // key of the last published menu
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) { log.Warn("telebot error", logx.Err(err)) },
	})
	if err != nil {
		return nil, err
	}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := toUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	a.bot = b
	return a, nil
}

// toUpdate keeps text messages that carry a sender and a chat.
func toUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}}, true
}

// forward hands up to the router without blocking the poller. Drops are
// logged at powers of two.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		if n := a.dropped.Add(1); n&(n-1) == 0 {
			a.log.Warn("router queue full, update dropped", logx.Uint64("dropped", n), logx.Int("queue_cap", cap(out)))
		}
	}
}

// Start begins polling. Updates go to out; a nil out runs the adapter send
// only. A second Start is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.New(ctx, rtsup.Options{Log: a.log})
	if out == nil {
		return nil
	}
	a.sup.Go0("telebot.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop, so a return before cancellation is
	// a failure worth restarting.
	a.sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, rtsup.Restart{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second, Forever: true, Record: true})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	// An in-flight getUpdates may hold the poller for PollTimeout.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram poller still running at stop")
	}
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. A chunk ends at the
// last newline in its final two thirds when there is one, and in HTML mode
// never inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	for len(rs) > 0 {
		n := len(rs)
		if n > limit {
			n = cutPoint(rs[:limit], limit/3, html)
		}
		out = append(out, strings.TrimRight(string(rs[:n]), "\n"))
		rs = rs[n:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

// cutPoint returns how many runes of window to emit.
func cutPoint(window []rune, floor int, html bool) int {
	n := len(window)
	for i := n - 1; i >= floor; i-- {
		if window[i] == '\n' {
			n = i + 1
			break
		}
	}
	if html {
		open := -1
		for i := n - 1; i >= 0; i-- {
			if window[i] == '>' {
				break
			}
			if window[i] == '<' {
				open = i
				break
			}
		}
		if open > 0 {
			n = open
		}
	}
	return n
}

// SendText sends text, split into several messages when it is too long.
// The returned ref points at the first one.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var so tele.SendOptions
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
		so.ParseMode = tele.ParseMode(opt.ParseMode)
		so.DisableWebPagePreview = opt.DisablePreview
	}
	so.ThreadID = to.ThreadID

	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, chunk := range splitText(text, textLimit, mode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		msg, err := a.bot.Send(chat, chunk, &so)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

// menuCommands converts cmds to the Bot API shape and returns a key that
// identifies the list. Telegram allows 100 commands with descriptions of at
// most 256 bytes.
func menuCommands(cmds []kit.BotCommand) ([]tele.Command, string) {
	var key strings.Builder
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" || len(menu) == 100 {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		key.WriteString(c.Command + "\x00" + d + "\x00")
		menu = append(menu, tele.Command{Text: c.Command, Description: d})
	}
	return menu, key.String()
}

// UpdateMenuCommands publishes the bot's command menu when it differs from
// the last one published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	menu, key := menuCommands(cmds)
	if key == a.menu {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = key
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
