// Package router turns chat messages into command invocations: it matches
// the command tree, checks ownership, wraps handlers in middleware and runs
// them on a bounded worker pool.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"whatsched/internal/runtime/supervisor"
	kit "whatsched/internal/transport"
	logx "whatsched/pkg/logx"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type Command struct {
	// Route is a space-separated command path, e.g. "session connect".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string // positionals after the route

	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Logger    logx.Logger

	sender Sender
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Flag returns a value flag or def.
func (r *Request) Flag(name, def string) string {
	if v, ok := r.Flags[name]; ok && v != "" {
		return v
	}
	return def
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Options struct {
	Owners  []int64
	Workers int
	Queue   int
	// Timeout applies to commands that set none.
	Timeout time.Duration
}

type Manager struct {
	log    logx.Logger
	sender Sender
	opts   Options

	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners []int64

	jobs chan func()
}

func NewManager(log logx.Logger, sender Sender, opts Options) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Manager{
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		opts:   opts,
		root:   &cmdNode{},
		alias:  map[string]*cmdNode{},
		owners: append([]int64(nil), opts.Owners...),
		jobs:   make(chan func(), opts.Queue),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetCommands installs the command registry. A help command is always added.
func (m *Manager) SetCommands(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	})

	root := &cmdNode{}
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := strings.Fields(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.insert(route, c)
		// "/session_connect" reaches "session connect" from the menu.
		if len(route) > 1 {
			alias[strings.Join(route, "_")] = leaf
		}
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.Contains(a, " ") {
				alias[a] = leaf
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()
}

// Menu returns the command menu for adapters implementing
// kit.CommandMenuUpdater.
func (m *Manager) Menu() []kit.BotCommand {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	var out []kit.BotCommand
	root.each(func(path []string, c *Command) {
		out = append(out, kit.BotCommand{Command: strings.Join(path, "_"), Description: c.Description})
	})
	return out
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.Options{Log: m.log})
	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, supervisor.Restart{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second, Record: true})
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if bot, _, ok := strings.Cut(word, "@"); ok {
		word = bot
	}
	args := parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	var cmd *Command
	if leaf, ok := alias[word]; ok {
		cmd = leaf.cmd
	} else if top, ok := root.kids[word]; ok {
		n, used := top.descend(args)
		cmd, args = n.cmd, args[used:]
	}
	if cmd == nil {
		if !m.isOwner(msg.FromID) {
			return
		}
		_, _ = m.sender.SendText(ctx, msg.Target(), "unknown command, try /help", nil)
		return
	}
	m.enqueue(ctx, up, *cmd, args)
}

func (m *Manager) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		m.log.Warn("command from non-owner ignored", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Route))
		_, _ = m.sender.SendText(ctx, msg.Target(), "unauthorized", nil)
		return
	}

	pos, flags, bools := parseFlags(args)
	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      msg.Target(),
		FromID:    msg.FromID,
		Command:   cmd.Route,
		Args:      pos,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Route),
		),
		sender: m.sender,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReplyError(),
		MWTimeout(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.sender.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}
