package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "whatsched/internal/transport"
	logx "whatsched/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/jobs", []string{"/jobs"}},
		{`/schedule friend "Budi Santoso" daily 07:00`, []string{"/schedule", "friend", "Budi Santoso", "daily", "07:00"}},
		{`/x 'a b'  c\ d`, []string{"/x", "a b", "c d"}},
		{`/x ""`, []string{"/x", ""}},
	}
	for _, tc := range cases {
		if got := tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"friend", "alice", "-category=verse", "monthly", "-1", "--tz", "UTC", "--dry"})
	if !reflect.DeepEqual(pos, []string{"friend", "alice", "monthly", "-1"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["category"] != "verse" || flags["tz"] != "UTC" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["dry"] {
		t.Fatalf("bools = %v", bools)
	}
}

func newTestManager(t *testing.T, owners []int64, cmds []Command) (*Manager, *fakeSender, chan kit.Update) {
	t.Helper()
	s := &fakeSender{}
	m := NewManager(logx.Nop(), s, Options{Owners: owners, Workers: 1})
	m.SetCommands(cmds)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, s, updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: 10, FromID: from, Text: text}}
}

func waitSent(t *testing.T, s *fakeSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := s.texts(); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d replies, have %q", n, s.texts())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRouteSubcommandsAndArgs(t *testing.T) {
	t.Parallel()
	type call struct {
		route string
		args  []string
		cat   string
	}
	calls := make(chan call, 4)
	handler := func(ctx context.Context, req *Request) error {
		calls <- call{req.Command, req.Args, req.Flag("category", "any")}
		return req.Reply(ctx, "ok")
	}
	_, s, updates := newTestManager(t, []int64{7}, []Command{
		{Route: "session", Handle: handler},
		{Route: "session connect", Handle: handler},
		{Route: "schedule", Handle: handler},
	})

	updates <- msg(7, "/session")
	updates <- msg(7, "/session connect")
	updates <- msg(7, `/schedule@whatschedbot friend "Budi S" daily 07:00 -category=verse`)
	updates <- msg(7, "/session_connect")

	want := []call{
		{"session", nil, "any"},
		{"session connect", nil, "any"},
		{"schedule", []string{"friend", "Budi S", "daily", "07:00"}, "verse"},
		{"session connect", nil, "any"},
	}
	for i, w := range want {
		select {
		case got := <-calls:
			if got.route != w.route || !reflect.DeepEqual(got.args, w.args) || got.cat != w.cat {
				t.Fatalf("call %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for call %d", i)
		}
	}
	waitSent(t, s, 4)
}

func TestNonOwnerRejected(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	_, s, updates := newTestManager(t, []int64{7}, []Command{
		{Route: "jobs", Handle: func(context.Context, *Request) error { ran <- struct{}{}; return nil }},
	})
	updates <- msg(99, "/jobs")
	got := waitSent(t, s, 1)
	if got[0] != "unauthorized" {
		t.Fatalf("reply = %q", got[0])
	}
	select {
	case <-ran:
		t.Fatalf("handler ran for non-owner")
	default:
	}
}

func TestHandlerErrorIsReplied(t *testing.T) {
	t.Parallel()
	_, s, updates := newTestManager(t, []int64{7}, []Command{
		{Route: "cancel", Handle: func(context.Context, *Request) error { return errors.New("job abc not found") }},
		{Route: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
	})
	updates <- msg(7, "/cancel abc")
	got := waitSent(t, s, 1)
	if got[0] != "error: job abc not found" {
		t.Fatalf("reply = %q", got[0])
	}
	updates <- msg(7, "/boom")
	updates <- msg(7, "/nope")
	got = waitSent(t, s, 2)
	if !strings.Contains(got[1], "unknown command") {
		t.Fatalf("reply = %q", got[1])
	}
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, []int64{7}, []Command{
		{Route: "jobs", Description: "list jobs", Handle: func(context.Context, *Request) error { return nil }},
		{Route: "session connect", Description: "connect <session>", Usage: "/session connect", Handle: func(context.Context, *Request) error { return nil }},
	})
	top := m.helpText(nil)
	for _, want := range []string{"/jobs</code> - list jobs", "/session connect", "/help"} {
		if !strings.Contains(top, want) {
			t.Fatalf("help missing %q:\n%s", want, top)
		}
	}
	one := m.helpText([]string{"session", "connect"})
	if !strings.Contains(one, "connect &lt;session&gt;") || !strings.Contains(one, "<b>Usage</b>") {
		t.Fatalf("command help = %s", one)
	}

	menu := m.Menu()
	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	if !reflect.DeepEqual(names, []string{"help", "jobs", "session_connect"}) {
		t.Fatalf("menu = %v", names)
	}
}

func TestCommandTree(t *testing.T) {
	t.Parallel()
	root := &cmdNode{}
	for _, r := range []string{"session connect", "session", "jobs", "session status"} {
		root.insert(strings.Fields(r), Command{Route: r})
	}

	var got []string
	root.each(func(path []string, c *Command) {
		got = append(got, strings.Join(path, " "))
	})
	want := []string{"jobs", "session", "session connect", "session status"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("each order = %q, want %q", got, want)
	}

	tests := []struct {
		words []string
		route string
		used  int
	}{
		{[]string{"session", "connect", "now"}, "session connect", 2},
		{[]string{"session", "-v"}, "session", 1},
		{[]string{"session", "bogus"}, "session", 1},
		{[]string{"nope"}, "", 0},
	}
	for _, tc := range tests {
		n, used := root.descend(tc.words)
		route := ""
		if n.cmd != nil {
			route = n.cmd.Route
		}
		if route != tc.route || used != tc.used {
			t.Fatalf("descend(%q) = %q/%d, want %q/%d", tc.words, route, used, tc.route, tc.used)
		}
	}
}
