package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "whatsched/pkg/logx"
)

func TestAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0", Token: "sekret"}, noLog(), nil)
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/healthz", "", http.StatusUnauthorized},
		{"query token", "/healthz?token=sekret", "", http.StatusOK},
		{"wrong query", "/healthz?token=nope", "Bearer sekret", http.StatusUnauthorized},
		{"bearer", "/healthz", "Bearer sekret", http.StatusOK},
		{"bad bearer", "/healthz", "Bearer other", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, noLog(), func(context.Context) any {
		return map[string]int{"jobs": 3}
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if got["jobs"] != 3 {
		t.Fatalf("status = %v", got)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg     Config
		wantErr error
		ok      bool
	}{
		{cfg: Config{Addr: "127.0.0.1:6060"}, ok: true},
		{cfg: Config{Addr: "localhost:6060"}, ok: true},
		{cfg: Config{Addr: ":6060"}, wantErr: ErrInsecureBind},
		{cfg: Config{Addr: "0.0.0.0:6060", Token: "x"}, ok: true},
		{cfg: Config{Addr: "0.0.0.0:6060", AllowInsecure: true}, ok: true},
		{cfg: Config{Addr: "nohostport"}},
	}
	for _, tt := range tests {
		err := New(tt.cfg, noLog(), nil).Check()
		if tt.ok != (err == nil) {
			t.Fatalf("Check(%+v) = %v", tt.cfg, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Fatalf("Check(%+v) = %v, want %v", tt.cfg, err, tt.wantErr)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, noLog(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func noLog() logx.Logger { return logx.Nop() }
