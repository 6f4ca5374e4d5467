package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whatsched/internal/message"
	"whatsched/internal/runtime/supervisor"
	logx "whatsched/pkg/logx"
)

// DefaultBridgeURL is used when BridgeOptions.URL is empty.
const DefaultBridgeURL = "ws://localhost:3001"

// BridgeOptions configures the websocket bridge driver.
type BridgeOptions struct {
	URL   string
	Token string
	Log   logx.Logger
	// Sup runs the read loop; nil runs it on a plain goroutine.
	Sup *supervisor.Supervisor
}

// bridgeFrame is the JSON envelope exchanged with the bridge.
type bridgeFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	To     string `json:"to,omitempty"`
	Text   string `json:"text,omitempty"`
	Media  string `json:"media,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BridgeDriver talks to a WhatsApp Web bridge. Login happens in the bridge
// (QR scan); Connect waits until the bridge reports status "connected".
type BridgeDriver struct {
	opts BridgeOptions
	log  logx.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	ready     chan struct{}
	closing   bool
	onLost    func(error)
}

func NewBridgeDriver(opts BridgeOptions) *BridgeDriver {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultBridgeURL
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BridgeDriver{opts: opts, log: log.With(logx.String("comp", "bridge"))}
}

func (b *BridgeDriver) Name() string { return "bridge" }

func (b *BridgeDriver) OnLost(fn func(error)) {
	b.mu.Lock()
	b.onLost = fn
	b.mu.Unlock()
}

func (b *BridgeDriver) Connect(ctx context.Context) error {
	b.dropConn()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.opts.URL, err)
	}
	ready := make(chan struct{})
	b.mu.Lock()
	b.conn = conn
	b.connected = false
	b.closing = false
	b.ready = ready
	b.mu.Unlock()

	if b.opts.Token != "" {
		if err := b.write(bridgeFrame{Type: "auth", Token: b.opts.Token}); err != nil {
			b.dropConn()
			return fmt.Errorf("bridge auth: %w", err)
		}
	}

	loop := func(ctx context.Context) { b.readLoop(conn) }
	if b.opts.Sup != nil {
		b.opts.Sup.Go0("delivery.bridge.read", loop)
	} else {
		go loop(ctx)
	}

	b.log.Info("connected to bridge; waiting for WhatsApp login", logx.String("url", b.opts.URL))
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		b.dropConn()
		return fmt.Errorf("waiting for bridge login: %w", ctx.Err())
	}
}

func (b *BridgeDriver) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			current := b.conn == conn
			closing := b.closing
			lost := b.onLost
			if current {
				b.conn = nil
				b.connected = false
			}
			b.mu.Unlock()
			_ = conn.Close()
			if current && !closing && lost != nil {
				lost(fmt.Errorf("bridge read: %w", err))
			}
			return
		}
		b.handleFrame(raw)
	}
}

func (b *BridgeDriver) handleFrame(raw []byte) {
	var f bridgeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		b.log.Debug("bridge frame ignored", logx.Err(err))
		return
	}
	switch f.Type {
	case "status":
		b.log.Info("bridge status", logx.String("status", f.Status))
		b.mu.Lock()
		wasConnected := b.connected
		b.connected = f.Status == "connected"
		if b.connected && b.ready != nil {
			close(b.ready)
			b.ready = nil
		}
		lost := b.onLost
		b.mu.Unlock()
		if wasConnected && f.Status != "connected" && lost != nil {
			lost(fmt.Errorf("bridge status %q", f.Status))
		}
	case "qr":
		b.log.Info("scan the QR code shown by the bridge to log in")
	case "error":
		b.log.Error("bridge error", logx.String("error", f.Error))
	}
}

func (b *BridgeDriver) Deliver(ctx context.Context, address string, msg message.Message) error {
	b.mu.Lock()
	ok := b.conn != nil && b.connected
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge not connected: %w", ErrLost)
	}
	f := bridgeFrame{Type: "send", To: bridgeJID(address), Text: msg.Text, Media: msg.MediaURL}
	if err := b.write(f); err != nil {
		return fmt.Errorf("bridge write: %w: %w", err, ErrLost)
	}
	return nil
}

func (b *BridgeDriver) write(f bridgeFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (b *BridgeDriver) Close() error {
	b.dropConn()
	return nil
}

func (b *BridgeDriver) dropConn() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.connected = false
	b.closing = true
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	_ = conn.Close()
}

// bridgeJID turns a phone number into a WhatsApp JID. Addresses that already
// carry a domain (user@s.whatsapp.net, id@g.us) pass through.
func bridgeJID(address string) string {
	address = strings.TrimSpace(address)
	if strings.Contains(address, "@") {
		return address
	}
	var sb strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String() + "@s.whatsapp.net"
}
