package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls trigger behavior (recurrence, timezone).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls where firings execute.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage   *StorageConfig  `json:"storage,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Templates TemplatesConfig `json:"templates"`

	Debug DebugConfig `json:"debug"`
}

// DebugConfig controls the optional debug HTTP server (pprof, status).
// It is off unless Addr is set. Binding a non-loopback address requires
// Token or AllowInsecure.
type DebugConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds a single firing. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig selects the contact store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./whatsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Short-month policies for monthly jobs whose day does not exist in a month.
const (
	ShortMonthClamp = "clamp"
	ShortMonthSkip  = "skip"
)

type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// ShortMonth is "clamp" (default) or "skip".
	ShortMonth string `json:"short_month,omitempty"`
}

// Delivery drivers.
const (
	DriverBridge   = "bridge"
	DriverTwilio   = "twilio"
	DriverTelegram = "telegram"
	DriverLog      = "log"
)

// DeliveryConfig controls the automation session.
type DeliveryConfig struct {
	Driver string `json:"driver"`

	// MinInterval is the pause enforced between two sends (default "2s").
	MinInterval string `json:"min_interval,omitempty"`
	// ConnectTimeout bounds session establishment (default "60s").
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	// ConnectOnStart establishes the session when the daemon starts.
	ConnectOnStart bool `json:"connect_on_start,omitempty"`

	Bridge BridgeConfig `json:"bridge"`
	Twilio TwilioConfig `json:"twilio"`
}

// DefaultBridgeURL is where a locally run bridge listens.
const DefaultBridgeURL = "ws://localhost:3001"

// BridgeConfig points at a WhatsApp Web bridge speaking JSON over websocket.
type BridgeConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

type TwilioConfig struct {
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	From       string `json:"from"`
}

// TemplatesConfig controls message selection.
type TemplatesConfig struct {
	// Categories used when a job asks for "any" category.
	Categories []string `json:"categories,omitempty"`
	// Greetings maps a category to a prefix put before the template text.
	Greetings map[string]string `json:"greetings,omitempty"`
}

var defaultCategories = []string{"quote", "verse", "hadith"}

var defaultGreetings = map[string]string{
	"quote":  "Assalamu alaikum! Here's some motivation:",
	"verse":  "Salam! A verse for you:",
	"hadith": "Peace be upon you. A hadith to reflect on:",
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" && c.Storage.Driver == "sqlite" {
		c.Storage.Path = "./whatsched.db"
	}
	if c.TaskEngine == nil {
		c.TaskEngine = &TaskEngineConfig{}
	}
	if strings.TrimSpace(c.Delivery.Driver) == "" {
		c.Delivery.Driver = DriverBridge
	}
	if strings.TrimSpace(c.Delivery.Bridge.URL) == "" {
		c.Delivery.Bridge.URL = DefaultBridgeURL
	}
	if strings.TrimSpace(c.Scheduler.ShortMonth) == "" {
		c.Scheduler.ShortMonth = ShortMonthClamp
	}
	if len(c.Templates.Categories) == 0 {
		c.Templates.Categories = append([]string(nil), defaultCategories...)
	}
	if c.Templates.Greetings == nil {
		c.Templates.Greetings = make(map[string]string, len(defaultGreetings))
		for k, v := range defaultGreetings {
			c.Templates.Greetings[k] = v
		}
	}
}

// Validate reports the first invalid field. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	switch c.Delivery.Driver {
	case DriverBridge:
		u, err := url.Parse(strings.TrimSpace(c.Delivery.Bridge.URL))
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("delivery.bridge.url: want ws:// or wss:// url, got %q", c.Delivery.Bridge.URL)
		}
	case DriverTwilio:
		if c.Delivery.Twilio.AccountSID == "" || c.Delivery.Twilio.AuthToken == "" {
			return fmt.Errorf("delivery.twilio: account_sid and auth_token are required")
		}
		if strings.TrimSpace(c.Delivery.Twilio.From) == "" {
			return fmt.Errorf("delivery.twilio.from: required")
		}
	case DriverTelegram:
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token: required for driver %q", DriverTelegram)
		}
	case DriverLog:
	default:
		return fmt.Errorf("delivery.driver: unknown driver %q", c.Delivery.Driver)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	switch c.Scheduler.ShortMonth {
	case ShortMonthClamp, ShortMonthSkip:
	default:
		return fmt.Errorf("scheduler.short_month: must be %q or %q", ShortMonthClamp, ShortMonthSkip)
	}

	if _, err := c.Durations(); err != nil {
		return err
	}
	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 || c.TaskEngine.HistorySize < 0 {
		return fmt.Errorf("task_engine: sizes must be >= 0")
	}
	if addr := strings.TrimSpace(c.Debug.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("debug.addr: %w", err)
		}
	}
	for i, cat := range c.Templates.Categories {
		if strings.TrimSpace(cat) == "" {
			return fmt.Errorf("templates.categories[%d]: empty category", i)
		}
	}
	return nil
}
