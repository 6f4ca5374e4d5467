package app

import (
	"strconv"
	"strings"
	"time"

	"whatsched/internal/config"
	"whatsched/internal/delivery"
	"whatsched/internal/message"
	"whatsched/internal/observability/debughttp"
	"whatsched/internal/storage"
	"whatsched/internal/task/engine"
	"whatsched/internal/task/scheduler"
	logx "whatsched/pkg/logx"
)

// The map* helpers turn validated config sections into component configs.
// Durations were checked by config.Validate, so a parse error here only
// leaves the component default in place.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChat parses telegram.group_log; 0 means no Telegram log target.
func logChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorage(cfg *config.Config) storage.Config {
	d, _ := cfg.Durations()
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.Or(d.BusyTimeout, time.Second),
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	d, _ := cfg.Durations()
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: d.TaskTimeout,
		HistorySize:    te.HistorySize,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:   cfg.Scheduler.Timezone,
		ShortMonth: cfg.Scheduler.ShortMonth,
	}
}

func mapSelector(cfg *config.Config) message.Options {
	return message.Options{
		Categories: append([]string(nil), cfg.Templates.Categories...),
		Greetings:  cfg.Templates.Greetings,
	}
}

func mapPacing(cfg *config.Config) (minInterval, connectTimeout time.Duration) {
	d, _ := cfg.Durations()
	return config.Or(d.MinInterval, delivery.DefaultMinInterval), config.Or(d.ConnectTimeout, delivery.DefaultConnectTimeout)
}

func mapDriver(cfg *config.Config, log logx.Logger) delivery.DriverConfig {
	return delivery.DriverConfig{
		Driver: cfg.Delivery.Driver,
		Bridge: delivery.BridgeOptions{
			URL:   cfg.Delivery.Bridge.URL,
			Token: cfg.Delivery.Bridge.Token,
		},
		Twilio: delivery.TwilioOptions{
			AccountSID: cfg.Delivery.Twilio.AccountSID,
			AuthToken:  cfg.Delivery.Twilio.AuthToken,
			From:       cfg.Delivery.Twilio.From,
		},
		Log: log,
	}
}

func mapDebug(cfg *config.Config) debughttp.Config {
	return debughttp.Config{
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

// OpenStore opens the configured contact store. The CLI uses it for data
// entry without starting the daemon.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(mapStorage(cfg), log)
}
