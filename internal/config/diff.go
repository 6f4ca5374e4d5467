package config

import (
	"reflect"
	"sort"
	"strings"

	logx "whatsched/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"storage":     true,
	"task_engine": true,
	"debug":       true,
}

// SummarizeConfigChange returns the changed section names, safe log attrs
// (never secrets) and the sections whose change needs a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.short_month", newCfg.Scheduler.ShortMonth),
		)
	}

	if derefTaskEngine(oldCfg.TaskEngine) != derefTaskEngine(newCfg.TaskEngine) {
		te := derefTaskEngine(newCfg.TaskEngine)
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
		)
	}

	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		s := derefStorage(newCfg.Storage)
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", s.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.driver", newCfg.Delivery.Driver),
			logx.String("delivery.min_interval", newCfg.Delivery.MinInterval),
			logx.Bool("delivery.bridge_token_set", newCfg.Delivery.Bridge.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Templates, newCfg.Templates) {
		changed = append(changed, "templates")
		attrs = append(attrs, logx.Strings("templates.categories", newCfg.Templates.Categories))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	if oldCfg.Delivery.Driver != newCfg.Delivery.Driver ||
		oldCfg.Delivery.Bridge != newCfg.Delivery.Bridge ||
		oldCfg.Delivery.Twilio != newCfg.Delivery.Twilio {
		restart = append(restart, "delivery.driver")
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		restart = append(restart, "telegram.token")
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
