package delivery

import (
	"fmt"
	"strings"

	logx "whatsched/pkg/logx"
)

// DriverConfig selects and configures one driver.
type DriverConfig struct {
	Driver   string
	Bridge   BridgeOptions
	Twilio   TwilioOptions
	Telegram TextSender
	Log      logx.Logger
}

func NewDriver(cfg DriverConfig) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "bridge":
		if cfg.Bridge.Log.IsZero() {
			cfg.Bridge.Log = cfg.Log
		}
		return NewBridgeDriver(cfg.Bridge), nil
	case "twilio":
		if cfg.Twilio.Log.IsZero() {
			cfg.Twilio.Log = cfg.Log
		}
		return NewTwilioDriver(cfg.Twilio), nil
	case "telegram":
		if cfg.Telegram == nil {
			return nil, fmt.Errorf("telegram driver needs the bot adapter (telegram.token)")
		}
		return NewTelegramDriver(cfg.Telegram), nil
	case "log":
		return NewLogDriver(cfg.Log), nil
	default:
		return nil, fmt.Errorf("unknown delivery driver %q", cfg.Driver)
	}
}
