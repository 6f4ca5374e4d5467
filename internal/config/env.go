package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that fill empty secret fields.
const (
	EnvTwilioAccountSID = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken  = "TWILIO_AUTH_TOKEN"
	EnvTelegramToken    = "WHATSCHED_TELEGRAM_TOKEN"
	EnvBridgeToken      = "WHATSCHED_BRIDGE_TOKEN"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv copies secrets from the environment into fields left empty by the file.
func (c *Config) ApplyEnv() {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&c.Telegram.Token, EnvTelegramToken)
	fill(&c.Delivery.Twilio.AccountSID, EnvTwilioAccountSID)
	fill(&c.Delivery.Twilio.AuthToken, EnvTwilioAuthToken)
	fill(&c.Delivery.Bridge.Token, EnvBridgeToken)
}
