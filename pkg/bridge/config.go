// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration. Values come from an optional YAML
// file and are overridden by environment variables.
type Config struct {
	HomeserverURL string `yaml:"homeserver_url" env:"MATRIX_HOMESERVER_URL"`
	// Environment distinguishes production from development. Outside
	// production the triage chain runs but never dispatches, which keeps
	// development homeservers from spamming real phones.
	Environment  string `yaml:"environment" env:"ENVIRONMENT" envDefault:"development"`
	ListenAddr   string `yaml:"listen_addr" env:"BRIDGE_API_ADDR" envDefault:":29330"`
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH" envDefault:"lightfriend.db"`
	// NotifyURL is the lightfriend server endpoint that delivers SMS/voice
	// notifications. Empty means log-only delivery.
	NotifyURL string `yaml:"notify_url" env:"NOTIFY_WEBHOOK_URL"`
	// CreditsURL is the entitlement endpoint that consumes notification
	// credits. Empty means credits are always granted.
	CreditsURL string `yaml:"credits_url" env:"CREDITS_WEBHOOK_URL"`

	OpenAIAPIKey  string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIModel   string `yaml:"openai_model" env:"OPENAI_MODEL"`

	// Bridge bot accounts, one MXID per service.
	WhatsAppBridgeBot  string `yaml:"whatsapp_bridge_bot" env:"WHATSAPP_BRIDGE_BOT"`
	TelegramBridgeBot  string `yaml:"telegram_bridge_bot" env:"TELEGRAM_BRIDGE_BOT"`
	SignalBridgeBot    string `yaml:"signal_bridge_bot" env:"SIGNAL_BRIDGE_BOT"`
	InstagramBridgeBot string `yaml:"instagram_bridge_bot" env:"INSTAGRAM_BRIDGE_BOT"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// LoadConfig reads the YAML file when it exists, then applies env overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether notification dispatch is allowed.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BridgeBot returns the configured bridge-bot MXID for a service, empty
// when unset.
func (c *Config) BridgeBot(svc Service) string {
	switch svc {
	case ServiceWhatsApp:
		return c.WhatsAppBridgeBot
	case ServiceTelegram:
		return c.TelegramBridgeBot
	case ServiceSignal:
		return c.SignalBridgeBot
	case ServiceInstagram:
		return c.InstagramBridgeBot
	default:
		return ""
	}
}
