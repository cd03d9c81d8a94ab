package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_ADDR is the websocket endpoint, e.g. ws://localhost:8080/ws
	RelayAddr  string `envconfig:"RELAY_ADDR"`
	HealthAddr string `envconfig:"RELAY_HEALTH_ADDR" default:"localhost:8081"`
	// Tokens of two members of RELAY_CHAT_ID, as printed by chatctl user token
	SenderToken string `envconfig:"RELAY_SENDER_TOKEN"`
	PeerToken   string `envconfig:"RELAY_PEER_TOKEN"`
	ChatID      string `envconfig:"RELAY_CHAT_ID"`
	// E2E_DEBUG_JSON allows dumping every frame sent and received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func (c Config) Enabled() bool {
	return c.RelayAddr != "" && c.SenderToken != "" && c.PeerToken != "" && c.ChatID != ""
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
