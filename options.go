package dschat

import (
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/dschat/limits"
	"gopkg.in/yaml.v3"
)

// Config holds every operator-tunable knob the protocol core exposes,
// loaded from a YAML file (§5 Timeouts, §4.7 retry policy).
type Config struct {
	// DataDir roots the persistence database and received-file storage.
	DataDir string `yaml:"data_dir"`
	// ReceiveDir is where accepted incoming files are written; LoadConfig
	// sets it to <DataDir>/received when the file leaves it empty, while
	// DefaultConfig leaves it empty.
	ReceiveDir string `yaml:"receive_dir"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`

	OutboundRetryBaseDelay   time.Duration `yaml:"outbound_retry_base_delay"`
	OutboundRetryMaxAttempts int           `yaml:"outbound_retry_max_attempts"`

	// ConversationCacheSize overrides the default LRU resident-conversation
	// count (§4.8).
	ConversationCacheSize int `yaml:"conversation_cache_size"`
}

// DefaultConfig returns a Config populated with the protocol's documented
// defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                  "./dschat-data",
		HandshakeTimeout:         limits.DefaultHandshakeTimeout,
		IdleTimeout:              limits.DefaultIdleTimeout,
		OutboundRetryBaseDelay:   limits.DefaultOutboundRetryBaseDelay,
		OutboundRetryMaxAttempts: limits.DefaultOutboundRetryMaxAttempts,
		ConversationCacheSize:    limits.ConversationCacheSize,
	}
}

// LoadConfig reads and merges a YAML config file over the documented
// defaults. A missing file is not an error; DefaultConfig is returned
// unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dschat: reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("dschat: parsing config %s: %w", path, err)
	}
	if cfg.ReceiveDir == "" {
		cfg.ReceiveDir = cfg.DataDir + "/received"
	}
	return cfg, nil
}
