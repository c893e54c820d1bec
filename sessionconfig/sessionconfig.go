// Package sessionconfig loads and validates the per-session
// configuration enumerated in spec.md §6.3: the allow-list, the
// broker config map (with forced/defaulted fields), and the optional
// collaborator hooks. Structure and Validate() mirror
// patterns/consumer.Config/Validate.
package sessionconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, file-loadable session template: the
// settings a bootstrap applies to every session it creates, before
// per-socket values (like the socket id, used to fabricate group.id)
// are layered on top.
type Config struct {
	// AllowedTopics restricts availableTopics to this set when
	// non-empty (spec.md §3 "AvailableTopics", §6.3). Empty means
	// "expose every topic metadata reports".
	AllowedTopics []string `yaml:"allowedTopics"`

	// BrokerConfig is forwarded to the broker adapter almost
	// verbatim; ForceBrokerDefaults applies the spec's forced/
	// defaulted fields on top of it per session.
	BrokerConfig map[string]any `yaml:"brokerConfig"`

	// PollTimeout bounds each broker poll-one call (spec.md §4.5).
	PollTimeout time.Duration `yaml:"pollTimeout"`

	// BenignBackoff is the sleep between retries after a benign
	// broker condition (spec.md §4.5: "sleeps ≈100ms and retries").
	BenignBackoff time.Duration `yaml:"benignBackoff"`

	// DisconnectTimeout bounds the broker adapter's teardown call
	// (spec.md §9 "broker-disconnect hazards").
	DisconnectTimeout time.Duration `yaml:"disconnectTimeout"`
}

// Validate checks the loaded configuration for internal consistency,
// in the style of patterns/consumer.Config.Validate: early-return
// guard clauses, one error per field.
func (c *Config) Validate() error {
	if c.PollTimeout < 0 {
		return fmt.Errorf("sessionconfig: pollTimeout must be >= 0")
	}
	if c.BenignBackoff < 0 {
		return fmt.Errorf("sessionconfig: benignBackoff must be >= 0")
	}
	if c.DisconnectTimeout < 0 {
		return fmt.Errorf("sessionconfig: disconnectTimeout must be >= 0")
	}
	for _, t := range c.AllowedTopics {
		if t == "" {
			return fmt.Errorf("sessionconfig: allowedTopics entries must be non-empty")
		}
	}
	return nil
}

// applyDefaults fills in zero-valued fields the way
// patterns/consumer/config.go leaves BehaviorConfig partially
// optional and the session layer fills the rest in at runtime.
func (c *Config) applyDefaults() {
	if c.PollTimeout == 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	if c.BenignBackoff == 0 {
		c.BenignBackoff = 100 * time.Millisecond
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = 5 * time.Second
	}
	if c.BrokerConfig == nil {
		c.BrokerConfig = map[string]any{}
	}
}

// Load reads a YAML session-template file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sessionconfig: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a zero-configuration Config: no allow-list, an
// empty broker config map, and the spec's default timings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ForceBrokerDefaults returns a per-session broker config map with
// the spec.md §6.3 forced and defaulted fields applied:
//
//   - enable.auto.commit is always forced to false (no offset commits,
//     spec.md §1 Non-goals).
//   - group.id is always forced to "kasocki-<socketID>" (the
//     no-rebalance group trick, spec.md §9).
//   - metadata.broker.list defaults to "localhost:9092" if absent.
//   - client.id defaults to "kasocki-<socketID>" if absent.
func (c *Config) ForceBrokerDefaults(socketID string) map[string]any {
	out := make(map[string]any, len(c.BrokerConfig)+4)
	for k, v := range c.BrokerConfig {
		out[k] = v
	}

	if _, ok := out["metadata.broker.list"]; !ok {
		out["metadata.broker.list"] = "localhost:9092"
	}
	if _, ok := out["client.id"]; !ok {
		out["client.id"] = "kasocki-" + socketID
	}

	out["group.id"] = "kasocki-" + socketID
	out["enable.auto.commit"] = false

	return out
}

// OffsetResetPolicy reads the default_topic_config.auto.offset.reset
// setting (spec.md §6.3), defaulting to "latest". librdkafka config
// keys are flat strings that happen to contain dots (e.g.
// "auto.offset.reset") — default_topic_config is a one-level map from
// one such flat key to its value, not three levels of nesting.
func (c *Config) OffsetResetPolicy() string {
	dtc, ok := c.BrokerConfig["default_topic_config"].(map[string]any)
	if !ok {
		return "latest"
	}
	reset, ok := dtc["auto.offset.reset"].(string)
	if !ok || reset == "" {
		return "latest"
	}
	return reset
}
