// Package config loads the deployment configuration for the pairing bot.
//
// Configuration comes from a single YAML file named by the --config flag or
// the PAIRBOT_CONFIG environment variable. When no file is given the built-in
// defaults describe the "mode" deployment (gender, 18+ consent, chat mode).
// Addresses and secrets are then overridden from the environment.
//
// The declared attribute schema is validated once at startup; nothing in the
// message path re-reads or re-validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "PAIRBOT_CONFIG"

// Predicate names accepted in matching.predicate.
const (
	PredicateMode   = "mode"
	PredicateMutual = "mutual"
)

// Config is the full deployment configuration.
type Config struct {
	// AdminID receives auto-block notices and may issue admin commands.
	AdminID int64 `yaml:"admin_id"`

	// Channel is the subscription channel users must belong to. Empty
	// disables the subscription gate.
	Channel string `yaml:"channel"`

	Registration RegistrationConfig `yaml:"registration"`
	Matching     MatchingConfig     `yaml:"matching"`
	Moderation   ModerationConfig   `yaml:"moderation"`
	Controls     Controls           `yaml:"controls"`
	Messages     Messages           `yaml:"messages"`

	// Infrastructure. Usually supplied through the environment.
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`
	NATSURL     string `yaml:"nats_url"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	ServerName  string `yaml:"server_name"`
	Workers     int    `yaml:"workers"`
}

// RegistrationConfig declares the ordered attributes collected from a user
// before they enter the waiting pool.
type RegistrationConfig struct {
	Attributes []Attribute `yaml:"attributes"`
}

// MatchingConfig selects the compatibility predicate and the attribute keys
// it reads.
type MatchingConfig struct {
	Predicate string `yaml:"predicate"`

	// ModeKey is compared for equality by the "mode" predicate.
	ModeKey string `yaml:"mode_key"`

	// Keys read by the "mutual" predicate.
	GenderKey  string `yaml:"gender_key"`
	SeekingKey string `yaml:"seeking_key"`
	AgeKey     string `yaml:"age_key"`
	MinAgeKey  string `yaml:"min_age_key"`

	// AnyValue in the seeking attribute matches every gender.
	AnyValue string `yaml:"any_value"`
}

// ModerationConfig tunes the complaint pipeline.
type ModerationConfig struct {
	ComplaintThreshold int    `yaml:"complaint_threshold"`
	BlockReason        string `yaml:"block_reason"`
}

// Default returns the configuration of the single-channel deployment:
// gender, an 18+ consent gate and mode matching.
func Default() *Config {
	return &Config{
		Registration: RegistrationConfig{
			Attributes: []Attribute{
				{
					Key:     "gender",
					Prompt:  "Hi! What is your gender?",
					Kind:    KindChoice,
					Options: []string{"Male", "Female"},
				},
				{
					Key:       "age_confirm",
					Prompt:    "Do you confirm that you are 18 or older?",
					Kind:      KindConsent,
					Options:   []string{"18+", "No"},
					Layout:    []int{2},
					Accept:    "18+",
					Rejection: "You must be 18 or older to use this bot.",
				},
				{
					Key:     "mode",
					Prompt:  "Choose a chat mode:",
					Kind:    KindChoice,
					Options: []string{"Roleplay", "Flirt", "Chatting", "Something else"},
					Layout:  []int{2, 1, 1},
				},
			},
		},
		Matching: MatchingConfig{
			Predicate: PredicateMode,
			ModeKey:   "mode",
		},
		Moderation: ModerationConfig{
			ComplaintThreshold: 3,
			BlockReason:        "too many complaints",
		},
		Controls:    DefaultControls(),
		Messages:    DefaultMessages(),
		RedisAddr:   "localhost:6379",
		NATSURL:     "nats://localhost:4222",
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		Workers:     16,
	}
}

// Load reads the YAML file at path (when non-empty) on top of the defaults,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals YAML over cfg. A file that declares attributes replaces
// the default attribute list entirely; message and control texts are merged
// field by field.
func (c *Config) decode(data []byte) error {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	if file.AdminID != 0 {
		c.AdminID = file.AdminID
	}
	if file.Channel != "" {
		c.Channel = file.Channel
	}
	if len(file.Registration.Attributes) > 0 {
		c.Registration.Attributes = file.Registration.Attributes
	}
	if file.Matching.Predicate != "" {
		c.Matching = file.Matching
	}
	if file.Moderation.ComplaintThreshold > 0 {
		c.Moderation.ComplaintThreshold = file.Moderation.ComplaintThreshold
	}
	if file.Moderation.BlockReason != "" {
		c.Moderation.BlockReason = file.Moderation.BlockReason
	}
	c.Controls.merge(file.Controls)
	c.Messages.merge(file.Messages)

	setString(&c.DatabaseURL, file.DatabaseURL)
	setString(&c.RedisAddr, file.RedisAddr)
	setString(&c.NATSURL, file.NATSURL)
	setString(&c.ListenAddr, file.ListenAddr)
	setString(&c.MetricsAddr, file.MetricsAddr)
	setString(&c.ServerName, file.ServerName)
	if file.Workers > 0 {
		c.Workers = file.Workers
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ADMIN_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: ADMIN_ID must be a numeric user id: %w", err)
		}
		c.AdminID = id
	}
	setString(&c.Channel, os.Getenv("CHANNEL_NAME"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&c.NATSURL, os.Getenv("NATS_URL"))
	setString(&c.ListenAddr, os.Getenv("LISTEN_ADDR"))
	setString(&c.MetricsAddr, os.Getenv("METRICS_ADDR"))
	setString(&c.ServerName, os.Getenv("SERVER_NAME"))
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	return nil
}

// Validate checks the attribute schema and the matching keys it refers to.
func (c *Config) Validate() error {
	var errs []error

	if c.AdminID <= 0 {
		errs = append(errs, errors.New("admin_id (ADMIN_ID) is required"))
	}
	if len(c.Registration.Attributes) == 0 {
		errs = append(errs, errors.New("registration.attributes must declare at least one attribute"))
	}

	seen := make(map[string]bool)
	for i, attr := range c.Registration.Attributes {
		if err := attr.validate(); err != nil {
			errs = append(errs, fmt.Errorf("registration.attributes[%d]: %w", i, err))
		}
		if seen[attr.Key] {
			errs = append(errs, fmt.Errorf("registration.attributes[%d]: duplicate key %q", i, attr.Key))
		}
		seen[attr.Key] = true
	}

	requireKey := func(field, key string) {
		if key == "" {
			errs = append(errs, fmt.Errorf("matching.%s is required", field))
			return
		}
		if !seen[key] {
			errs = append(errs, fmt.Errorf("matching.%s refers to undeclared attribute %q", field, key))
		}
	}

	switch c.Matching.Predicate {
	case PredicateMode:
		requireKey("mode_key", c.Matching.ModeKey)
	case PredicateMutual:
		requireKey("gender_key", c.Matching.GenderKey)
		requireKey("seeking_key", c.Matching.SeekingKey)
		requireKey("age_key", c.Matching.AgeKey)
		if c.Matching.MinAgeKey != "" {
			requireKey("min_age_key", c.Matching.MinAgeKey)
		}
	default:
		errs = append(errs, fmt.Errorf("matching.predicate must be %q or %q, got %q",
			PredicateMode, PredicateMutual, c.Matching.Predicate))
	}

	if c.Moderation.ComplaintThreshold <= 0 {
		errs = append(errs, errors.New("moderation.complaint_threshold must be positive"))
	}
	if err := c.Controls.validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Attribute returns the declared attribute with the given key.
func (c *Config) Attribute(key string) (Attribute, bool) {
	for _, attr := range c.Registration.Attributes {
		if attr.Key == key {
			return attr, true
		}
	}
	return Attribute{}, false
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
