package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
)

// Config models caseline.yml.
type Config struct {
	School struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"school"`
	// Roles maps deployment role names onto canonical roles.
	Roles       map[string]string `yaml:"roles"`
	Correlative CorrelativeConfig `yaml:"correlative"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Referrals   ReferralConfig    `yaml:"referrals"`
	Webhooks    []WebhookConfig   `yaml:"webhooks"`
}

type CorrelativeConfig struct {
	Prefix      string `yaml:"prefix"`
	Format      string `yaml:"format"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type LifecycleConfig struct {
	MaxConflictRetries int    `yaml:"max_conflict_retries"`
	ReadComment        string `yaml:"read_comment"`
	ReopenComment      string `yaml:"reopen_comment"`
}

type ReferralConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.School.ID) == "" {
		return fmt.Errorf("config.school.id is required")
	}
	for alias, role := range c.Roles {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("config.roles contains empty role name")
		}
		if !domain.Role(role).Valid() {
			return fmt.Errorf("config.roles.%s maps to unknown role %s", alias, role)
		}
	}
	if c.Correlative.Format != "" && !strings.Contains(c.Correlative.Format, "{seq") {
		return fmt.Errorf("config.correlative.format must contain a {seq} placeholder")
	}
	if c.Correlative.MaxAttempts < 0 || c.Correlative.MaxAttempts > 100 {
		return fmt.Errorf("config.correlative.max_attempts must be between 0 (default) and 100")
	}
	if c.Lifecycle.MaxConflictRetries < 0 || c.Lifecycle.MaxConflictRetries > 20 {
		return fmt.Errorf("config.lifecycle.max_conflict_retries must be between 0 (default) and 20")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	if c.Referrals.TimeoutSeconds < 0 {
		return fmt.Errorf("config.referrals.timeout_seconds must be positive")
	}
	return nil
}

// ResolveRole maps a canonical or deployment role name to a canonical role.
func (c *Config) ResolveRole(name string) (domain.Role, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("role is required")
	}
	if r := domain.Role(key); r.Valid() {
		return r, nil
	}
	if c != nil {
		for alias, role := range c.Roles {
			if strings.EqualFold(alias, key) {
				return domain.Role(role), nil
			}
		}
	}
	return "", fmt.Errorf("unknown role %s", name)
}

// CorrelativeFormat returns the configured pattern or the default one.
func (c *Config) CorrelativeFormat() (prefix, format string) {
	prefix, format = "INC", "{prefix}-{year}-{seq:05}"
	if c == nil {
		return prefix, format
	}
	if c.Correlative.Prefix != "" {
		prefix = c.Correlative.Prefix
	}
	if c.Correlative.Format != "" {
		format = c.Correlative.Format
	}
	return prefix, format
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(schoolID string) string {
	return fmt.Sprintf(defaultTemplate, schoolID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a school.
func Default(schoolID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(schoolID))).Decode(&cfg)
	cfg.School.ID = schoolID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `school:
  id: %s
  name: ""
  timezone: UTC

roles:
  docente: teacher
  docente_ingles: teacher
  secretaria: secretary
  supervisor: supervisor
  psicologo: counselor
  admin: administrator

correlative:
  prefix: INC
  format: "{prefix}-{year}-{seq:05}"
  max_attempts: 5

lifecycle:
  max_conflict_retries: 3
  read_comment: "Case opened by reviewer"
  reopen_comment: "Resolution reverted by administrator"

referrals:
  url: ""
  timeout_seconds: 5

webhooks: []
`
