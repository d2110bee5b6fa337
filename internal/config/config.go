package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"leaseline/internal/catalog"
)

// Config models leaseline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Storage struct {
		Dir string `yaml:"dir"`
	} `yaml:"storage"`
	Checklist struct {
		// DisabledTypes never count toward mandatory document checklists.
		DisabledTypes []string `yaml:"disabled_types"`
	} `yaml:"checklist"`
	SLA struct {
		DefaultHours int            `yaml:"default_hours"`
		Stage        map[string]int `yaml:"stage"`
	} `yaml:"sla"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run ll config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.DefaultHours < 0 {
		return fmt.Errorf("config.sla.default_hours must not be negative")
	}
	for key, hours := range c.SLA.Stage {
		if catalog.Index(key) < 0 {
			return fmt.Errorf("config.sla.stage references unknown stage %s", key)
		}
		if hours < 0 {
			return fmt.Errorf("config.sla.stage.%s must not be negative", key)
		}
	}
	for _, t := range c.Checklist.DisabledTypes {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("config.checklist.disabled_types contains empty type")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// DisabledTypeSet returns the normalized disabled checklist types.
func (c *Config) DisabledTypeSet() map[string]bool {
	set := make(map[string]bool, len(c.Checklist.DisabledTypes))
	for _, t := range c.Checklist.DisabledTypes {
		set[catalog.NormalizeDocumentType(t)] = true
	}
	return set
}

// StageSLAHours returns the configured SLA for a stage, falling back to the
// catalogue value and then the configured default.
func (c *Config) StageSLAHours(stage catalog.Stage) int {
	if h, ok := c.SLA.Stage[stage.Key]; ok {
		return h
	}
	if stage.SLAHours > 0 {
		return stage.SLAHours
	}
	return c.SLA.DefaultHours
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leaseline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		// The template is compiled in; failing to parse it is a bug.
		panic(err)
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Save writes the config back to the workspace as YAML.
func Save(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

storage:
  dir: ""

checklist:
  disabled_types:
    - other

sla:
  default_hours: 24
  stage:
    NEW: 4
    OFFER_PREP: 24
    VEHICLE_CHECK: 48
    DOCS_COLLECT: 72
    RISK_REVIEW: 24
    FINANCE_REVIEW: 24
    INVESTOR_PENDING: 48
    CONTRACT_PREP: 48
    SIGNING_FUNDING: 72
    VEHICLE_DELIVERY: 48

webhooks: []
`
