package app

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"kaenbyou/cmd/internal/realtime"
	"kaenbyou/cmd/internal/validate"

	"gopkg.in/yaml.v3"
)

//go:embed schema/config.json
var fileConfigSchemaJSON []byte

var fileConfigSchema = validate.MustCompile("config", fileConfigSchemaJSON)

// FileConfig is the optional YAML file: bot connections to open at start
// and the webhook targets live events are posted to.
type FileConfig struct {
	Bots     []BotEntry     `yaml:"bots"`
	Webhooks []WebhookEntry `yaml:"webhooks"`
}

type BotEntry struct {
	Platform string         `yaml:"platform"`
	Config   map[string]any `yaml:"config"`
}

// RawConfig is the connection config in the form factories consume.
func (b BotEntry) RawConfig() (json.RawMessage, error) {
	return json.Marshal(b.Config)
}

type WebhookEntry struct {
	// Enabled defaults to true when omitted.
	Enabled  *bool  `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// WebhookTargets converts the webhook entries for realtime.Webhooks.
func (f FileConfig) WebhookTargets() []realtime.WebhookTarget {
	out := make([]realtime.WebhookTarget, 0, len(f.Webhooks))
	for _, w := range f.Webhooks {
		out = append(out, realtime.WebhookTarget{
			Enabled:  w.Enabled == nil || *w.Enabled,
			Endpoint: w.Endpoint,
			Token:    w.Token,
		})
	}
	return out
}

// LoadFileConfig reads and validates the YAML file at path.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config file: %w", err)
	}
	return ParseFileConfig(data)
}

// ParseFileConfig validates data against the embedded schema before
// decoding it. An empty document is an empty config.
func ParseFileConfig(data []byte) (FileConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return FileConfig{}, fmt.Errorf("config file: %w", err)
	}
	if doc == nil {
		return FileConfig{}, nil
	}
	if err := fileConfigSchema.Value(doc); err != nil {
		return FileConfig{}, fmt.Errorf("config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("config file: %w", err)
	}
	return cfg, nil
}
