package config

import (
	"fmt"
	"os"
	"time"
)

// ProviderConfig configures one external model provider (analysis, image or embedding).
type ProviderConfig struct {
	Name       string        `mapstructure:"name"`
	Provider   string        `mapstructure:"provider"` // openai, openai-compatible, jina
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	BaseURL    string        `mapstructure:"base_url"`
	BaseURLEnv string        `mapstructure:"base_url_env"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Size       string        `mapstructure:"size"`
	Dimensions int           `mapstructure:"dimensions"`
	// Version is stamped onto processed dreams so re-analysis can be traced to a prompt revision.
	Version string `mapstructure:"version"`
}

// ResolveEnvVars loads APIKey and BaseURL from the named environment
// variables when they are not set directly.
func (c *ProviderConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks the fields every provider needs. The API key is checked
// separately by ValidateWithAPIKey since local runs may leave it empty.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider config: name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("provider %q: model is required", c.Name)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("provider %q: timeout must not be negative", c.Name)
	}

	switch c.Provider {
	case "openai", "openai-compatible", "jina":
	default:
		return fmt.Errorf("provider %q: unknown provider %q", c.Name, c.Provider)
	}

	if c.Provider == "jina" && c.Dimensions <= 0 {
		return fmt.Errorf("provider %q: dimensions must be positive", c.Name)
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including the API key.
func (c *ProviderConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("provider %q: api_key is required (set directly or via %s)", c.Name, c.APIKeyEnv)
	}
	return nil
}
