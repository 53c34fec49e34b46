// Package config holds the settings of the chat client.
package config

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/openai"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

const (
	DefaultClientName    = "mcp-client-cli"
	DefaultClientVersion = "1.0.0"
)

// Config of the chat client
type Config struct {
	// Provider specifies the model backend, only OPENAI is supported
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// APIKey of the model backend, OPENAI_API_KEY
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// BaseURL of the model backend, BASE_URL or OPENAI_BASE_URL
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Organization specifies which organization's quota and billing should be used
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
	// Model name, MODEL or OPENAI_MODEL
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// Temperature is nil when not configured, zero is a valid value
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// Interpreters that run the tool server scripts
	Interpreters mcp.Interpreters `json:"interpreters" yaml:"interpreters"`

	// ClientName and ClientVersion are sent in the MCP handshake
	ClientName    string `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	ClientVersion string `json:"client_version,omitempty" yaml:"client_version,omitempty"`
}

// Load returns the configuration from the optional file, overridden by the environment.
// getenv is os.Getenv in production.
func Load(file string, getenv func(string) string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "unable to load config %q", file)
		}
	}

	cfg.APIKey = values.StringsCoalesce(getenv("OPENAI_API_KEY"), cfg.APIKey)
	cfg.BaseURL = values.StringsCoalesce(getenv("BASE_URL"), getenv("OPENAI_BASE_URL"), cfg.BaseURL)
	cfg.Model = values.StringsCoalesce(getenv("MODEL"), getenv("OPENAI_MODEL"), cfg.Model)

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Provider = values.StringsCoalesce(c.Provider, string(llms.ProviderOpenAI))
	c.Model = values.StringsCoalesce(c.Model, openai.DefaultModel)
	c.SystemPrompt = values.StringsCoalesce(c.SystemPrompt, assistants.DefaultSystemPrompt)
	c.MaxTokens = values.NumbersCoalesce(c.MaxTokens, gateway.DefaultMaxTokens)
	if c.Temperature == nil {
		t := gateway.DefaultTemperature
		c.Temperature = &t
	}
	c.ClientName = values.StringsCoalesce(c.ClientName, DefaultClientName)
	c.ClientVersion = values.StringsCoalesce(c.ClientVersion, DefaultClientVersion)
}

// GetTemperature returns the configured temperature or the default.
func (c *Config) GetTemperature() float64 {
	if c.Temperature == nil {
		return gateway.DefaultTemperature
	}
	return *c.Temperature
}

// Validate returns an error if the configuration can not be used.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}
