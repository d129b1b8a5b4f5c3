// Package config reads the relay's process configuration from environment
// variables. The configuration is loaded once at startup and injected into
// the components that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"azure-openai-relay/pkg/utils"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAPIVersion = "2023-12-01-preview"
	DefaultTokenScope = "https://cognitiveservices.azure.com/.default"
	DefaultPort       = "8899"
)

// Config contains everything the relay needs to reach Azure OpenAI: the
// deployment endpoint, the API version, and the service principal used for
// the client-credentials exchange.
type Config struct {
	// TenantID is the Azure AD tenant the service principal lives in.
	TenantID string
	// ClientID is the service principal's application (client) ID.
	ClientID string
	// ClientSecret is the service principal's client secret.
	ClientSecret string
	// Endpoint is the Azure OpenAI resource endpoint, e.g.
	// https://my-resource.openai.azure.com.
	Endpoint string
	// APIVersion is the Azure OpenAI API version query parameter.
	APIVersion string
	// TokenScope is the OAuth2 scope requested during the credential exchange.
	TokenScope string
	// DefaultModel is the deployment used when a request names no model.
	DefaultModel string
	// Addr is the listen address for the HTTP server.
	Addr string
}

// Load builds a Config from environment variables.
//
// Required variables:
//   - AZURE_TENANT_ID
//   - AZURE_CLIENT_ID
//   - AZURE_CLIENT_SECRET
//   - AZURE_OPENAI_ENDPOINT
//
// Optional variables:
//   - AZURE_OPENAI_API_VERSION (default "2023-12-01-preview")
//   - AZURE_TOKEN_SCOPE (default "https://cognitiveservices.azure.com/.default")
//   - DEFAULT_MODEL (default "gpt-4o")
//   - PORT (default "8899")
func Load() (*Config, error) {
	cfg := &Config{
		TenantID:     os.Getenv("AZURE_TENANT_ID"),
		ClientID:     os.Getenv("AZURE_CLIENT_ID"),
		ClientSecret: os.Getenv("AZURE_CLIENT_SECRET"),
		Endpoint:     strings.TrimSuffix(os.Getenv("AZURE_OPENAI_ENDPOINT"), "/"),
		APIVersion:   utils.GetEnvWithDefault("AZURE_OPENAI_API_VERSION", DefaultAPIVersion),
		TokenScope:   utils.GetEnvWithDefault("AZURE_TOKEN_SCOPE", DefaultTokenScope),
		DefaultModel: utils.GetEnvWithDefault("DEFAULT_MODEL", "gpt-4o"),
		Addr:         ":" + utils.GetEnvWithDefault("PORT", DefaultPort),
	}

	var missing []string
	if cfg.TenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if cfg.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, errors.New("AZURE_OPENAI_ENDPOINT must be an absolute URL")
	}

	return cfg, nil
}
