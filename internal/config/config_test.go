package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_TENANT_ID", "tenant-1")
	t.Setenv("AZURE_CLIENT_ID", "client-1")
	t.Setenv("AZURE_CLIENT_SECRET", "secret-1")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
}

func clearOptionalEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"AZURE_OPENAI_API_VERSION", "AZURE_TOKEN_SCOPE", "DEFAULT_MODEL", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIVersion != DefaultAPIVersion {
		t.Errorf("APIVersion = %q, want %q", cfg.APIVersion, DefaultAPIVersion)
	}
	if cfg.TokenScope != DefaultTokenScope {
		t.Errorf("TokenScope = %q, want %q", cfg.TokenScope, DefaultTokenScope)
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q, want gpt-4o", cfg.DefaultModel)
	}
	if cfg.Addr != ":8899" {
		t.Errorf("Addr = %q, want :8899", cfg.Addr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AZURE_OPENAI_API_VERSION", "2024-06-01")
	t.Setenv("DEFAULT_MODEL", "gpt-35-turbo")
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIVersion != "2024-06-01" {
		t.Errorf("APIVersion = %q, want 2024-06-01", cfg.APIVersion)
	}
	if cfg.DefaultModel != "gpt-35-turbo" {
		t.Errorf("DefaultModel = %q, want gpt-35-turbo", cfg.DefaultModel)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr)
	}
}

func TestLoadTrimsEndpointSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Endpoint != "https://example.openai.azure.com" {
		t.Errorf("Endpoint = %q, want trailing slash trimmed", cfg.Endpoint)
	}
}

func TestLoadReportsAllMissingVariables(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AZURE_TENANT_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with missing required variables")
	}
	for _, name := range []string{"AZURE_TENANT_ID", "AZURE_CLIENT_SECRET"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name missing variable %s", err, name)
		}
	}
	if strings.Contains(err.Error(), "AZURE_CLIENT_ID") {
		t.Errorf("error %q names a variable that was set", err)
	}
}

func TestLoadRejectsRelativeEndpoint(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AZURE_OPENAI_ENDPOINT", "example.openai.azure.com")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an endpoint without a scheme")
	}
}
