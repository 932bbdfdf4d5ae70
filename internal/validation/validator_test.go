package validation

import (
	"strings"
	"testing"

	"github.com/brizzbuzz/oploader/internal/config"
)

func TestValidator_ValidateReference(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		reference string
		wantError bool
		errorType string
	}{
		{
			name:      "empty reference",
			reference: "",
			wantError: true,
			errorType: "Reference cannot be empty",
		},
		{
			name:      "valid reference",
			reference: "op://Vault/Item/field",
		},
		{
			name:      "invalid format - no op prefix",
			reference: "vault/item/field",
			wantError: true,
			errorType: "Invalid 1Password reference format",
		},
		{
			name:      "invalid format - too few parts",
			reference: "op://Vault/Item",
			wantError: true,
			errorType: "at least 3 parts",
		},
		{
			name:      "valid format - with section",
			reference: "op://Vault/Item/Section/field",
		},
		{
			name:      "valid format - section with spaces",
			reference: "op://Homelab/SSL Certificates/example.com/private key",
		},
		{
			name:      "empty vault",
			reference: "op:///Item/field",
			wantError: true,
			errorType: "Vault name cannot be empty",
		},
		{
			name:      "empty item",
			reference: "op://Vault//field",
			wantError: true,
			errorType: "Item name cannot be empty",
		},
		{
			name:      "empty field",
			reference: "op://Vault/Item/",
			wantError: true,
			errorType: "Field name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateReference(tt.reference)
			checkError(t, err, tt.wantError, tt.errorType)
		})
	}
}

func TestValidator_ValidateVarName(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		varName   string
		wantError bool
	}{
		{"simple", "GITHUB_TOKEN", false},
		{"leading underscore", "_PRIVATE", false},
		{"digits", "AWS_KEY_2", false},
		{"lower case", "github_token", true},
		{"leading digit", "2FA_CODE", true},
		{"dash", "MY-VAR", true},
		{"shell injection", "X;rm", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateVarName(tt.varName)
			checkError(t, err, tt.wantError, "Invalid environment variable name")
		})
	}
}

func TestValidator_ValidateTemplateTarget(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		path      string
		wantError bool
		errorType string
	}{
		{"home file", "/home/me/.npmrc", false, ""},
		{"binaries is not bin", "/binaries/app.conf", false, ""},
		{"empty", "", true, "cannot be empty"},
		{"relative", "config/app.env", true, "must be absolute"},
		{"traversal", "/home/me/../../etc/app.env", true, "Path traversal"},
		{"system dir", "/usr/bin/tool.conf", true, "dangerous location"},
		{"shadow", "/etc/shadow", true, "dangerous location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateTemplateTarget(tt.path)
			checkError(t, err, tt.wantError, tt.errorType)
		})
	}
}

func TestValidator_ValidateConfig(t *testing.T) {
	validator := NewValidator()

	valid := func() *config.Config {
		return &config.Config{
			Cache: config.CacheSettings{TTL: "10m"},
			InjectVars: map[string]config.InjectVar{
				"NPM_TOKEN": {AccountID: "ACCT", Reference: "op://Dev/npm/token"},
			},
			TemplatedFiles: map[string]config.TemplatedFile{
				"/home/me/.npmrc": {TemplatePath: "/tpl/npmrc", Vars: []string{"NPM_TOKEN"}},
			},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		warnings, err := validator.ValidateConfig(valid())
		if err != nil {
			t.Fatalf("Expected no error but got: %v", err)
		}
		if len(warnings) != 0 {
			t.Errorf("Expected no warnings, got %v", warnings)
		}
	})

	t.Run("missing account", func(t *testing.T) {
		cfg := valid()
		cfg.InjectVars["NPM_TOKEN"] = config.InjectVar{Reference: "op://Dev/npm/token"}
		_, err := validator.ValidateConfig(cfg)
		checkError(t, err, true, "Account ID cannot be empty")
	})

	t.Run("bad ttl", func(t *testing.T) {
		cfg := valid()
		cfg.Cache.TTL = "eventually"
		_, err := validator.ValidateConfig(cfg)
		checkError(t, err, true, "cache.ttl")
	})

	t.Run("unmanaged placeholder is a warning", func(t *testing.T) {
		cfg := valid()
		cfg.TemplatedFiles["/home/me/.npmrc"] = config.TemplatedFile{
			TemplatePath: "/tpl/npmrc",
			Vars:         []string{"NPM_TOKEN", "REGISTRY_URL"},
		}
		warnings, err := validator.ValidateConfig(cfg)
		if err != nil {
			t.Fatalf("Expected no error but got: %v", err)
		}
		if len(warnings) != 1 || !strings.Contains(warnings[0], "REGISTRY_URL") {
			t.Errorf("Expected one warning about REGISTRY_URL, got %v", warnings)
		}
	})
}

func checkError(t *testing.T, err error, wantError bool, errorType string) {
	t.Helper()

	if wantError {
		if err == nil {
			t.Errorf("Expected error but got none")
			return
		}
		if errorType != "" && !strings.Contains(err.Error(), errorType) {
			t.Errorf("Expected error to contain %q, got: %v", errorType, err)
		}
		return
	}

	if err != nil {
		t.Errorf("Expected no error but got: %v", err)
	}
}
