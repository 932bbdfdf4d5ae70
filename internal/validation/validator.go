package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/brizzbuzz/oploader/internal/config"
	"github.com/brizzbuzz/oploader/internal/errors"
)

var varNamePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Locations no rendered template may be written to.
var dangerousPaths = []string{
	"/bin", "/sbin", "/usr/bin", "/usr/sbin",
	"/boot", "/dev", "/proc", "/sys",
	"/etc/passwd", "/etc/shadow", "/etc/group",
}

// Validator provides validation with helpful error messages
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig checks every inject var, template record and duration in
// cfg. Problems that only degrade rendering come back as warnings.
func (v *Validator) ValidateConfig(cfg *config.Config) ([]string, error) {
	if _, err := config.ParseDuration("cache.ttl", cfg.Cache.TTL); err != nil {
		return nil, err
	}
	if _, err := config.ParseDuration("cache.lock_wait", cfg.Cache.LockWait); err != nil {
		return nil, err
	}
	for id, acct := range cfg.Accounts {
		if _, err := config.ParseDuration(fmt.Sprintf("accounts.%s.cache_ttl", id), acct.CacheTTL); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(cfg.InjectVars))
	for name := range cfg.InjectVars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		iv := cfg.InjectVars[name]
		if err := v.ValidateInjectVar(name, iv.AccountID, iv.Reference); err != nil {
			return nil, err
		}
	}

	originals := make([]string, 0, len(cfg.TemplatedFiles))
	for original := range cfg.TemplatedFiles {
		originals = append(originals, original)
	}
	sort.Strings(originals)

	var warnings []string
	for _, original := range originals {
		if err := v.ValidateTemplateTarget(original); err != nil {
			return nil, err
		}
		for _, name := range cfg.TemplatedFiles[original].Vars {
			if _, ok := cfg.InjectVars[name]; !ok {
				warnings = append(warnings, fmt.Sprintf("template %s uses {{%s}} which is not a managed variable", original, name))
			}
		}
	}

	return warnings, nil
}

// ValidateInjectVar validates one variable mapping
func (v *Validator) ValidateInjectVar(name, accountID, reference string) error {
	field := fmt.Sprintf("inject_vars.%s", name)

	if err := v.ValidateVarName(name); err != nil {
		return err
	}

	if strings.TrimSpace(accountID) == "" {
		return errors.ConfigValidationError(
			field+".account_id",
			"<empty>",
			"Account ID cannot be empty",
			[]string{
				"List your accounts: op account list",
				"Use the account UUID or sign-in address",
			},
		)
	}

	return v.validateReference(reference, field)
}

// ValidateVarName checks an environment variable name is safe to export
func (v *Validator) ValidateVarName(name string) error {
	if !varNamePattern.MatchString(name) {
		return errors.ConfigValidationError(
			"inject_vars",
			name,
			"Invalid environment variable name",
			[]string{
				"Use upper-case letters, digits and underscores only",
				"The name must not start with a digit",
				"Example: GITHUB_TOKEN",
			},
		)
	}
	return nil
}

// ValidateReference validates 1Password reference format
func (v *Validator) ValidateReference(reference string) error {
	return v.validateReference(reference, "reference")
}

func (v *Validator) validateReference(reference, field string) error {
	if reference == "" {
		return errors.ConfigValidationError(
			field+".op_reference",
			"<empty>",
			"Reference cannot be empty",
			[]string{
				"Add a valid 1Password reference: op://Vault/Item/field",
				"Example: op://Dev/GitHub/token",
				"Copy a reference from the item's field menu in 1Password",
			},
		)
	}

	if !strings.HasPrefix(reference, "op://") {
		return errors.ConfigValidationError(
			field+".op_reference",
			reference,
			"Invalid 1Password reference format",
			[]string{
				"Use format: op://Vault/Item/field or op://Vault/Item/Section/field",
				"Example: op://Dev/GitHub/token",
				"Ensure vault, item, and field names don't contain forward slashes",
			},
		)
	}

	parts := strings.Split(strings.TrimPrefix(reference, "op://"), "/")
	if len(parts) < 3 {
		return errors.ConfigValidationError(
			field+".op_reference",
			reference,
			"Reference must have at least 3 parts: vault/item/field",
			[]string{
				"Verify the reference format: op://Vault/Item/field",
				"Or with sections: op://Vault/Item/Section/field",
			},
		)
	}

	vault, item := parts[0], parts[1]
	fieldName := parts[len(parts)-1]

	if vault == "" {
		return errors.ConfigValidationError(
			field+".op_reference",
			reference,
			"Vault name cannot be empty",
			[]string{"List available vaults: op vault list"},
		)
	}

	if item == "" {
		return errors.ConfigValidationError(
			field+".op_reference",
			reference,
			"Item name cannot be empty",
			[]string{fmt.Sprintf("List items in vault: op item list --vault '%s'", vault)},
		)
	}

	if fieldName == "" {
		return errors.ConfigValidationError(
			field+".op_reference",
			reference,
			"Field name cannot be empty",
			[]string{
				fmt.Sprintf("View item details: op item get '%s' --vault '%s'", item, vault),
				"Common field names: password, credential, token, key",
			},
		)
	}

	return nil
}

// ValidateTemplateTarget checks a path a rendered template will be written to
func (v *Validator) ValidateTemplateTarget(path string) error {
	if path == "" {
		return errors.ConfigValidationError(
			"templated_files",
			"<empty>",
			"Template target path cannot be empty",
			[]string{"Pass the file to manage: oploader template add ~/.npmrc"},
		)
	}

	if !filepath.IsAbs(path) {
		return errors.ConfigValidationError(
			"templated_files",
			path,
			"Template target path must be absolute",
			[]string{"Records are keyed by absolute path; re-add the file with: oploader template add"},
		)
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return errors.ConfigValidationError(
				"templated_files",
				path,
				"Path traversal detected (contains '..')",
				[]string{"Use a clean absolute path"},
			)
		}
	}

	for _, dangerous := range dangerousPaths {
		if path == dangerous || strings.HasPrefix(path, dangerous+"/") {
			return errors.ConfigValidationError(
				"templated_files",
				path,
				fmt.Sprintf("Path starts with potentially dangerous location: %s", dangerous),
				[]string{
					"Avoid rendering secrets into system directories",
					"Render into your home directory or a project directory instead",
				},
			)
		}
	}

	return nil
}
