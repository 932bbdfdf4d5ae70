package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kinds let callers branch on the failure class with errors.Is while the
// message itself stays human oriented.
var (
	ErrProvider     = stderrors.New("secret provider failed")
	ErrLockTimeout  = stderrors.New("cache lock wait timed out")
	ErrKeyStore     = stderrors.New("cache key store unavailable")
	ErrCorruptCache = stderrors.New("cache entry is corrupt")
	ErrUnresolved   = stderrors.New("template has unresolved placeholders")
	ErrNotManaged   = stderrors.New("file is not a managed template")
)

// LoaderError represents a structured error with context and suggestions
type LoaderError struct {
	Operation   string   // What operation was being performed
	Component   string   // Which component failed (config, cache, provider, etc.)
	Issue       string   // The core issue description
	Context     string   // Additional context about the failure
	Suggestions []string // List of actionable suggestions to fix the issue
	Cause       error    // Underlying error that caused this
	Kind        error    // Failure class, matched by Is
}

func (e *LoaderError) Error() string {
	var parts []string

	if e.Operation != "" && e.Component != "" {
		parts = append(parts, fmt.Sprintf("ERROR: %s failed in %s", e.Operation, e.Component))
	} else if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("ERROR: %s failed", e.Operation))
	} else {
		parts = append(parts, "ERROR: Operation failed")
	}

	if e.Issue != "" {
		parts = append(parts, fmt.Sprintf("  Issue: %s", e.Issue))
	}

	if e.Context != "" {
		parts = append(parts, fmt.Sprintf("  Context: %s", e.Context))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("  Cause: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		parts = append(parts, "")
		parts = append(parts, "  Suggestions:")
		for i, suggestion := range e.Suggestions {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, suggestion))
		}
	}

	return strings.Join(parts, "\n")
}

func (e *LoaderError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the kind of this error.
func (e *LoaderError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// ConfigError creates errors related to configuration parsing and validation
func ConfigError(operation, issue string, cause error) *LoaderError {
	return &LoaderError{
		Operation: operation,
		Component: "configuration",
		Issue:     issue,
		Cause:     cause,
	}
}

// ConfigValidationError creates detailed validation errors with suggestions
func ConfigValidationError(field, value, issue string, suggestions []string) *LoaderError {
	return &LoaderError{
		Operation:   "Configuration validation",
		Component:   "configuration",
		Issue:       issue,
		Context:     fmt.Sprintf("Field '%s' has value '%s'", field, value),
		Suggestions: suggestions,
	}
}

// FileOperationError creates errors for file system operations
func FileOperationError(operation, path, issue string, cause error) *LoaderError {
	suggestions := []string{}

	detail := issue
	if cause != nil {
		detail += " " + cause.Error()
	}

	if strings.Contains(detail, "permission denied") {
		suggestions = append(suggestions,
			fmt.Sprintf("Check write permissions for '%s'", path),
			fmt.Sprintf("Check parent directory permissions: ls -la '%s'", getDirPath(path)),
		)
	} else if strings.Contains(detail, "no such file or directory") {
		suggestions = append(suggestions,
			fmt.Sprintf("Create parent directory: mkdir -p '%s'", getDirPath(path)),
			fmt.Sprintf("Verify the path is correct: '%s'", path),
		)
	} else if strings.Contains(detail, "disk") || strings.Contains(detail, "space") {
		suggestions = append(suggestions,
			"Check available disk space: df -h",
			"Clean up temporary files if needed",
		)
	}

	return &LoaderError{
		Operation:   operation,
		Component:   "file system",
		Issue:       issue,
		Context:     fmt.Sprintf("Target path: %s", path),
		Suggestions: suggestions,
		Cause:       cause,
	}
}

// ProviderError creates errors for failed 1Password resolutions. The cause is
// surfaced verbatim; suggestions are picked from its text.
func ProviderError(operation, accountID string, cause error) *LoaderError {
	suggestions := []string{}

	issue := "1Password could not resolve the secret references"
	text := ""
	if cause != nil {
		text = strings.ToLower(cause.Error())
	}

	if strings.Contains(text, "authentication") || strings.Contains(text, "token") || strings.Contains(text, "sign in") || strings.Contains(text, "signed in") {
		suggestions = append(suggestions,
			fmt.Sprintf("Sign in to the account: op signin --account %s", accountID),
			"Unlock the 1Password desktop app if CLI integration is enabled",
			"For service accounts verify OP_SERVICE_ACCOUNT_TOKEN or run: oploader token set",
		)
	} else if strings.Contains(text, "not found") || strings.Contains(text, "isn't an item") || strings.Contains(text, "reference") {
		suggestions = append(suggestions,
			"Verify the 1Password reference format: op://Vault/Item/field",
			"Check if the vault, item, and field exist in 1Password",
			"List managed variables: oploader vars list",
		)
	} else if strings.Contains(text, "network") || strings.Contains(text, "connection") || strings.Contains(text, "timeout") {
		suggestions = append(suggestions,
			"Check internet connectivity",
			"Retry the operation in a few minutes",
		)
	} else if strings.Contains(text, "rate limit") || strings.Contains(text, "too many requests") {
		suggestions = append(suggestions,
			"Wait a few minutes before retrying",
			"Enable caching to reduce requests: oploader config set cache.ttl 10m",
		)
	}

	return &LoaderError{
		Operation:   operation,
		Component:   "1Password integration",
		Issue:       issue,
		Context:     fmt.Sprintf("Account: %s", accountID),
		Suggestions: suggestions,
		Cause:       cause,
		Kind:        ErrProvider,
	}
}

// LockTimeoutError reports that the refresh lock could not be taken in time.
func LockTimeoutError(lockPath string, wait time.Duration) *LoaderError {
	return &LoaderError{
		Operation: "Acquiring cache refresh lock",
		Component: "cache lock",
		Issue:     fmt.Sprintf("Another process held the refresh lock for longer than %s", wait),
		Context:   fmt.Sprintf("Lock file: %s", lockPath),
		Suggestions: []string{
			"Increase the wait: -lock-wait 15s",
			"Or set it for every shell: export OP_LOADER_LOCK_WAIT=15s",
			"Or persist it: oploader config set cache.lock_wait 15s",
			fmt.Sprintf("Inspect the current holder: cat '%s'", lockPath),
		},
		Kind: ErrLockTimeout,
	}
}

// KeyStoreError creates errors for an unusable cache encryption key.
func KeyStoreError(operation, issue string, cause error) *LoaderError {
	return &LoaderError{
		Operation: operation,
		Component: "key store",
		Issue:     issue,
		Cause:     cause,
		Suggestions: []string{
			"Make sure the platform key store (Keychain, Secret Service, Credential Manager) is unlocked",
			"Caching is skipped until the key store is usable",
			"Reset the key and cached entries: oploader cache clear -reset-key",
		},
		Kind: ErrKeyStore,
	}
}

// CorruptCacheError describes a cache entry that cannot be parsed or opened.
func CorruptCacheError(path, issue string, cause error) *LoaderError {
	return &LoaderError{
		Operation: "Reading cache entry",
		Component: "cache",
		Issue:     issue,
		Context:   fmt.Sprintf("Cache file: %s", path),
		Cause:     cause,
		Suggestions: []string{
			"The entry is ignored and refreshed on the next resolution",
			"Remove it explicitly: oploader cache clear",
		},
		Kind: ErrCorruptCache,
	}
}

// TemplateError creates errors for template management and rendering
func TemplateError(operation, path, issue string, cause error) *LoaderError {
	return &LoaderError{
		Operation: operation,
		Component: "templates",
		Issue:     issue,
		Context:   fmt.Sprintf("Template: %s", path),
		Cause:     cause,
	}
}

// UnresolvedError lists placeholders that had no value in the resolved mapping.
// failedAccounts names accounts whose resolution failed and that own some of
// the names; those placeholders need the account fixed, not a new mapping.
func UnresolvedError(path string, names []string, failedAccounts []string) *LoaderError {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	where := fmt.Sprintf("Target left untouched: %s", path)
	suggestions := []string{
		"Map each name to a 1Password reference: oploader vars add -name NAME -account ID -ref op://Vault/Item/field",
		"Or remove the placeholder from the managed template",
	}
	if len(failedAccounts) > 0 {
		accounts := strings.Join(failedAccounts, ", ")
		where += fmt.Sprintf(" (accounts that failed to resolve: %s)", accounts)
		suggestions = []string{
			fmt.Sprintf("Fix the resolution error reported for %s, then render again", accounts),
			"Check the account is signed in: op whoami --account ID",
		}
	}

	return &LoaderError{
		Operation:   "Rendering template",
		Component:   "templates",
		Issue:       fmt.Sprintf("Unresolved placeholders: %s", strings.Join(sorted, ", ")),
		Context:     where,
		Suggestions: suggestions,
		Kind:        ErrUnresolved,
	}
}

// NotManagedError reports a path that has no template record.
func NotManagedError(operation, path string) *LoaderError {
	return &LoaderError{
		Operation: operation,
		Component: "templates",
		Issue:     "File is not managed as a template",
		Context:   fmt.Sprintf("Path: %s", path),
		Suggestions: []string{
			"List managed templates: oploader template list",
			fmt.Sprintf("Start managing it: oploader template add '%s'", path),
		},
		Kind: ErrNotManaged,
	}
}

// ValidationError creates general validation errors
func ValidationError(operation, field, value, expectedFormat string) *LoaderError {
	return &LoaderError{
		Operation: operation,
		Component: "validation",
		Issue:     fmt.Sprintf("Invalid value '%s' for field '%s'", value, field),
		Context:   fmt.Sprintf("Expected format: %s", expectedFormat),
		Suggestions: []string{
			fmt.Sprintf("Update field '%s' to match the expected format", field),
			"Check the documentation for valid values",
		},
	}
}

// TokenError creates token-related errors with setup instructions
func TokenError(issue, tokenPath string, cause error) *LoaderError {
	suggestions := []string{
		"Set up your 1Password service account token:",
		"  1. Visit https://my.1password.com/developer-tools/infrastructure-secrets",
		"  2. Create a new service account",
		"  3. Copy the token and run: oploader token set",
		fmt.Sprintf("  4. Or manually create file: echo 'your-token' > %s", tokenPath),
		fmt.Sprintf("  5. Set correct permissions: chmod 600 %s", tokenPath),
		"Or use the 1Password CLI instead: -provider cli",
	}

	return &LoaderError{
		Operation:   "Token access",
		Component:   "authentication",
		Issue:       issue,
		Context:     fmt.Sprintf("Token file: %s", tokenPath),
		Suggestions: suggestions,
		Cause:       cause,
	}
}

func getDirPath(filePath string) string {
	lastSlash := strings.LastIndex(filePath, "/")
	if lastSlash == -1 {
		return "."
	}
	if lastSlash == 0 {
		return "/"
	}
	return filePath[:lastSlash]
}

// Wrap provides a simple way to wrap existing errors with loader context
func Wrap(err error, operation, component string) error {
	if err == nil {
		return nil
	}

	return &LoaderError{
		Operation: operation,
		Component: component,
		Issue:     err.Error(),
		Cause:     err,
	}
}

// WrapWithSuggestions wraps an error and adds suggestions
func WrapWithSuggestions(err error, operation, component string, suggestions []string) error {
	if err == nil {
		return nil
	}

	return &LoaderError{
		Operation:   operation,
		Component:   component,
		Issue:       err.Error(),
		Suggestions: suggestions,
		Cause:       err,
	}
}
