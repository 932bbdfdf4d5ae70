package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/fsutil"
)

// DefaultLockWait bounds how long a refresh waits for another process.
const DefaultLockWait = 5 * time.Second

// InjectVar maps one environment variable to a 1Password secret reference.
type InjectVar struct {
	AccountID string `toml:"account_id"`
	Reference string `toml:"op_reference"`
}

// TemplatedFile is the side index entry for one managed template, keyed by
// the original file path in Config.TemplatedFiles.
type TemplatedFile struct {
	TemplatePath string   `toml:"template_path"`
	Vars         []string `toml:"vars"`
}

type CacheSettings struct {
	TTL      string `toml:"ttl,omitempty"`
	LockWait string `toml:"lock_wait,omitempty"`
}

type AccountSettings struct {
	CacheTTL string `toml:"cache_ttl,omitempty"`
	NoCache  bool   `toml:"no_cache,omitempty"`
}

type Config struct {
	DefaultAccountID       string                     `toml:"default_account_id,omitempty"`
	DefaultVaultID         string                     `toml:"default_vault_id,omitempty"`
	DefaultVaultPerAccount map[string]string          `toml:"default_vault_per_account,omitempty"`
	Cache                  CacheSettings              `toml:"cache"`
	Accounts               map[string]AccountSettings `toml:"accounts,omitempty"`
	InjectVars             map[string]InjectVar       `toml:"inject_vars,omitempty"`
	TemplatedFiles         map[string]TemplatedFile   `toml:"templated_files,omitempty"`

	path string
}

// Load reads the TOML config at path. A missing file yields an empty config
// bound to path so that a later Save creates it.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.FileOperationError("Loading configuration", path, "Failed to read config file", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.ConfigError(
			"Parsing configuration",
			fmt.Sprintf("Invalid TOML in %s", path),
			err,
		)
	}

	return cfg, nil
}

// Path is the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config back atomically with owner-only permissions.
func (c *Config) Save() error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return errors.ConfigError("Serializing configuration", "Failed to encode TOML", err)
	}

	if err := fsutil.WriteFileAtomic(c.path, buf.Bytes(), 0600); err != nil {
		return errors.FileOperationError("Saving configuration", c.path, "Failed to write config file", err)
	}
	return nil
}

// AccountIDs returns the sorted set of accounts referenced by inject_vars.
func (c *Config) AccountIDs() []string {
	seen := make(map[string]struct{})
	for _, v := range c.InjectVars {
		seen[v.AccountID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VarsForAccount returns name -> reference for every variable owned by accountID.
func (c *Config) VarsForAccount(accountID string) map[string]string {
	vars := make(map[string]string)
	for name, v := range c.InjectVars {
		if v.AccountID == accountID {
			vars[name] = v.Reference
		}
	}
	return vars
}

// ManagedNames returns the sorted variable names this tool sets, limited to
// the given accounts when any are passed.
func (c *Config) ManagedNames(accountIDs ...string) []string {
	filter := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		filter[id] = struct{}{}
	}

	names := make([]string, 0, len(c.InjectVars))
	for name, v := range c.InjectVars {
		if len(filter) > 0 {
			if _, ok := filter[v.AccountID]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint identifies the set of references resolved for accountID. A
// cache entry written under a different fingerprint is stale.
func (c *Config) Fingerprint(accountID string) string {
	vars := c.VarsForAccount(accountID)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s|%s\n", name, accountID, vars[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheTTL picks the TTL for accountID. override is the flag or environment
// value and wins over the file; no_cache on the account always bypasses.
func (c *Config) CacheTTL(accountID, override string) (time.Duration, error) {
	acct := c.Accounts[accountID]
	if acct.NoCache {
		return 0, nil
	}

	switch {
	case override != "":
		return ParseDuration("cache ttl", override)
	case acct.CacheTTL != "":
		return ParseDuration(fmt.Sprintf("accounts.%s.cache_ttl", accountID), acct.CacheTTL)
	default:
		return ParseDuration("cache.ttl", c.Cache.TTL)
	}
}

// LockWait picks how long to wait for the refresh lock.
func (c *Config) LockWait(override string) (time.Duration, error) {
	value := override
	field := "lock wait"
	if value == "" {
		value = c.Cache.LockWait
		field = "cache.lock_wait"
	}
	if value == "" {
		return DefaultLockWait, nil
	}

	d, err := ParseDuration(field, value)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return DefaultLockWait, nil
	}
	return d, nil
}

// ParseDuration accepts Go durations; empty and "0" mean zero.
func ParseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errors.ValidationError(
			"Parsing duration",
			field,
			value,
			"non-negative Go duration such as 30s, 10m or 1h",
		)
	}
	return d, nil
}

// Keys accepted by Get and Set.
var Keys = []string{"default_account_id", "default_vault_id", "cache.ttl", "cache.lock_wait"}

// Get returns the value of a scalar setting.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "default_account_id":
		return c.DefaultAccountID, nil
	case "default_vault_id":
		return c.DefaultVaultID, nil
	case "cache.ttl":
		return c.Cache.TTL, nil
	case "cache.lock_wait":
		return c.Cache.LockWait, nil
	default:
		return "", unknownKey(key)
	}
}

// Set updates a scalar setting in memory; call Save to persist it.
func (c *Config) Set(key, value string) error {
	switch key {
	case "default_account_id":
		c.DefaultAccountID = value
	case "default_vault_id":
		c.DefaultVaultID = value
	case "cache.ttl":
		if _, err := ParseDuration(key, value); err != nil {
			return err
		}
		c.Cache.TTL = value
	case "cache.lock_wait":
		if _, err := ParseDuration(key, value); err != nil {
			return err
		}
		c.Cache.LockWait = value
	default:
		return unknownKey(key)
	}
	return nil
}

func unknownKey(key string) error {
	return errors.ConfigValidationError(
		"key",
		key,
		fmt.Sprintf("Unknown config key: '%s'", key),
		[]string{fmt.Sprintf("Valid keys: %s", strings.Join(Keys, ", "))},
	)
}
