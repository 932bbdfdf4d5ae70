package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
default_account_id = "ACCT1"

[cache]
ttl = "10m"
lock_wait = "8s"

[accounts.ACCT2]
cache_ttl = "1h"

[accounts.ACCT3]
no_cache = true

[inject_vars.GITHUB_TOKEN]
account_id = "ACCT1"
op_reference = "op://Dev/GitHub/token"

[inject_vars.NPM_TOKEN]
account_id = "ACCT2"
op_reference = "op://Dev/npm/token"

[inject_vars.AWS_KEY]
account_id = "ACCT1"
op_reference = "op://Dev/AWS/access key"

[templated_files."/home/me/.npmrc"]
template_path = "/home/me/.config/op_loader/templates/abc-npmrc"
vars = ["NPM_TOKEN"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "ACCT1", cfg.DefaultAccountID)
	assert.Len(t, cfg.InjectVars, 3)
	assert.Equal(t, "op://Dev/GitHub/token", cfg.InjectVars["GITHUB_TOKEN"].Reference)
	assert.Equal(t, []string{"NPM_TOKEN"}, cfg.TemplatedFiles["/home/me/.npmrc"].Vars)
	assert.True(t, cfg.Accounts["ACCT3"].NoCache)
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.InjectVars)
	assert.Equal(t, path, cfg.Path())
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "default_account_id = [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid TOML")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "op_loader", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.InjectVars = map[string]InjectVar{
		"API_KEY": {AccountID: "ACCT", Reference: "op://Vault/Item/field"},
	}
	require.NoError(t, cfg.Set("cache.ttl", "15m"))
	require.NoError(t, cfg.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.InjectVars, reloaded.InjectVars)
	assert.Equal(t, "15m", reloaded.Cache.TTL)
}

func TestAccountsAndNames(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"ACCT1", "ACCT2"}, cfg.AccountIDs())
	assert.Equal(t, []string{"AWS_KEY", "GITHUB_TOKEN", "NPM_TOKEN"}, cfg.ManagedNames())
	assert.Equal(t, []string{"AWS_KEY", "GITHUB_TOKEN"}, cfg.ManagedNames("ACCT1"))
	assert.Equal(t, map[string]string{"NPM_TOKEN": "op://Dev/npm/token"}, cfg.VarsForAccount("ACCT2"))
}

func TestFingerprint(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	before := cfg.Fingerprint("ACCT1")
	assert.Equal(t, before, cfg.Fingerprint("ACCT1"), "fingerprint must be deterministic")
	assert.NotEqual(t, before, cfg.Fingerprint("ACCT2"))

	unrelated := cfg.Fingerprint("ACCT2")
	cfg.InjectVars["NEW_VAR"] = InjectVar{AccountID: "ACCT1", Reference: "op://Dev/New/field"}
	assert.NotEqual(t, before, cfg.Fingerprint("ACCT1"))
	assert.Equal(t, unrelated, cfg.Fingerprint("ACCT2"))
}

func TestCacheTTL(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	tests := []struct {
		name     string
		account  string
		override string
		want     time.Duration
	}{
		{"global default", "ACCT1", "", 10 * time.Minute},
		{"per account", "ACCT2", "", time.Hour},
		{"override wins", "ACCT2", "30s", 30 * time.Second},
		{"override zero bypasses", "ACCT1", "0", 0},
		{"no_cache always bypasses", "ACCT3", "5m", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.CacheTTL(tt.account, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = cfg.CacheTTL("ACCT1", "soon")
	assert.Error(t, err)
}

func TestCacheTTL_EmptyConfigBypasses(t *testing.T) {
	cfg := &Config{}
	ttl, err := cfg.CacheTTL("ANY", "")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestLockWait(t *testing.T) {
	cfg := &Config{}
	wait, err := cfg.LockWait("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLockWait, wait)

	cfg.Cache.LockWait = "8s"
	wait, err = cfg.LockWait("")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, wait)

	wait, err = cfg.LockWait("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, wait)

	_, err = cfg.LockWait("-1s")
	assert.Error(t, err)
}

func TestGetSet(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, cfg.Set("default_account_id", "ACCT"))
	got, err := cfg.Get("default_account_id")
	require.NoError(t, err)
	assert.Equal(t, "ACCT", got)

	assert.Error(t, cfg.Set("cache.lock_wait", "forever"))
	_, err = cfg.Get("favorite_color")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown config key")
}

func TestResolvePaths(t *testing.T) {
	p, err := ResolvePaths(Env{XDGConfigHome: "/xdg/config", XDGCacheHome: "/xdg/cache"})
	require.NoError(t, err)
	assert.Equal(t, "/xdg/config/op_loader/config.toml", p.Config)
	assert.Equal(t, "/xdg/cache/op_loader", p.CacheDir)
	assert.Equal(t, "/xdg/config/op_loader/templates", p.Templates)
	assert.Equal(t, "/xdg/config/op_loader/token", p.TokenFile)

	p, err = ResolvePaths(Env{
		ConfigPath:    "/custom/cfg.toml",
		CacheDir:      "/custom/cache",
		TemplatesDir:  "/custom/tpl",
		XDGConfigHome: "/xdg/config",
		XDGCacheHome:  "/xdg/cache",
	})
	require.NoError(t, err)
	assert.Equal(t, "/custom/cfg.toml", p.Config)
	assert.Equal(t, "/custom/cache", p.CacheDir)
	assert.Equal(t, "/custom/tpl", p.Templates)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("OP_LOADER_CACHE_TTL", "2m")
	t.Setenv("OP_LOADER_LOCK_WAIT", "9s")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "2m", env.CacheTTL)
	assert.Equal(t, "9s", env.LockWait)
}
