package config

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"

	"github.com/brizzbuzz/oploader/internal/errors"
)

const appDirName = "op_loader"

// Env holds the environment overrides. Unset variables stay empty.
type Env struct {
	ConfigPath    string `env:"OP_LOADER_CONFIG"`
	CacheDir      string `env:"OP_LOADER_CACHE_DIR"`
	TemplatesDir  string `env:"OP_LOADER_TEMPLATES_DIR"`
	CacheTTL      string `env:"OP_LOADER_CACHE_TTL"`
	LockWait      string `env:"OP_LOADER_LOCK_WAIT"`
	LogLevel      string `env:"OP_LOADER_LOG_LEVEL"`
	OpBin         string `env:"OP_LOADER_OP_BIN"`
	XDGConfigHome string `env:"XDG_CONFIG_HOME"`
	XDGCacheHome  string `env:"XDG_CACHE_HOME"`
}

// LoadEnv decodes the overrides from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, errors.ConfigError("Reading environment overrides", "Invalid OP_LOADER_* environment variable", err)
	}
	return env, nil
}

// Paths are the on-disk locations used by one invocation.
type Paths struct {
	Config    string
	CacheDir  string
	Templates string
	TokenFile string
}

// ResolvePaths applies the OP_LOADER_* overrides, then XDG, then ~/.config
// and ~/.cache.
func ResolvePaths(env Env) (Paths, error) {
	var p Paths

	configHome := env.XDGConfigHome
	cacheHome := env.XDGCacheHome
	if configHome == "" || cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil && (env.ConfigPath == "" || env.CacheDir == "") {
			return Paths{}, errors.ConfigError("Resolving paths", "HOME environment variable not set", err)
		}
		if configHome == "" {
			configHome = filepath.Join(home, ".config")
		}
		if cacheHome == "" {
			cacheHome = filepath.Join(home, ".cache")
		}
	}

	p.Config = env.ConfigPath
	if p.Config == "" {
		p.Config = filepath.Join(configHome, appDirName, "config.toml")
	}

	p.CacheDir = env.CacheDir
	if p.CacheDir == "" {
		p.CacheDir = filepath.Join(cacheHome, appDirName)
	}

	p.Templates = env.TemplatesDir
	if p.Templates == "" {
		p.Templates = filepath.Join(filepath.Dir(p.Config), "templates")
	}

	p.TokenFile = filepath.Join(filepath.Dir(p.Config), "token")
	return p, nil
}
