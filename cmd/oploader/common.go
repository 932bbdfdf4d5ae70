package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/brizzbuzz/oploader/internal/cache"
	"github.com/brizzbuzz/oploader/internal/cachelock"
	"github.com/brizzbuzz/oploader/internal/config"
	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/keystore"
	"github.com/brizzbuzz/oploader/internal/logging"
	"github.com/brizzbuzz/oploader/internal/onepass"
	"github.com/brizzbuzz/oploader/internal/secrets"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// splitAction pulls the sub-action off the front of args so that flags may
// follow it: `cache clear -account X`.
func splitAction(fs *flag.FlagSet, args []string) (string, []string, error) {
	action := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	rest := fs.Args()
	if action == "" && len(rest) > 0 {
		action, rest = rest[0], rest[1:]
	}
	return action, rest, nil
}

// common holds the flags every command accepts.
type common struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to the config file (default $OP_LOADER_CONFIG or ~/.config/op_loader/config.toml)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (default $OP_LOADER_LOG_LEVEL or warn)")
	c.stdout = os.Stdout
	c.stderr = os.Stderr
}

// session is everything one invocation loads before doing work.
type session struct {
	env   config.Env
	paths config.Paths
	cfg   *config.Config
	log   zerolog.Logger
	out   io.Writer
	errw  io.Writer
}

func (c *common) load() (*session, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(env)
	if err != nil {
		return nil, err
	}
	if c.configPath != "" {
		paths.Config = c.configPath
	}

	level := c.logLevel
	if level == "" {
		level = env.LogLevel
	}
	pretty := false
	if f, ok := c.stderr.(*os.File); ok {
		pretty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	log := logging.NewWithWriter(c.stderr, level, pretty)

	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", paths.Config).Msg("configuration loaded")

	return &session{env: env, paths: paths, cfg: cfg, log: log, out: c.stdout, errw: c.stderr}, nil
}

// resolveFlags are shared by the commands that talk to 1Password.
type resolveFlags struct {
	ttl      string
	lockWait string
	provider string
	parallel int
}

func (r *resolveFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.ttl, "ttl", "", "Cache TTL such as 10m; 0 bypasses the cache (default $OP_LOADER_CACHE_TTL, then config)")
	fs.StringVar(&r.lockWait, "lock-wait", "", "How long to wait for another process refreshing the cache (default $OP_LOADER_LOCK_WAIT, then config, then 5s)")
	fs.StringVar(&r.provider, "provider", "auto", "How to reach 1Password: auto, cli or sdk")
	fs.IntVar(&r.parallel, "parallel", 4, "How many accounts to resolve at once")
}

// requests builds one resolution request per account with its effective
// TTL and lock wait.
func (s *session) requests(accounts []string, flags resolveFlags) ([]secrets.Request, error) {
	ttlOverride := flags.ttl
	if ttlOverride == "" {
		ttlOverride = s.env.CacheTTL
	}
	waitOverride := flags.lockWait
	if waitOverride == "" {
		waitOverride = s.env.LockWait
	}

	wait, err := s.cfg.LockWait(waitOverride)
	if err != nil {
		return nil, err
	}

	reqs := make([]secrets.Request, 0, len(accounts))
	for _, account := range accounts {
		refs := s.cfg.VarsForAccount(account)
		if len(refs) == 0 {
			return nil, errors.ConfigValidationError(
				"account",
				account,
				"No inject_vars are configured for this account",
				[]string{
					"List configured variables: oploader vars list",
					fmt.Sprintf("Add one: oploader vars add -name NAME -account %s -ref op://Vault/Item/field", account),
				},
			)
		}
		ttl, err := s.cfg.CacheTTL(account, ttlOverride)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, secrets.Request{
			AccountID:   account,
			Refs:        refs,
			TTL:         ttl,
			LockWait:    wait,
			Fingerprint: s.cfg.Fingerprint(account),
		})
	}
	return reqs, nil
}

// providerFactory is swapped out in tests.
var providerFactory = newProvider

func newProvider(ctx context.Context, name, tokenFile, opBin string) (secrets.Provider, error) {
	var cliOpts []onepass.CLIOption
	if opBin != "" {
		cliOpts = append(cliOpts, onepass.WithBinary(opBin))
	}

	switch name {
	case "", "auto":
		if onepass.HasToken(tokenFile) {
			return newProvider(ctx, "sdk", tokenFile, opBin)
		}
		return onepass.NewCLIProvider(cliOpts...), nil
	case "cli":
		return onepass.NewCLIProvider(cliOpts...), nil
	case "sdk":
		p, err := onepass.NewSDKProvider(ctx, tokenFile)
		if err != nil {
			return nil, errors.TokenError("Cannot start the 1Password SDK client", tokenFile, err)
		}
		return p, nil
	default:
		return nil, errors.ValidationError("Selecting provider", "provider", name, "auto, cli or sdk")
	}
}

// lazyProvider defers building the real provider until a cache miss needs
// it; the SDK client is slow to start.
type lazyProvider struct {
	once  sync.Once
	build func() (secrets.Provider, error)
	p     secrets.Provider
	err   error
}

func (l *lazyProvider) Resolve(ctx context.Context, accountID string, refs map[string]string) (map[string]string, error) {
	l.once.Do(func() { l.p, l.err = l.build() })
	if l.err != nil {
		return nil, l.err
	}
	return l.p.Resolve(ctx, accountID, refs)
}

// resolver wires the provider and, when any request wants it and the
// platform allows it, the cache.
func (s *session) resolver(ctx context.Context, reqs []secrets.Request, flags resolveFlags) *secrets.Resolver {
	provider := &lazyProvider{build: func() (secrets.Provider, error) {
		return providerFactory(ctx, flags.provider, s.paths.TokenFile, s.env.OpBin)
	}}
	opts := []secrets.Option{secrets.WithLogger(s.log)}
	if flags.parallel > 0 {
		opts = append(opts, secrets.WithParallelism(flags.parallel))
	}

	wantCache := false
	for _, r := range reqs {
		if r.TTL > 0 {
			wantCache = true
		}
	}
	if !wantCache {
		return secrets.NewResolver(provider, opts...)
	}

	if !cachelock.Supported() {
		s.log.Warn().Msg("file locking is unsupported on this platform, caching disabled")
		return secrets.NewResolver(provider, opts...)
	}
	keys := keystore.New(keystoreBackend())
	if err := keys.Available(); err != nil {
		s.log.Warn().Err(err).Msg("key store unavailable, caching disabled")
		return secrets.NewResolver(provider, opts...)
	}

	store := cache.NewStore(s.paths.CacheDir, keys)
	opts = append(opts, secrets.WithCache(store, cachelock.New(s.paths.CacheDir)))
	return secrets.NewResolver(provider, opts...)
}

// keystoreBackend is swapped out in tests.
var keystoreBackend = keystore.Keyring

// mergeResults folds successful accounts into one mapping and reports the
// failures on stderr.
func (s *session) mergeResults(results []secrets.Result) (map[string]string, []string) {
	merged := make(map[string]string)
	var failed []string
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.AccountID)
			fmt.Fprintf(s.errw, "%v\n\n", res.Err)
			continue
		}
		s.log.Debug().Str("account", res.AccountID).Bool("cached", res.FromCache).Int("vars", len(res.Values)).Msg("account resolved")
		for name, value := range res.Values {
			merged[name] = value
		}
	}
	sort.Strings(failed)
	return merged, failed
}

func accountsFailedError(failed []string, total int) error {
	return fmt.Errorf("%d of %d accounts failed to resolve: %s", len(failed), total, strings.Join(failed, ", "))
}
