// Package secrets turns configured secret references into name/value
// mappings, one account at a time, going through the encrypted cache when a
// TTL is set.
package secrets

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/brizzbuzz/oploader/internal/cache"
	"github.com/brizzbuzz/oploader/internal/cachelock"
	"github.com/brizzbuzz/oploader/internal/errors"
)

// Provider resolves every reference for one account. It is all-or-nothing:
// either each name in refs gets a value or an error is returned.
type Provider interface {
	Resolve(ctx context.Context, accountID string, refs map[string]string) (map[string]string, error)
}

// Request describes one account's resolution. A zero TTL bypasses the cache.
type Request struct {
	AccountID   string
	Refs        map[string]string
	TTL         time.Duration
	LockWait    time.Duration
	Fingerprint string
}

// Result is one account's outcome in a multi-account resolution.
type Result struct {
	AccountID string
	Values    map[string]string
	FromCache bool
	Err       error
}

type Resolver struct {
	provider Provider
	store    *cache.Store
	lock     *cachelock.Lock
	log      zerolog.Logger
	now      func() time.Time
	parallel int

	group singleflight.Group
}

type Option func(*Resolver)

// WithCache enables the cache path. Without it every request goes straight
// to the provider.
func WithCache(store *cache.Store, lock *cachelock.Lock) Option {
	return func(r *Resolver) {
		r.store = store
		r.lock = lock
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithClock overrides time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithParallelism bounds how many accounts ResolveAll works on at once.
func WithParallelism(n int) Option {
	return func(r *Resolver) { r.parallel = n }
}

func NewResolver(provider Provider, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		log:      zerolog.Nop(),
		now:      time.Now,
		parallel: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CacheEnabled reports whether a cache was configured.
func (r *Resolver) CacheEnabled() bool {
	return r.store != nil && r.lock != nil
}

// Resolve returns the mapping for one account. Concurrent calls for the same
// account within this process share a single resolution.
func (r *Resolver) Resolve(ctx context.Context, req Request) (map[string]string, error) {
	res := r.resolveShared(ctx, req)
	return res.Values, res.Err
}

// ResolveAll resolves each request independently. A failing account never
// affects the others; results are sorted by account.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = r.resolveShared(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].AccountID < results[j].AccountID })
	return results
}

func (r *Resolver) resolveShared(ctx context.Context, req Request) Result {
	// Bypass and cached requests for one account never share a result, nor
	// do cached requests with different TTLs.
	mode := "bypass"
	if !r.bypass(req) {
		mode = req.TTL.String()
	}
	key := req.AccountID + "\x00" + req.Fingerprint + "\x00" + mode
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		values, fromCache, err := r.resolve(ctx, req)
		return Result{Values: values, FromCache: fromCache}, err
	})
	res := v.(Result)
	res.AccountID = req.AccountID
	res.Err = err
	// Callers may mutate their mapping; never hand out the shared one.
	res.Values = clone(res.Values)
	return res
}

func (r *Resolver) bypass(req Request) bool {
	return req.TTL <= 0 || !r.CacheEnabled()
}

func (r *Resolver) resolve(ctx context.Context, req Request) (map[string]string, bool, error) {
	log := r.log.With().Str("account", req.AccountID).Dur("ttl", req.TTL).Logger()

	if r.bypass(req) {
		log.Debug().Msg("cache bypassed")
		values, err := r.fetch(ctx, req)
		return values, false, err
	}

	values, err := r.cached(req, log)
	if err != nil {
		log.Warn().Err(err).Msg("key store unusable, bypassing cache")
		values, err := r.fetch(ctx, req)
		return values, false, err
	}
	if values != nil {
		log.Debug().Msg("cache hit")
		return values, true, nil
	}

	handle, err := r.lock.Acquire(ctx, req.LockWait)
	if stderrors.Is(err, cachelock.ErrUnsupported) {
		log.Warn().Err(err).Msg("cache lock unavailable, bypassing cache")
		values, err := r.fetch(ctx, req)
		return values, false, err
	}
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			log.Warn().Err(err).Str("lock_id", handle.ID).Msg("failed to release cache lock")
		}
	}()
	log = log.With().Str("lock_id", handle.ID).Logger()

	// Another process may have refreshed while we waited.
	values, err = r.cached(req, log)
	if err != nil {
		log.Warn().Err(err).Msg("key store unusable, bypassing cache")
		values, err := r.fetch(ctx, req)
		return values, false, err
	}
	if values != nil {
		log.Debug().Msg("cache refreshed by another process")
		return values, true, nil
	}

	values, err = r.fetch(ctx, req)
	if err != nil {
		return nil, false, err
	}

	if err := r.store.Write(req.AccountID, values, req.TTL, req.Fingerprint); err != nil {
		log.Warn().Err(err).Msg("failed to write cache entry")
	} else {
		log.Debug().Str("path", r.store.Path(req.AccountID)).Msg("cache entry written")
	}
	return values, false, nil
}

// cached returns a fresh, matching mapping or nil. Corrupt and stale entries
// are misses; only an unusable key store is an error.
func (r *Resolver) cached(req Request, log zerolog.Logger) (map[string]string, error) {
	entry, err := r.store.Read(req.AccountID)
	if err != nil {
		log.Warn().Err(err).Str("path", r.store.Path(req.AccountID)).Msg("ignoring corrupt cache entry")
		return nil, nil
	}
	if entry == nil {
		log.Debug().Msg("cache miss")
		return nil, nil
	}
	if !cache.IsFresh(entry, r.now()) {
		log.Debug().Time("expired", entry.ExpiresAt()).Msg("cache entry stale")
		return nil, nil
	}
	if entry.Fingerprint != req.Fingerprint {
		log.Debug().Msg("cache entry was written for different references")
		return nil, nil
	}

	values, err := r.store.Open(entry)
	if stderrors.Is(err, errors.ErrCorruptCache) {
		log.Warn().Err(err).Str("path", entry.Path()).Msg("ignoring corrupt cache entry")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (r *Resolver) fetch(ctx context.Context, req Request) (map[string]string, error) {
	values, err := r.provider.Resolve(ctx, req.AccountID, req.Refs)
	if err != nil {
		if stderrors.Is(err, errors.ErrProvider) {
			return nil, err
		}
		return nil, errors.ProviderError("Resolving secrets", req.AccountID, err)
	}

	var missing []string
	for name := range req.Refs {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.ProviderError("Resolving secrets", req.AccountID,
			stderrors.New("provider returned no value for "+strings.Join(missing, ", ")))
	}

	out := make(map[string]string, len(req.Refs))
	for name := range req.Refs {
		out[name] = values[name]
	}
	return out, nil
}

func clone(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
