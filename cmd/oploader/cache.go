package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brizzbuzz/oploader/internal/cache"
	"github.com/brizzbuzz/oploader/internal/keystore"
)

type cacheCommand struct {
	fs       *flag.FlagSet
	common   common
	account  string
	resetKey bool
	action   string
}

func newCacheCommand() *cacheCommand {
	cc := &cacheCommand{
		fs: flag.NewFlagSet("cache", flag.ExitOnError),
	}

	cc.common.register(cc.fs)
	cc.fs.StringVar(&cc.account, "account", "", "Limit clear to one account")
	cc.fs.BoolVar(&cc.resetKey, "reset-key", false, "With clear: also delete the cache encryption key")

	cc.fs.Usage = func() {
		fmt.Fprintf(cc.fs.Output(), "Usage: oploader cache <command> [options]\n\n")
		fmt.Fprintf(cc.fs.Output(), "Inspect or clear the encrypted secret cache\n\n")
		fmt.Fprintf(cc.fs.Output(), "Commands:\n")
		fmt.Fprintf(cc.fs.Output(), "  clear   Remove cached entries\n")
		fmt.Fprintf(cc.fs.Output(), "  status  List cached entries and whether they are fresh\n")
		fmt.Fprintf(cc.fs.Output(), "  path    Print the cache directory\n\n")
		fmt.Fprintf(cc.fs.Output(), "Options:\n")
		cc.fs.PrintDefaults()
	}

	return cc
}

func (c *cacheCommand) Name() string { return c.fs.Name() }

func (c *cacheCommand) Init(args []string) error {
	action, _, err := splitAction(c.fs, args)
	if err != nil {
		return err
	}
	if action == "" {
		c.fs.Usage()
		return fmt.Errorf("cache subcommand required")
	}
	c.action = action
	return nil
}

func (c *cacheCommand) Run(context.Context) error {
	s, err := c.common.load()
	if err != nil {
		return err
	}

	switch c.action {
	case "clear":
		return c.clear(s)
	case "status":
		return c.status(s)
	case "path":
		fmt.Fprintln(s.out, s.paths.CacheDir)
		return nil
	default:
		return fmt.Errorf("unknown cache action: %s", c.action)
	}
}

func (c *cacheCommand) clear(s *session) error {
	if c.resetKey && c.account != "" {
		return fmt.Errorf("-reset-key clears every account; drop -account")
	}

	// Clearing needs no key: entries are removed unread.
	store := cache.NewStore(s.paths.CacheDir, nil)
	removed, err := store.Clear(c.account)
	if err != nil {
		return err
	}

	switch {
	case c.account != "" && removed == 0:
		fmt.Fprintf(s.out, "No cache entry for %s\n", c.account)
	case c.account != "":
		fmt.Fprintf(s.out, "Removed cache entry for %s\n", c.account)
	default:
		fmt.Fprintf(s.out, "Removed %d cache entries\n", removed)
	}

	if c.resetKey {
		if err := keystore.New(keystoreBackend()).DeleteKey(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Deleted cache encryption key")
	}
	return nil
}

func (c *cacheCommand) status(s *session) error {
	store := cache.NewStore(s.paths.CacheDir, nil)
	entries, corrupt, err := store.Entries()
	if err != nil {
		return err
	}

	if len(entries) == 0 && len(corrupt) == 0 {
		fmt.Fprintf(s.out, "No cache entries in %s\n", s.paths.CacheDir)
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tCREATED\tTTL\tSTATE")
	for _, e := range entries {
		state := "stale"
		if cache.IsFresh(e, now) {
			state = fmt.Sprintf("fresh (%s left)", e.ExpiresAt().Sub(now).Round(time.Second))
		}
		if e.Fingerprint != s.cfg.Fingerprint(e.AccountID) {
			state += ", references changed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.AccountID, e.CreatedAt.Local().Format(time.RFC3339), e.TTL, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, err := range corrupt {
		s.log.Warn().Err(err).Msg("corrupt cache entry")
	}
	if len(corrupt) > 0 {
		fmt.Fprintf(s.out, "%d corrupt entries (remove with: oploader cache clear)\n", len(corrupt))
	}
	return nil
}
