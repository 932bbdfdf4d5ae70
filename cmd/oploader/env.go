package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/brizzbuzz/oploader/internal/envexport"
)

type envCommand struct {
	fs       *flag.FlagSet
	common   common
	resolve  resolveFlags
	accounts stringList
	format   string
	unset    bool
}

func newEnvCommand() *envCommand {
	ec := &envCommand{
		fs: flag.NewFlagSet("env", flag.ExitOnError),
	}

	ec.common.register(ec.fs)
	ec.resolve.register(ec.fs)
	ec.fs.Var(&ec.accounts, "account", "Account to load (repeatable; default every account in inject_vars)")
	ec.fs.StringVar(&ec.format, "format", "posix", "Output format: posix, fish or dotenv")
	ec.fs.BoolVar(&ec.unset, "unset", false, "Print unset statements for every managed variable instead")

	ec.fs.Usage = func() {
		fmt.Fprintf(ec.fs.Output(), "Usage: oploader env [options]\n\n")
		fmt.Fprintf(ec.fs.Output(), "Print shell statements exporting the managed variables.\n")
		fmt.Fprintf(ec.fs.Output(), "Typical use: eval \"$(oploader env)\"\n\n")
		fmt.Fprintf(ec.fs.Output(), "Options:\n")
		ec.fs.PrintDefaults()
	}

	return ec
}

func (e *envCommand) Name() string { return e.fs.Name() }

func (e *envCommand) Init(args []string) error {
	return e.fs.Parse(args)
}

func (e *envCommand) Run(ctx context.Context) error {
	format, err := envexport.ParseFormat(e.format)
	if err != nil {
		return err
	}

	s, err := e.common.load()
	if err != nil {
		return err
	}

	// Unset needs only the names: no key store, cache, lock or provider.
	if e.unset {
		return envexport.Unset(s.out, format, s.cfg.ManagedNames(e.accounts...))
	}

	accounts := []string(e.accounts)
	if len(accounts) == 0 {
		accounts = s.cfg.AccountIDs()
	}
	if len(accounts) == 0 {
		s.log.Warn().Str("config", s.cfg.Path()).Msg("no inject_vars configured, nothing to export")
		return nil
	}

	reqs, err := s.requests(accounts, e.resolve)
	if err != nil {
		return err
	}

	results := s.resolver(ctx, reqs, e.resolve).ResolveAll(ctx, reqs)
	values, failed := s.mergeResults(results)

	if err := envexport.Export(s.out, format, values); err != nil {
		return err
	}
	if len(failed) > 0 {
		return accountsFailedError(failed, len(accounts))
	}
	return nil
}
