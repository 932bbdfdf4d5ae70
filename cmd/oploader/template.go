package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/brizzbuzz/oploader/internal/templates"
)

type templateCommand struct {
	fs      *flag.FlagSet
	common  common
	resolve resolveFlags
	action  string
	args    []string
}

func newTemplateCommand() *templateCommand {
	tc := &templateCommand{
		fs: flag.NewFlagSet("template", flag.ExitOnError),
	}

	tc.common.register(tc.fs)
	tc.resolve.register(tc.fs)

	tc.fs.Usage = func() {
		fmt.Fprintf(tc.fs.Output(), "Usage: oploader template <command> [options] [PATH...]\n\n")
		fmt.Fprintf(tc.fs.Output(), "Manage files containing {{ NAME }} placeholders\n\n")
		fmt.Fprintf(tc.fs.Output(), "Commands:\n")
		fmt.Fprintf(tc.fs.Output(), "  add PATH...      Start managing files (the current content becomes the template)\n")
		fmt.Fprintf(tc.fs.Output(), "  remove PATH...   Stop managing files\n")
		fmt.Fprintf(tc.fs.Output(), "  list             List managed files\n")
		fmt.Fprintf(tc.fs.Output(), "  render [PATH...] Write resolved values into managed files (default all)\n\n")
		fmt.Fprintf(tc.fs.Output(), "Options:\n")
		tc.fs.PrintDefaults()
	}

	return tc
}

func (t *templateCommand) Name() string { return t.fs.Name() }

func (t *templateCommand) Init(args []string) error {
	action, rest, err := splitAction(t.fs, args)
	if err != nil {
		return err
	}
	if action == "" {
		t.fs.Usage()
		return fmt.Errorf("template subcommand required")
	}
	t.action, t.args = action, rest
	return nil
}

func (t *templateCommand) Run(ctx context.Context) error {
	s, err := t.common.load()
	if err != nil {
		return err
	}
	mgr := templates.NewManager(s.paths.Templates)

	switch t.action {
	case "add":
		return t.add(s, mgr)
	case "remove":
		return t.remove(s, mgr)
	case "list":
		return t.list(s)
	case "render":
		return t.render(ctx, s, mgr)
	default:
		return fmt.Errorf("unknown template action: %s", t.action)
	}
}

func (t *templateCommand) add(s *session, mgr *templates.Manager) error {
	if len(t.args) == 0 {
		return fmt.Errorf("usage: oploader template add PATH...")
	}

	for _, path := range t.args {
		rec, err := mgr.Add(path)
		if err != nil {
			return err
		}
		templates.Put(s.cfg, rec)

		fmt.Fprintf(s.out, "Managing %s (placeholders: %s)\n", rec.Original, joinOrNone(rec.Placeholders))
		if unknown := templates.Unknown(s.cfg, rec); len(unknown) > 0 {
			s.log.Warn().Str("path", rec.Original).Strs("names", unknown).Msg("placeholders have no inject_vars entry and will not render")
		}
	}
	return s.cfg.Save()
}

func (t *templateCommand) remove(s *session, mgr *templates.Manager) error {
	if len(t.args) == 0 {
		return fmt.Errorf("usage: oploader template remove PATH...")
	}

	for _, path := range t.args {
		rec, err := templates.Lookup(s.cfg, path)
		if err != nil {
			return err
		}
		if err := mgr.Remove(rec); err != nil {
			return err
		}
		delete(s.cfg.TemplatedFiles, rec.Original)
		fmt.Fprintf(s.out, "Stopped managing %s\n", rec.Original)
	}
	return s.cfg.Save()
}

func (t *templateCommand) list(s *session) error {
	records := templates.Records(s.cfg)
	if len(records) == 0 {
		fmt.Fprintln(s.out, "No managed templates (add one: oploader template add PATH)")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tTEMPLATE\tPLACEHOLDERS")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.Original, rec.Managed, joinOrNone(rec.Placeholders))
	}
	return tw.Flush()
}

func (t *templateCommand) render(ctx context.Context, s *session, mgr *templates.Manager) error {
	records, err := t.selected(s)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(s.out, "No managed templates to render")
		return nil
	}

	failures := 0
	var loaded []*templates.Template
	indexChanged := false
	for _, rec := range records {
		tmpl, err := mgr.Load(rec)
		if err != nil {
			failures++
			fmt.Fprintf(s.errw, "%v\n\n", err)
			continue
		}
		if strings.Join(tmpl.Placeholders, ",") != strings.Join(rec.Placeholders, ",") {
			templates.Put(s.cfg, tmpl.Record)
			indexChanged = true
		}
		loaded = append(loaded, tmpl)
	}

	// Only accounts owning a referenced variable are resolved.
	accountSet := make(map[string]bool)
	for _, tmpl := range loaded {
		for _, name := range tmpl.Placeholders {
			if iv, ok := s.cfg.InjectVars[name]; ok {
				accountSet[iv.AccountID] = true
			}
		}
	}
	accounts := make([]string, 0, len(accountSet))
	for a := range accountSet {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	values := map[string]string{}
	var failed []string
	if len(accounts) > 0 {
		reqs, err := s.requests(accounts, t.resolve)
		if err != nil {
			return err
		}
		results := s.resolver(ctx, reqs, t.resolve).ResolveAll(ctx, reqs)
		values, failed = s.mergeResults(results)
		if len(failed) > 0 {
			s.log.Warn().Strs("accounts", failed).Msg("templates using these accounts will not render")
		}
	}

	engine := templates.NewEngine(s.log, templates.WithFailedAccounts(s.varOwners(failed)))
	for _, res := range engine.RenderAll(loaded, values) {
		switch res.Status {
		case templates.Written:
			fmt.Fprintf(s.out, "rendered   %s\n", res.Original)
		case templates.Unchanged:
			fmt.Fprintf(s.out, "unchanged  %s\n", res.Original)
		default:
			failures++
			fmt.Fprintf(s.out, "failed     %s\n", res.Original)
			fmt.Fprintf(s.errw, "%v\n\n", res.Err)
		}
	}

	if indexChanged {
		if err := s.cfg.Save(); err != nil {
			s.log.Warn().Err(err).Msg("failed to update template index")
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d templates failed to render", failures, len(records))
	}
	return nil
}

func (t *templateCommand) selected(s *session) ([]templates.Record, error) {
	if len(t.args) == 0 {
		return templates.Records(s.cfg), nil
	}
	records := make([]templates.Record, 0, len(t.args))
	for _, path := range t.args {
		rec, err := templates.Lookup(s.cfg, path)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// varOwners maps each variable of the given accounts to its account.
func (s *session) varOwners(accounts []string) map[string]string {
	owners := make(map[string]string)
	for _, acct := range accounts {
		for name := range s.cfg.VarsForAccount(acct) {
			owners[name] = acct
		}
	}
	return owners
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
