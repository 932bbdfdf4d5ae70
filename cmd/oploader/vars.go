package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/brizzbuzz/oploader/internal/config"
	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/validation"
)

type varsCommand struct {
	fs      *flag.FlagSet
	common  common
	name    string
	account string
	ref     string
	action  string
	args    []string
}

func newVarsCommand() *varsCommand {
	vc := &varsCommand{
		fs: flag.NewFlagSet("vars", flag.ExitOnError),
	}

	vc.common.register(vc.fs)
	vc.fs.StringVar(&vc.name, "name", "", "Environment variable name (add)")
	vc.fs.StringVar(&vc.account, "account", "", "1Password account id (add; default default_account_id)")
	vc.fs.StringVar(&vc.ref, "ref", "", "Secret reference such as op://Vault/Item/field (add)")

	vc.fs.Usage = func() {
		fmt.Fprintf(vc.fs.Output(), "Usage: oploader vars <command> [options]\n\n")
		fmt.Fprintf(vc.fs.Output(), "Map environment variables to 1Password references\n\n")
		fmt.Fprintf(vc.fs.Output(), "Commands:\n")
		fmt.Fprintf(vc.fs.Output(), "  add      Add or replace a variable: -name N -account A -ref op://...\n")
		fmt.Fprintf(vc.fs.Output(), "  remove   Remove variables: remove NAME...\n")
		fmt.Fprintf(vc.fs.Output(), "  list     List variables\n\n")
		fmt.Fprintf(vc.fs.Output(), "Options:\n")
		vc.fs.PrintDefaults()
	}

	return vc
}

func (v *varsCommand) Name() string { return v.fs.Name() }

func (v *varsCommand) Init(args []string) error {
	action, rest, err := splitAction(v.fs, args)
	if err != nil {
		return err
	}
	if action == "" {
		v.fs.Usage()
		return fmt.Errorf("vars subcommand required")
	}
	v.action, v.args = action, rest
	return nil
}

func (v *varsCommand) Run(context.Context) error {
	s, err := v.common.load()
	if err != nil {
		return err
	}

	switch v.action {
	case "add":
		return v.add(s)
	case "remove":
		return v.remove(s)
	case "list":
		return v.list(s)
	default:
		return fmt.Errorf("unknown vars action: %s", v.action)
	}
}

func (v *varsCommand) add(s *session) error {
	account := v.account
	if account == "" {
		account = s.cfg.DefaultAccountID
	}
	if err := validation.NewValidator().ValidateInjectVar(v.name, account, v.ref); err != nil {
		return err
	}

	if s.cfg.InjectVars == nil {
		s.cfg.InjectVars = make(map[string]config.InjectVar)
	}
	_, replaced := s.cfg.InjectVars[v.name]
	s.cfg.InjectVars[v.name] = config.InjectVar{AccountID: account, Reference: v.ref}
	if err := s.cfg.Save(); err != nil {
		return err
	}

	verb := "Added"
	if replaced {
		verb = "Updated"
	}
	fmt.Fprintf(s.out, "%s %s (%s)\n", verb, v.name, account)
	return nil
}

func (v *varsCommand) remove(s *session) error {
	if len(v.args) == 0 {
		return fmt.Errorf("usage: oploader vars remove NAME...")
	}
	for _, name := range v.args {
		if _, ok := s.cfg.InjectVars[name]; !ok {
			return errors.ConfigValidationError("inject_vars", name, "Variable is not managed",
				[]string{"List managed variables: oploader vars list"})
		}
	}
	for _, name := range v.args {
		delete(s.cfg.InjectVars, name)
	}
	if err := s.cfg.Save(); err != nil {
		return err
	}
	for _, name := range v.args {
		fmt.Fprintf(s.out, "Removed %s\n", name)
	}
	return nil
}

func (v *varsCommand) list(s *session) error {
	names := make([]string, 0, len(s.cfg.InjectVars))
	for name := range s.cfg.InjectVars {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(s.out, "No variables configured (add one: oploader vars add -name NAME -ref op://...)")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACCOUNT\tREFERENCE")
	for _, name := range names {
		iv := s.cfg.InjectVars[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, iv.AccountID, iv.Reference)
	}
	return tw.Flush()
}
