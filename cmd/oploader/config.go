package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/brizzbuzz/oploader/internal/config"
	"github.com/brizzbuzz/oploader/internal/validation"
)

type configCommand struct {
	fs     *flag.FlagSet
	common common
	action string
	args   []string
}

func newConfigCommand() *configCommand {
	cc := &configCommand{
		fs: flag.NewFlagSet("config", flag.ExitOnError),
	}

	cc.common.register(cc.fs)

	cc.fs.Usage = func() {
		fmt.Fprintf(cc.fs.Output(), "Usage: oploader config <command> [options]\n\n")
		fmt.Fprintf(cc.fs.Output(), "Commands:\n")
		fmt.Fprintf(cc.fs.Output(), "  get KEY         Print a setting\n")
		fmt.Fprintf(cc.fs.Output(), "  set KEY VALUE   Change a setting\n")
		fmt.Fprintf(cc.fs.Output(), "  path            Print the config file location\n")
		fmt.Fprintf(cc.fs.Output(), "  validate        Check the config file\n\n")
		fmt.Fprintf(cc.fs.Output(), "Keys: %s\n\n", strings.Join(config.Keys, ", "))
		fmt.Fprintf(cc.fs.Output(), "Options:\n")
		cc.fs.PrintDefaults()
	}

	return cc
}

func (c *configCommand) Name() string { return c.fs.Name() }

func (c *configCommand) Init(args []string) error {
	action, rest, err := splitAction(c.fs, args)
	if err != nil {
		return err
	}
	if action == "" {
		c.fs.Usage()
		return fmt.Errorf("config subcommand required")
	}
	c.action, c.args = action, rest
	return nil
}

func (c *configCommand) Run(context.Context) error {
	s, err := c.common.load()
	if err != nil {
		return err
	}

	switch c.action {
	case "get":
		if len(c.args) != 1 {
			return fmt.Errorf("usage: oploader config get KEY")
		}
		value, err := s.cfg.Get(c.args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, value)
		return nil
	case "set":
		if len(c.args) != 2 {
			return fmt.Errorf("usage: oploader config set KEY VALUE")
		}
		if err := s.cfg.Set(c.args[0], c.args[1]); err != nil {
			return err
		}
		return s.cfg.Save()
	case "path":
		fmt.Fprintln(s.out, s.cfg.Path())
		return nil
	case "validate":
		warnings, err := validation.NewValidator().ValidateConfig(s.cfg)
		for _, w := range warnings {
			fmt.Fprintf(s.errw, "warning: %s\n", w)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s is valid\n", s.cfg.Path())
		return nil
	default:
		return fmt.Errorf("unknown config action: %s", c.action)
	}
}
