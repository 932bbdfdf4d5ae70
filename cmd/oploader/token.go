package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/fsutil"
)

const tokenFileMode = 0600

type tokenCommand struct {
	fs     *flag.FlagSet
	common common
	path   string
	action string
	stdin  io.Reader
}

func newTokenCommand() *tokenCommand {
	tc := &tokenCommand{
		fs:    flag.NewFlagSet("token", flag.ExitOnError),
		stdin: os.Stdin,
	}

	tc.common.register(tc.fs)
	tc.fs.StringVar(&tc.path, "path", "", "Path to store the token file (default <config dir>/token)")

	tc.fs.Usage = func() {
		fmt.Fprintf(tc.fs.Output(), "Usage: oploader token <command> [options]\n\n")
		fmt.Fprintf(tc.fs.Output(), "Manage 1Password service account token\n\n")
		fmt.Fprintf(tc.fs.Output(), "Commands:\n")
		fmt.Fprintf(tc.fs.Output(), "  set     Set the service account token\n")
		fmt.Fprintf(tc.fs.Output(), "  path    Print where the token is read from\n\n")
		fmt.Fprintf(tc.fs.Output(), "Options:\n")
		tc.fs.PrintDefaults()
	}

	return tc
}

func (t *tokenCommand) Name() string { return t.fs.Name() }

func (t *tokenCommand) Init(args []string) error {
	action, _, err := splitAction(t.fs, args)
	if err != nil {
		return err
	}
	if action == "" {
		t.fs.Usage()
		return fmt.Errorf("token subcommand required")
	}

	t.action = action
	return nil
}

func (t *tokenCommand) Run(context.Context) error {
	s, err := t.common.load()
	if err != nil {
		return err
	}
	path := t.path
	if path == "" {
		path = s.paths.TokenFile
	}

	switch t.action {
	case "set":
		return t.setToken(s, path)
	case "path":
		fmt.Fprintln(s.out, path)
		return nil
	default:
		return fmt.Errorf("unknown token action: %s", t.action)
	}
}

func (t *tokenCommand) setToken(s *session, path string) error {
	fmt.Fprintf(s.errw, "Please paste your 1Password service account token (press Enter when done):\n")

	reader := bufio.NewReader(t.stdin)
	token, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("error reading input: %w", err)
	}

	tokenStr := strings.TrimSpace(token)
	if tokenStr == "" {
		return errors.TokenError("Token cannot be empty", path, nil)
	}

	if err := fsutil.WriteFileAtomic(path, []byte(tokenStr), tokenFileMode); err != nil {
		return errors.FileOperationError("Storing token", path, "Failed to write token file", err)
	}

	fmt.Fprintf(s.errw, "Token successfully stored at %s\n", path)
	return nil
}
