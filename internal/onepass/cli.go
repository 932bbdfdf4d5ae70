package onepass

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/brizzbuzz/oploader/internal/errors"
)

// Runner executes a command with stdin and returns its stdout.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// CLIProvider resolves references with one `op inject` call per account, so
// the user sees at most one authentication prompt per refresh.
type CLIProvider struct {
	bin string
	run Runner
}

type CLIOption func(*CLIProvider)

// WithBinary overrides the op executable.
func WithBinary(bin string) CLIOption {
	return func(p *CLIProvider) { p.bin = bin }
}

func WithRunner(run Runner) CLIOption {
	return func(p *CLIProvider) { p.run = run }
}

func NewCLIProvider(opts ...CLIOption) *CLIProvider {
	p := &CLIProvider{bin: "op", run: execRunner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CLIProvider) Resolve(ctx context.Context, accountID string, refs map[string]string) (map[string]string, error) {
	if len(refs) == 0 {
		return map[string]string{}, nil
	}

	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	// Each value is framed by a random marker line so multi-line secrets
	// survive the round trip.
	marker := "--op-loader-" + uuid.NewString() + " "
	var tmpl strings.Builder
	for _, name := range names {
		fmt.Fprintf(&tmpl, "%s%s\n{{ %s }}\n", marker, name, refs[name])
	}
	tmpl.WriteString(marker + "END\n")

	args := []string{"inject"}
	if accountID != "" {
		args = append(args, "--account", accountID)
	}

	out, err := p.run(ctx, []byte(tmpl.String()), p.bin, args...)
	if err != nil {
		return nil, err
	}
	return parseInjected(string(out), marker, names)
}

func parseInjected(out, marker string, names []string) (map[string]string, error) {
	blocks := strings.Split(out, marker)
	if len(blocks) != len(names)+2 || blocks[0] != "" {
		return nil, fmt.Errorf("unexpected op inject output: got %d blocks for %d references", len(blocks)-1, len(names))
	}

	values := make(map[string]string, len(names))
	for i, name := range names {
		got, value, _ := strings.Cut(blocks[i+1], "\n")
		if got != name {
			return nil, fmt.Errorf("unexpected op inject output: expected %s, found %q", name, got)
		}
		values[name] = strings.TrimSuffix(value, "\n")
	}
	return values, nil
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, errors.WrapWithSuggestions(err, "Locating the 1Password CLI", "op cli", []string{
			"Install the 1Password CLI: https://developer.1password.com/docs/cli/get-started",
			"Point at an existing binary: export OP_LOADER_OP_BIN=/path/to/op",
			"Or use a service account instead: -provider sdk",
		})
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return nil, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}
