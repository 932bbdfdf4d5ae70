package onepass

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

var injectPattern = regexp.MustCompile(`\{\{ (op://[^ ]+) \}\}`)

// fakeOp behaves like `op inject` against a fixed set of secrets.
func fakeOp(secrets map[string]string, gotArgs *[]string) Runner {
	return func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		*gotArgs = append([]string{name}, args...)
		var missing error
		out := injectPattern.ReplaceAllStringFunc(string(stdin), func(m string) string {
			ref := injectPattern.FindStringSubmatch(m)[1]
			v, ok := secrets[ref]
			if !ok {
				missing = fmt.Errorf("[ERROR] could not resolve item UUID for item %s", ref)
			}
			return v
		})
		if missing != nil {
			return nil, missing
		}
		return []byte(out), nil
	}
}

func TestCLIProviderResolve(t *testing.T) {
	var args []string
	p := NewCLIProvider(WithBinary("/opt/op"), WithRunner(fakeOp(map[string]string{
		"op://Dev/GitHub/token": "ghp_123",
		"op://Dev/ssh/key":      "-----BEGIN KEY-----\nabc\n-----END KEY-----\n",
		"op://Dev/empty/field":  "",
	}, &args)))

	got, err := p.Resolve(context.Background(), "my.1password.com", map[string]string{
		"GITHUB_TOKEN": "op://Dev/GitHub/token",
		"SSH_KEY":      "op://Dev/ssh/key",
		"EMPTY":        "op://Dev/empty/field",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := map[string]string{
		"GITHUB_TOKEN": "ghp_123",
		"SSH_KEY":      "-----BEGIN KEY-----\nabc\n-----END KEY-----\n",
		"EMPTY":        "",
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("%s: expected %q, got %q", name, value, got[name])
		}
	}
	if strings.Join(args, " ") != "/opt/op inject --account my.1password.com" {
		t.Errorf("Unexpected invocation: %v", args)
	}
}

func TestCLIProviderNoAccountFlag(t *testing.T) {
	var args []string
	p := NewCLIProvider(WithRunner(fakeOp(map[string]string{"op://a/b/c": "v"}, &args)))

	if _, err := p.Resolve(context.Background(), "", map[string]string{"A": "op://a/b/c"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.Join(args, " ") != "op inject" {
		t.Errorf("Unexpected invocation: %v", args)
	}
}

func TestCLIProviderFailure(t *testing.T) {
	var args []string
	p := NewCLIProvider(WithRunner(fakeOp(map[string]string{}, &args)))

	got, err := p.Resolve(context.Background(), "acct", map[string]string{"A": "op://Dev/missing/field"})
	if err == nil {
		t.Fatal("Expected error when op fails")
	}
	if got != nil {
		t.Errorf("Expected no partial mapping, got %v", got)
	}
}

func TestCLIProviderEmptyRefsSkipsOp(t *testing.T) {
	called := false
	p := NewCLIProvider(WithRunner(func(context.Context, []byte, string, ...string) ([]byte, error) {
		called = true
		return nil, nil
	}))

	got, err := p.Resolve(context.Background(), "acct", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if called || len(got) != 0 {
		t.Errorf("Expected no op call and an empty mapping")
	}
}

func TestParseInjectedRejectsMangledOutput(t *testing.T) {
	marker := "--m "
	tests := []struct {
		name string
		out  string
	}{
		{"missing end", "--m A\nx\n"},
		{"wrong name", "--m B\nx\n--m END\n"},
		{"leading noise", "noise--m A\nx\n--m END\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseInjected(tt.out, marker, []string{"A"}); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestCLIProviderMissingBinary(t *testing.T) {
	p := NewCLIProvider(WithBinary("/nonexistent/oploader-test-op"))

	_, err := p.Resolve(context.Background(), "", map[string]string{"A": "op://a/b/c"})
	if err == nil {
		t.Fatal("Expected error for a missing op binary")
	}
	if !strings.Contains(err.Error(), "OP_LOADER_OP_BIN") {
		t.Errorf("Expected suggestion to set OP_LOADER_OP_BIN, got:\n%v", err)
	}
}
