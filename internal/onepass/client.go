// Package onepass resolves 1Password secret references, either through a
// service account with the Go SDK or through the signed-in op CLI.
package onepass

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/1password/onepassword-sdk-go"
)

const (
	TokenEnv = "OP_SERVICE_ACCOUNT_TOKEN"

	integrationName    = "op-loader"
	integrationVersion = "v1.0.0"
)

// resolver is the part of the SDK client we use.
type resolver interface {
	Resolve(ctx context.Context, secretReference string) (string, error)
}

var _ resolver = (onepassword.SecretsAPI)(nil)

// SDKProvider resolves references with a service account token. The token
// is bound to one account, so the account id only labels errors.
type SDKProvider struct {
	secrets resolver
}

func NewSDKProvider(ctx context.Context, tokenFile string) (*SDKProvider, error) {
	token, err := GetToken(tokenFile)
	if err != nil {
		return nil, err
	}

	client, err := onepassword.NewClient(ctx,
		onepassword.WithServiceAccountToken(token),
		onepassword.WithIntegrationInfo(integrationName, integrationVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("create 1Password client: %w", err)
	}

	return newSDKProvider(client), nil
}

func newSDKProvider(client *onepassword.Client) *SDKProvider {
	return &SDKProvider{secrets: client.Secrets()}
}

// Resolve looks up every reference. The first failure aborts the account.
func (p *SDKProvider) Resolve(ctx context.Context, accountID string, refs map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(refs))
	for _, name := range names {
		value, err := p.secrets.Resolve(ctx, refs[name])
		if err != nil {
			return nil, fmt.Errorf("resolve %s (%s): %w", name, refs[name], err)
		}
		out[name] = value
	}
	return out, nil
}

// GetToken prefers OP_SERVICE_ACCOUNT_TOKEN, then the token file.
func GetToken(tokenFile string) (string, error) {
	if token := os.Getenv(TokenEnv); token != "" {
		return strings.TrimSpace(token), nil
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", tokenFile)
		}
		return token, nil
	}

	return "", fmt.Errorf("no token provided: set %s or run 'oploader token set'", TokenEnv)
}

// HasToken reports whether GetToken would find a token without reading it.
func HasToken(tokenFile string) bool {
	if os.Getenv(TokenEnv) != "" {
		return true
	}
	if tokenFile == "" {
		return false
	}
	info, err := os.Stat(tokenFile)
	return err == nil && info.Size() > 0
}
