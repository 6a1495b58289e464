package auth

import (
	"context"
	"fmt"
	"strings"
)

// IdentityTokenSource fetches a bearer token from the platform's managed
// identity facility. Implementations are injected; see AzureIMDSTokenSource
// for the default.
type IdentityTokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// SecretClient looks up a named secret in an external secret store.
type SecretClient interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// CredentialSource is one strategy in the resolver's fallback chain. A
// resolution failure is expected control flow: the resolver logs it and moves
// to the next source.
type CredentialSource interface {
	Name() string
	Resolve(ctx context.Context) (string, error)
}

type managedIdentitySource struct {
	identity IdentityTokenSource
}

// NewManagedIdentitySource wraps a platform identity token source as a chain
// entry.
func NewManagedIdentitySource(identity IdentityTokenSource) CredentialSource {
	return &managedIdentitySource{identity: identity}
}

func (s *managedIdentitySource) Name() string { return "managed_identity" }

func (s *managedIdentitySource) Resolve(ctx context.Context) (string, error) {
	token, err := s.identity.FetchToken(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch managed identity token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("managed identity returned an empty token")
	}
	return token, nil
}

type secretStoreSource struct {
	client     SecretClient
	secretName string
}

// NewSecretStoreSource resolves the credential by reading a named secret.
func NewSecretStoreSource(client SecretClient, secretName string) CredentialSource {
	return &secretStoreSource{client: client, secretName: secretName}
}

func (s *secretStoreSource) Name() string { return "secret_store" }

func (s *secretStoreSource) Resolve(ctx context.Context) (string, error) {
	value, err := s.client.GetSecret(ctx, s.secretName)
	if err != nil {
		return "", fmt.Errorf("read secret %q: %w", s.secretName, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secret %q is empty", s.secretName)
	}
	return strings.TrimSpace(value), nil
}

type staticTokenSource struct {
	token string
}

// NewStaticTokenSource returns the configured token verbatim. An empty token
// resolves as a failure so the chain can report exhaustion.
func NewStaticTokenSource(token string) CredentialSource {
	return &staticTokenSource{token: strings.TrimSpace(token)}
}

func (s *staticTokenSource) Name() string { return "static_token" }

func (s *staticTokenSource) Resolve(context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("no static token configured")
	}
	return s.token, nil
}

// ChainConfig assembles the default fallback chain from configuration.
type ChainConfig struct {
	ManagedIdentity bool
	Identity        IdentityTokenSource
	SecretStoreAddr string
	SecretName      string
	Secrets         SecretClient
	StaticToken     string
}

// Chain builds the ordered source list: managed identity first (when enabled
// and a token source is available), then the secret store (when both an
// address and a secret name are configured), then the static token.
func Chain(cfg ChainConfig) []CredentialSource {
	var sources []CredentialSource
	if cfg.ManagedIdentity && cfg.Identity != nil {
		sources = append(sources, NewManagedIdentitySource(cfg.Identity))
	}
	if cfg.SecretStoreAddr != "" && cfg.SecretName != "" {
		client := cfg.Secrets
		if client == nil {
			client = NewKeyVaultClient(cfg.SecretStoreAddr, cfg.Identity)
		}
		sources = append(sources, NewSecretStoreSource(client, cfg.SecretName))
	}
	if strings.TrimSpace(cfg.StaticToken) != "" {
		sources = append(sources, NewStaticTokenSource(cfg.StaticToken))
	}
	return sources
}
