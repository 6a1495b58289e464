package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resource identifier of the warehouse service when requesting tokens from
// the platform identity endpoint.
const warehouseResourceID = "2ff814a6-3304-4ab8-85cb-cd0e6f879c1d"

const defaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

// AzureIMDSTokenSource fetches managed identity tokens from the instance
// metadata service. Tokens issued this way are valid for about an hour.
type AzureIMDSTokenSource struct {
	Endpoint string
	Resource string
	Client   *http.Client
}

func NewAzureIMDSTokenSource() *AzureIMDSTokenSource {
	return &AzureIMDSTokenSource{
		Endpoint: defaultIMDSEndpoint,
		Resource: warehouseResourceID,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *AzureIMDSTokenSource) FetchToken(ctx context.Context) (string, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultIMDSEndpoint
	}
	resource := s.Resource
	if resource == "" {
		resource = warehouseResourceID
	}

	query := url.Values{}
	query.Set("api-version", "2018-02-01")
	query.Set("resource", resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request identity token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("identity response carried no access token")
	}
	return parsed.AccessToken, nil
}

// KeyVaultClient reads secrets over the vault REST API, authenticating with a
// token from the identity source when one is available.
type KeyVaultClient struct {
	baseURL  string
	identity IdentityTokenSource
	client   *http.Client
}

func NewKeyVaultClient(baseURL string, identity IdentityTokenSource) *KeyVaultClient {
	return &KeyVaultClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		identity: identity,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *KeyVaultClient) GetSecret(ctx context.Context, name string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("secret store address is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/secrets/"+url.PathEscape(name)+"?api-version=7.4", nil)
	if err != nil {
		return "", fmt.Errorf("build secret request: %w", err)
	}
	if c.identity != nil {
		token, err := c.identity.FetchToken(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire vault token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request secret: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read secret response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secret store returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode secret response: %w", err)
	}
	return parsed.Value, nil
}
