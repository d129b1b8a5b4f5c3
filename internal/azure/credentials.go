package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"azure-openai-relay/pkg/utils"
)

// tokenURLFormat is the Azure AD v2.0 token endpoint for a tenant.
const tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// refreshMargin is subtracted from a token's expiry so a token is never
// handed out moments before it stops working.
const refreshMargin = 30 * time.Second

// TokenProvider supplies a bearer token for the upstream provider.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredential acquires bearer tokens from Azure AD using the OAuth2
// client-credentials grant and caches them until shortly before expiry.
// It is safe for concurrent use.
type ClientCredential struct {
	tenantID     string
	clientID     string
	clientSecret string
	scope        string
	tokenURL     string
	httpClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// CredentialConfig holds the inputs for a ClientCredential.
type CredentialConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Scope requested during the exchange, e.g.
	// https://cognitiveservices.azure.com/.default.
	Scope string
	// TokenURL overrides the Azure AD endpoint. Used by tests.
	TokenURL string
	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// NewClientCredential creates a credential supplier for the given service
// principal.
func NewClientCredential(cfg CredentialConfig) *ClientCredential {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(tokenURLFormat, cfg.TenantID)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClientCredential{
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
		tokenURL:     tokenURL,
		httpClient:   httpClient,
	}
}

// Token returns a valid bearer token, fetching a new one from Azure AD when
// the cached token is missing or about to expire.
func (c *ClientCredential) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-refreshMargin)) {
		return c.token, nil
	}

	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	log.Printf("azure: acquired access token %s, valid until %s", utils.MaskToken(token), expiresAt.Format(time.RFC3339))

	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

func (c *ClientCredential) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {c.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, &AuthError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, &AuthError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return "", time.Time{}, &AuthError{StatusCode: resp.StatusCode, Message: errResp.Error + ": " + errResp.ErrorDescription}
		}
		return "", time.Time{}, &AuthError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", time.Time{}, &AuthError{StatusCode: resp.StatusCode, Message: "malformed token response: " + err.Error()}
	}
	if tokenResp.AccessToken == "" {
		return "", time.Time{}, &AuthError{StatusCode: resp.StatusCode, Message: "token response missing access_token"}
	}

	return tokenResp.AccessToken, tokenExpiry(tokenResp.AccessToken, tokenResp.ExpiresIn), nil
}

// tokenExpiry derives the token's expiry from its own exp claim. Azure AD
// access tokens are JWTs, so the claim is authoritative; expires_in is the
// fallback when the token is opaque or the claim is absent.
func tokenExpiry(token string, expiresIn int64) time.Time {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	// No usable expiry; treat the token as already stale so every call
	// re-fetches rather than serving a token of unknown lifetime.
	return time.Now()
}
