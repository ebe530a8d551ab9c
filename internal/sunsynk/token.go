package sunsynk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const tokenPath = "/oauth/token/new"

// Authentication constants fixed by the Sunsynk web client
const (
	areaCode  = "sunsynk"
	clientID  = "csp-web"
	grantType = "password"
	sourceTag = "sunsynk"
)

// requestTimeout bounds every Sunsynk API call. Fixed, not configurable.
const requestTimeout = 10 * time.Second

// Credentials holds the account identity used for the token exchange.
// Immutable per run; sourced from configuration.
type Credentials struct {
	Username string
	Password string
}

// loginRequest is the JSON body of the token exchange
type loginRequest struct {
	AreaCode  string `json:"areaCode"`
	ClientID  string `json:"client_id"`
	GrantType string `json:"grant_type"`
	Password  string `json:"password"`
	Source    string `json:"source"`
	Username  string `json:"username"`
}

// loginResponse is the JSON body returned by the token endpoint
type loginResponse struct {
	Msg  string `json:"msg"`
	Data struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

// TokenAcquirer exchanges encrypted credentials for a short-lived bearer
// token. Single attempt per run; the external scheduler decides whether to
// re-run.
type TokenAcquirer struct {
	cipher     *CredentialCipher
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewTokenAcquirer creates a token acquirer against the given API base URL
func NewTokenAcquirer(baseURL string, cipher *CredentialCipher, logger *logrus.Logger) *TokenAcquirer {
	return &TokenAcquirer{
		cipher:  cipher,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

// Acquire performs the encrypt-then-exchange handshake: fetch the public
// key, encrypt the password under it, POST the login request. On any
// failure it returns an empty token alongside the error; the caller must
// treat an empty token as "authentication failed" and abort the run.
func (t *TokenAcquirer) Acquire(ctx context.Context, creds Credentials) (string, error) {
	key, err := t.cipher.FetchPublicKey(ctx)
	if err != nil {
		t.logger.WithError(err).Error("Failed to fetch Sunsynk public key")
		return "", &AuthError{Err: err}
	}

	encrypted, err := t.cipher.Encrypt(creds.Password, key)
	if err != nil {
		t.logger.WithError(err).Error("Failed to encrypt Sunsynk password")
		return "", &AuthError{Err: err}
	}

	body, err := json.Marshal(loginRequest{
		AreaCode:  areaCode,
		ClientID:  clientID,
		GrantType: grantType,
		Password:  encrypted,
		Source:    sourceTag,
		Username:  creds.Username,
	})
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to marshal login request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.WithError(err).Error("Failed to connect to Sunsynk API")
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.WithField("status", resp.StatusCode).Error("Sunsynk login request rejected")
		return "", &AuthError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.logger.WithError(err).Error("Failed to parse Sunsynk API response")
		return "", &AuthError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	// The server's human-readable msg is the only diagnostic available
	// (wrong credentials, locked account, ...). Log it verbatim.
	if login.Msg != "Success" {
		t.logger.WithField("msg", login.Msg).Error("Sunsynk login failed")
		return "", &AuthError{Reason: login.Msg}
	}

	t.logger.WithField("msg", login.Msg).Info("Sunsynk login succeeded")
	t.logTokenExpiry(login.Data.AccessToken)

	return login.Data.AccessToken, nil
}

// logTokenExpiry logs the token expiry when the access token is a JWT.
// Best effort: an opaque token is returned untouched.
func (t *TokenAcquirer) logTokenExpiry(token string) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	t.logger.WithField("expires_at", exp.Time.Format(time.RFC3339)).Debug("Bearer token expiry")
}
