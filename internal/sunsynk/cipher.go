package sunsynk

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const publicKeyPath = "/anonymous/publicKey"

// CredentialCipher fetches the server-supplied public key and encrypts the
// account password under it. The key is fetched fresh for every token
// acquisition and never persisted.
type CredentialCipher struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
}

// NewCredentialCipher creates a credential cipher against the given API base URL
func NewCredentialCipher(baseURL string, logger *logrus.Logger) *CredentialCipher {
	return &CredentialCipher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// FetchPublicKey retrieves the RSA public key from the key-distribution
// endpoint. The nonce query parameter (milliseconds since epoch) defeats
// caching between runs.
func (cc *CredentialCipher) FetchPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	endpoint, err := url.Parse(cc.baseURL + publicKeyPath)
	if err != nil {
		return nil, &KeyFetchError{Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	query := endpoint.Query()
	query.Set("source", sourceTag)
	query.Set("nonce", strconv.FormatInt(cc.now().UnixMilli(), 10))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &KeyFetchError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := cc.httpClient.Do(req)
	if err != nil {
		return nil, &KeyFetchError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &KeyFetchError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var envelope struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &KeyFetchError{Err: fmt.Errorf("failed to decode envelope: %w", err)}
	}
	if envelope.Data == "" {
		return nil, &KeyFetchError{Err: fmt.Errorf("envelope contains no key data")}
	}

	key, err := parsePublicKey(envelope.Data)
	if err != nil {
		return nil, &KeyFetchError{Err: err}
	}

	cc.logger.WithField("key_bits", key.Size()*8).Debug("Fetched Sunsynk public key")

	return key, nil
}

// Encrypt encrypts the secret with PKCS#1 v1.5 padding and returns the
// base64-encoded ciphertext. The padding scheme is dictated by the remote
// service and must match exactly.
func (cc *CredentialCipher) Encrypt(secret string, key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", &EncryptionError{Err: fmt.Errorf("public key is nil")}
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(secret))
	if err != nil {
		return "", &EncryptionError{Err: err}
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// parsePublicKey wraps the bare base64 key body from the envelope with PEM
// armor and parses it as a PKIX public key.
func parsePublicKey(body string) (*rsa.PublicKey, error) {
	armored := "-----BEGIN PUBLIC KEY-----\n" + body + "\n-----END PUBLIC KEY-----\n"

	block, _ := pem.Decode([]byte(armored))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", parsed)
	}

	return rsaKey, nil
}
