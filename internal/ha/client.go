package ha

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Entity naming for everything this bridge publishes
const (
	SensorPrefix    = "sensor.solarsynkv3_"
	InputTextPrefix = "input_text.solarsynkv3_"
)

// Fixed payload for the connectivity round-trip test. The endpoint can be
// reachable yet misconfigured (wrong port/IP/HTTPS flag); writing and
// reading back a known value fails fast before any device-specific writes.
const (
	testSerial       = "TEST"
	testShortName    = "connection_test_current"
	testFriendlyName = "connection_test"
	testUnit         = "A"
	testUnitLong     = "current"
	testValue        = "100"
)

const requestTimeout = 10 * time.Second

// ErrEntityNotFound is returned when a state lookup yields a 404
var ErrEntityNotFound = fmt.Errorf("entity not found")

// ConnectivityError indicates the round-trip test against the Home
// Assistant API failed. Fatal to the device being processed, not the run.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("home assistant connectivity check failed: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// State is a Home Assistant entity state
type State struct {
	EntityID   string         `json:"entity_id,omitempty"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Client talks to the Home Assistant REST API. TLS verification is
// disabled: local deployments commonly run self-signed HTTPS.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a Home Assistant API client
func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger,
	}
}

// GetState reads an entity's current state. Returns ErrEntityNotFound when
// the entity does not exist.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError(resp)
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return &state, nil
}

// SetState writes an entity's state and attributes
func (c *Client) SetState(ctx context.Context, entityID string, state State) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/states/"+entityID, state)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError(resp)
	}

	return nil
}

// VerifyConnectivity writes the fixed test payload and reads it back.
// Success requires the exact literal value to round-trip.
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	entityID := SensorPrefix + testSerial + "_" + testShortName

	state := State{
		State: testValue,
		Attributes: map[string]any{
			"unit_of_measurement": testUnit,
			"friendly_name":       testFriendlyName,
			"device_class":        testUnitLong,
		},
	}

	if err := c.SetState(ctx, entityID, state); err != nil {
		return &ConnectivityError{Err: fmt.Errorf("test write failed: %w", err)}
	}

	got, err := c.GetState(ctx, entityID)
	if err != nil {
		return &ConnectivityError{Err: fmt.Errorf("test readback failed: %w", err)}
	}

	if got.State != testValue {
		return &ConnectivityError{Err: fmt.Errorf("test value mismatch: wrote %q, read %q", testValue, got.State)}
	}

	c.logger.Info("Home Assistant connectivity verified")

	return nil
}

// ReadStagedSetting reads the staging entity for an inverter. A blank
// value means no pending change. The literal "unknown" state Home
// Assistant reports for a never-written helper also counts as blank.
func (c *Client) ReadStagedSetting(ctx context.Context, serial string) (string, error) {
	state, err := c.GetState(ctx, StagingEntityID(serial))
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(state.State)
	if value == "unknown" {
		return "", nil
	}

	return value, nil
}

// ResetStagedSetting clears the staging entity so a staged change is never
// re-applied on a later run.
func (c *Client) ResetStagedSetting(ctx context.Context, serial string) error {
	return c.SetState(ctx, StagingEntityID(serial), State{State: ""})
}

// StagingEntityID returns the staging entity id for an inverter serial
func StagingEntityID(serial string) string {
	return InputTextPrefix + serial + "_settings"
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
