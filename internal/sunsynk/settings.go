package sunsynk

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProviderSettings is the authoritative inverter configuration snapshot as
// reported by the cloud API. Read-only baseline for reconciliation.
type ProviderSettings struct {
	Serial string
	Raw    json.RawMessage
}

// Values decodes the raw snapshot into a generic map
func (s *ProviderSettings) Values() (map[string]any, error) {
	values := make(map[string]any)
	if err := json.Unmarshal(s.Raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode settings snapshot: %w", err)
	}
	return values, nil
}

// ReadSettings downloads the current common settings for an inverter
func (c *Client) ReadSettings(ctx context.Context, token, serial string) (*ProviderSettings, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/api/v1/common/setting/%s/read", serial)
	if err := c.GetJSON(ctx, token, path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read settings for %s: %w", serial, err)
	}

	return &ProviderSettings{Serial: serial, Raw: raw}, nil
}

// UpdateSettings pushes a user-requested settings override to the inverter.
// The payload carries only the fields being changed.
func (c *Client) UpdateSettings(ctx context.Context, token, serial string, payload map[string]any) error {
	path := fmt.Sprintf("/api/v1/common/setting/%s/set", serial)
	if err := c.PostJSON(ctx, token, path, payload, nil); err != nil {
		return fmt.Errorf("failed to update settings for %s: %w", serial, err)
	}

	return nil
}
