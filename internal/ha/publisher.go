package ha

import (
	"context"
	"strings"

	"github.com/jujo1/solarsynkv3/internal/sunsynk"
)

// Publisher adapts the Home Assistant client to the sensor publication
// interface the telemetry fetch set expects.
type Publisher struct {
	client *Client
}

// NewPublisher wraps a Home Assistant client for telemetry publication
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// PublishReading writes one telemetry reading as a sensor entity state
func (p *Publisher) PublishReading(ctx context.Context, serial string, reading sunsynk.Reading) error {
	entityID := SensorPrefix + serial + "_" + sanitizeName(reading.Name)

	attributes := map[string]any{
		"friendly_name": reading.Name,
	}
	if reading.Unit != "" {
		attributes["unit_of_measurement"] = reading.Unit
	}
	if reading.DeviceClass != "" {
		attributes["device_class"] = reading.DeviceClass
	}
	if reading.StateClass != "" {
		attributes["state_class"] = reading.StateClass
	}

	return p.client.SetState(ctx, entityID, State{
		State:      reading.Value,
		Attributes: attributes,
	})
}

// sanitizeName lowercases a field name into a valid entity id segment
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.Trim(name, "_")
}
