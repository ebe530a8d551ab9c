package ha

import (
	"context"
	"testing"

	"github.com/jujo1/solarsynkv3/internal/sunsynk"
)

func TestPublisher_PublishReading(t *testing.T) {
	srv := newStateServer()
	client, _ := newTestClient(t, srv)
	publisher := NewPublisher(client)

	reading := sunsynk.Reading{
		Name:        "gridPower",
		Value:       "1500",
		Unit:        "W",
		DeviceClass: "power",
		StateClass:  "measurement",
	}

	if err := publisher.PublishReading(context.Background(), "SN1", reading); err != nil {
		t.Fatalf("PublishReading() error = %v", err)
	}

	srv.mu.Lock()
	stored, found := srv.states["sensor.solarsynkv3_SN1_gridpower"]
	srv.mu.Unlock()

	if !found {
		t.Fatal("Sensor entity was not written")
	}
	if stored.State != "1500" {
		t.Errorf("State = %q, want 1500", stored.State)
	}
	if stored.Attributes["unit_of_measurement"] != "W" {
		t.Errorf("unit_of_measurement = %v, want W", stored.Attributes["unit_of_measurement"])
	}
	if stored.Attributes["state_class"] != "measurement" {
		t.Errorf("state_class = %v, want measurement", stored.Attributes["state_class"])
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gridPower", "gridpower"},
		{"battery_soc", "battery_soc"},
		{"DC & AC Temp", "dc___ac_temp"},
		{"__edge__", "edge"},
	}

	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
