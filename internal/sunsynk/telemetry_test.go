package sunsynk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jujo1/solarsynkv3/internal/logging"
)

// capturePublisher records published readings. Operations publish
// concurrently, so access is guarded.
type capturePublisher struct {
	mu       sync.Mutex
	readings []Reading
	failWith error
}

func (p *capturePublisher) PublishReading(ctx context.Context, serial string, reading Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.readings = append(p.readings, reading)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readings)
}

func telemetryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"Success","success":true,"data":{"pac":1500,"etoday":12.5}}`))
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return httptest.NewServer(mux)
}

func TestFetchSet_RunAllFaultIsolation(t *testing.T) {
	logger := logging.Initialize("debug")
	server := telemetryServer(t)
	defer server.Close()

	publisher := &capturePublisher{}
	client := NewClient(server.URL, logger)

	ops := []FetchOp{
		{Label: "Alpha", Path: func(string) string { return "/good" }},
		{Label: "Bravo", Path: func(string) string { return "/bad" }},
		{Label: "Charlie", Path: func(string) string { return "/good" }},
	}

	set := NewFetchSet(client, publisher, logger).WithOps(ops)
	results := set.RunAll(context.Background(), "token", "SN1")

	if len(results) != len(ops) {
		t.Fatalf("RunAll() returned %d results, want %d", len(results), len(ops))
	}

	failed := 0
	for i, result := range results {
		if result.Label != ops[i].Label {
			t.Errorf("Result %d label = %q, want %q", i, result.Label, ops[i].Label)
		}
		if result.Failed() {
			failed++
			if result.Label != "Bravo" {
				t.Errorf("Unexpected failed operation: %s", result.Label)
			}
		}
	}

	if failed != 1 {
		t.Errorf("Expected exactly 1 failed operation, got %d", failed)
	}

	// Two successful ops, two readings each
	if publisher.count() != 4 {
		t.Errorf("Expected 4 published readings, got %d", publisher.count())
	}
}

func TestFetchSet_RunAllPanicIsolation(t *testing.T) {
	logger := logging.Initialize("debug")
	server := telemetryServer(t)
	defer server.Close()

	publisher := &capturePublisher{}
	client := NewClient(server.URL, logger)

	ops := []FetchOp{
		{Label: "Panics", Path: func(string) string { panic("boom") }},
		{Label: "Survives", Path: func(string) string { return "/good" }},
	}

	set := NewFetchSet(client, publisher, logger).WithOps(ops)
	results := set.RunAll(context.Background(), "token", "SN1")

	if len(results) != 2 {
		t.Fatalf("RunAll() returned %d results, want 2", len(results))
	}
	if !results[0].Failed() {
		t.Error("Panicking operation should be recorded as failed")
	}
	if results[1].Failed() {
		t.Errorf("Sibling operation should not be affected: %v", results[1].Err)
	}
}

func TestFetchSet_PublishFailureIsRecorded(t *testing.T) {
	logger := logging.Initialize("debug")
	server := telemetryServer(t)
	defer server.Close()

	publisher := &capturePublisher{failWith: fmt.Errorf("ha unreachable")}
	client := NewClient(server.URL, logger)

	ops := []FetchOp{{Label: "Alpha", Path: func(string) string { return "/good" }}}
	set := NewFetchSet(client, publisher, logger).WithOps(ops)

	results := set.RunAll(context.Background(), "token", "SN1")
	if !results[0].Failed() {
		t.Error("Publish failure should mark the operation failed")
	}
}

func TestNewFetchSet_Registry(t *testing.T) {
	logger := logging.Initialize("debug")
	set := NewFetchSet(NewClient("http://unused", logger), &capturePublisher{}, logger)

	labels := set.Labels()
	if len(labels) != 8 {
		t.Fatalf("Expected 8 registered operations, got %d", len(labels))
	}

	want := map[string]bool{
		"Inverter Information":     true,
		"PV Data":                  true,
		"Grid Data":                true,
		"Battery Data":             true,
		"Load Data":                true,
		"Output Data":              true,
		"DC & AC Temperature Data": true,
		"Inverter Settings":        true,
	}
	for _, label := range labels {
		if !want[label] {
			t.Errorf("Unexpected operation label: %s", label)
		}
	}
}

func TestFlattenReadings(t *testing.T) {
	raw := []byte(`{
		"pac": 1500.5,
		"sn": "ABC123",
		"online": true,
		"battery": {"soc": 80, "temp": 31.5},
		"list": [1, 2, 3],
		"nested": {"deep": {"skipped": 1}}
	}`)

	readings := flattenReadings(raw)

	byName := make(map[string]string)
	for _, r := range readings {
		byName[r.Name] = r.Value
	}

	if byName["pac"] != "1500.5" {
		t.Errorf("pac = %q, want 1500.5", byName["pac"])
	}
	if byName["sn"] != "ABC123" {
		t.Errorf("sn = %q, want ABC123", byName["sn"])
	}
	if byName["online"] != "true" {
		t.Errorf("online = %q, want true", byName["online"])
	}
	if byName["battery_soc"] != "80" {
		t.Errorf("battery_soc = %q, want 80", byName["battery_soc"])
	}
	if _, found := byName["list"]; found {
		t.Error("Arrays should be skipped")
	}
	if _, found := byName["nested_deep"]; found {
		t.Error("Deep nesting should be skipped")
	}
}

func TestMakeReadingClassification(t *testing.T) {
	tests := []struct {
		name       string
		wantUnit   string
		wantClass  string
		wantStateC string
	}{
		{"etoday", "kWh", "energy", "total_increasing"},
		{"gridPower", "W", "power", "measurement"},
		{"batteryVolt", "V", "voltage", "measurement"},
		{"loadCurrent", "A", "current", "measurement"},
		{"dcTemp", "°C", "temperature", "measurement"},
		{"sn", "", "", ""},
	}

	for _, tt := range tests {
		reading := makeReading(tt.name, "1")
		if reading.Unit != tt.wantUnit {
			t.Errorf("%s unit = %q, want %q", tt.name, reading.Unit, tt.wantUnit)
		}
		if reading.DeviceClass != tt.wantClass {
			t.Errorf("%s device class = %q, want %q", tt.name, reading.DeviceClass, tt.wantClass)
		}
		if reading.StateClass != tt.wantStateC {
			t.Errorf("%s state class = %q, want %q", tt.name, reading.StateClass, tt.wantStateC)
		}
	}
}
