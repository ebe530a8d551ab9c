package sunsynk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Reading is one name/value telemetry sample destined for a sensor entity
type Reading struct {
	Name        string
	Value       string
	Unit        string
	UnitLong    string
	DeviceClass string
	StateClass  string
}

// SensorPublisher publishes readings to the home-automation side. Each
// fetch operation writes its own disjoint set of entities, so operations
// are commutative with respect to publication.
type SensorPublisher interface {
	PublishReading(ctx context.Context, serial string, reading Reading) error
}

// TelemetryResult is the per (inverter, metric-category) outcome: either a
// count of published readings or a recorded failure. Failures are isolated;
// one category failing must not abort the others.
type TelemetryResult struct {
	Label    string
	Readings int
	Err      error
}

// Failed reports whether the operation recorded a failure
func (r TelemetryResult) Failed() bool {
	return r.Err != nil
}

// FetchOp is one registered telemetry-retrieval operation, keyed by a human
// label used in logs.
type FetchOp struct {
	Label string
	Path  func(serial string) string
}

// FetchSet is the fixed registry of independent telemetry operations
type FetchSet struct {
	client    *Client
	publisher SensorPublisher
	logger    *logrus.Logger
	ops       []FetchOp
}

// NewFetchSet creates the registry with the full set of metric categories
func NewFetchSet(client *Client, publisher SensorPublisher, logger *logrus.Logger) *FetchSet {
	return &FetchSet{
		client:    client,
		publisher: publisher,
		logger:    logger,
		ops: []FetchOp{
			{Label: "Inverter Information", Path: func(sn string) string {
				return "/api/v1/inverter/" + sn
			}},
			{Label: "PV Data", Path: func(sn string) string {
				return "/api/v1/inverter/" + sn + "/realtime/input"
			}},
			{Label: "Grid Data", Path: func(sn string) string {
				return "/api/v1/inverter/grid/" + sn + "/realtime?sn=" + sn
			}},
			{Label: "Battery Data", Path: func(sn string) string {
				return "/api/v1/inverter/battery/" + sn + "/realtime?sn=" + sn + "&lan=en"
			}},
			{Label: "Load Data", Path: func(sn string) string {
				return "/api/v1/inverter/load/" + sn + "/realtime?sn=" + sn
			}},
			{Label: "Output Data", Path: func(sn string) string {
				return "/api/v1/inverter/" + sn + "/realtime/output"
			}},
			{Label: "DC & AC Temperature Data", Path: func(sn string) string {
				return "/api/v1/inverter/" + sn + "/output/day"
			}},
			{Label: "Inverter Settings", Path: func(sn string) string {
				return "/api/v1/common/setting/" + sn + "/read"
			}},
		},
	}
}

// WithOps replaces the registry. Used by tests.
func (s *FetchSet) WithOps(ops []FetchOp) *FetchSet {
	s.ops = ops
	return s
}

// Labels returns the registered operation labels in registry order
func (s *FetchSet) Labels() []string {
	labels := make([]string, len(s.ops))
	for i, op := range s.ops {
		labels[i] = op.Label
	}
	return labels
}

// RunAll launches every registered operation concurrently and waits for all
// of them to finish before returning: fan-out then full join, never partial.
// A failure inside one operation is caught, logged with the operation's
// label, and recorded in its result; it never cancels sibling operations.
func (s *FetchSet) RunAll(ctx context.Context, token, serial string) []TelemetryResult {
	results := make([]TelemetryResult, len(s.ops))

	var wg sync.WaitGroup
	for i, op := range s.ops {
		wg.Add(1)
		go func(i int, op FetchOp) {
			defer wg.Done()
			results[i] = s.runOne(ctx, token, serial, op)
		}(i, op)
	}
	wg.Wait()

	return results
}

// runOne executes a single operation with full fault isolation
func (s *FetchSet) runOne(ctx context.Context, token, serial string, op FetchOp) (result TelemetryResult) {
	result.Label = op.Label

	defer func() {
		if r := recover(); r != nil {
			result.Err = &TelemetryOperationError{Label: op.Label, Err: fmt.Errorf("panic: %v", r)}
			s.logger.WithField("operation", op.Label).Errorf("Telemetry operation panicked: %v", r)
		}
	}()

	s.logger.WithField("operation", op.Label).Info("Fetching telemetry")

	count, err := s.fetchAndPublish(ctx, token, serial, op)
	if err != nil {
		result.Err = &TelemetryOperationError{Label: op.Label, Err: err}
		s.logger.WithField("operation", op.Label).WithError(err).Error("Telemetry operation failed")
		return result
	}

	result.Readings = count
	s.logger.WithFields(logrus.Fields{
		"operation": op.Label,
		"readings":  count,
	}).Info("Telemetry operation completed")

	return result
}

// fetchAndPublish pulls one metric category and publishes its readings
func (s *FetchSet) fetchAndPublish(ctx context.Context, token, serial string, op FetchOp) (int, error) {
	var raw json.RawMessage
	if err := s.client.GetJSON(ctx, token, op.Path(serial), &raw); err != nil {
		return 0, err
	}

	readings := flattenReadings(raw)

	published := 0
	for _, reading := range readings {
		if err := s.publisher.PublishReading(ctx, serial, reading); err != nil {
			return published, fmt.Errorf("failed to publish %s: %w", reading.Name, err)
		}
		published++
	}

	return published, nil
}

// flattenReadings extracts scalar fields from a category payload. Nested
// objects flatten with an underscore; arrays and deeper nesting are skipped
// because those payloads are presentation detail the sensors do not carry.
func flattenReadings(raw json.RawMessage) []Reading {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}

	var readings []Reading
	for name, value := range data {
		switch typed := value.(type) {
		case map[string]any:
			for sub, subValue := range typed {
				if scalar, ok := scalarString(subValue); ok {
					readings = append(readings, makeReading(name+"_"+sub, scalar))
				}
			}
		default:
			if scalar, ok := scalarString(value); ok {
				readings = append(readings, makeReading(name, scalar))
			}
		}
	}

	return readings
}

// scalarString converts a decoded JSON scalar to a state string
func scalarString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

// makeReading classifies a field by name and attaches sensor metadata
func makeReading(name, value string) Reading {
	reading := Reading{Name: name, Value: value}

	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "etoday") || strings.HasPrefix(lower, "etotal") ||
		strings.Contains(lower, "energy"):
		reading.Unit = "kWh"
		reading.UnitLong = "energy"
		reading.DeviceClass = "energy"
		reading.StateClass = "total_increasing"
	case strings.Contains(lower, "power") || strings.HasSuffix(lower, "ppv"):
		reading.Unit = "W"
		reading.UnitLong = "power"
		reading.DeviceClass = "power"
		reading.StateClass = "measurement"
	case strings.Contains(lower, "volt") || strings.HasSuffix(lower, "vol"):
		reading.Unit = "V"
		reading.UnitLong = "voltage"
		reading.DeviceClass = "voltage"
		reading.StateClass = "measurement"
	case strings.Contains(lower, "current") || strings.HasSuffix(lower, "amp"):
		reading.Unit = "A"
		reading.UnitLong = "current"
		reading.DeviceClass = "current"
		reading.StateClass = "measurement"
	case strings.Contains(lower, "temp"):
		reading.Unit = "°C"
		reading.UnitLong = "temperature"
		reading.DeviceClass = "temperature"
		reading.StateClass = "measurement"
	}

	return reading
}

// TelemetryOperationError records the failure of one metric category.
// Isolated: it is logged and surfaced in the result, never escalated.
type TelemetryOperationError struct {
	Label string
	Err   error
}

func (e *TelemetryOperationError) Error() string {
	return fmt.Sprintf("telemetry operation %q failed: %v", e.Label, e.Err)
}

func (e *TelemetryOperationError) Unwrap() error {
	return e.Err
}
