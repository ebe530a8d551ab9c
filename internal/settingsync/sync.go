// Package settingsync implements the settings read-modify-reset cycle: the
// provider-side settings snapshot is downloaded, any user-staged change is
// forwarded, and the staging entity is reset so a change is applied at most
// once.
package settingsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jujo1/solarsynkv3/internal/sunsynk"
)

// SyncError indicates the settings cycle could not complete. Logged and
// non-fatal to the run; the staging entity is reset regardless.
type SyncError struct {
	Serial string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("settings sync failed for %s: %v", e.Serial, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ProviderAPI is the provider-side settings surface of the cloud client
type ProviderAPI interface {
	ReadSettings(ctx context.Context, token, serial string) (*sunsynk.ProviderSettings, error)
	UpdateSettings(ctx context.Context, token, serial string, payload map[string]any) error
}

// Staging is the home-automation staging mailbox for one inverter
type Staging interface {
	ReadStagedSetting(ctx context.Context, serial string) (string, error)
	ResetStagedSetting(ctx context.Context, serial string) error
}

// SnapshotCache stores the downloaded settings snapshot for the run and
// serves it back so staged values can be compared without a re-fetch
type SnapshotCache interface {
	Put(serial string, payload []byte) error
	Get(serial string) ([]byte, error)
}

// Cycle executes the settings synchronization for one inverter. It runs
// strictly after the telemetry fan-out has joined, never concurrently with
// it, because it touches the shared cache and the staging entity.
type Cycle struct {
	provider ProviderAPI
	staging  Staging
	cache    SnapshotCache
	logger   *logrus.Logger
}

// NewCycle creates a settings sync cycle
func NewCycle(provider ProviderAPI, staging Staging, cache SnapshotCache, logger *logrus.Logger) *Cycle {
	return &Cycle{
		provider: provider,
		staging:  staging,
		cache:    cache,
		logger:   logger,
	}
}

// Run downloads the authoritative settings, forwards any staged change,
// and resets the staging entity. The reset is deferred so it executes on
// every exit path: leaving a failed or already-processed value in place
// would re-apply it on every subsequent run, which is worse than losing
// one update attempt the user can re-enter.
func (c *Cycle) Run(ctx context.Context, token, serial string) (err error) {
	log := c.logger.WithField("serial", serial)

	defer func() {
		if resetErr := c.staging.ResetStagedSetting(ctx, serial); resetErr != nil {
			log.WithError(resetErr).Error("Failed to reset staging entity")
			if err == nil {
				err = &SyncError{Serial: serial, Err: resetErr}
			}
		} else {
			log.Debug("Staging entity reset")
		}
	}()

	log.Info("Downloading provider settings")
	snapshot, err := c.provider.ReadSettings(ctx, token, serial)
	if err != nil {
		log.WithError(err).Error("Failed to download provider settings")
		return &SyncError{Serial: serial, Err: err}
	}

	if err := c.cache.Put(serial, snapshot.Raw); err != nil {
		log.WithError(err).Error("Failed to cache provider settings")
		return &SyncError{Serial: serial, Err: err}
	}

	staged, err := c.staging.ReadStagedSetting(ctx, serial)
	if err != nil {
		log.WithError(err).Error("Failed to read staged setting")
		return &SyncError{Serial: serial, Err: err}
	}

	if staged == "" {
		log.Info("No pending settings change")
		return nil
	}

	payload, err := ParseStagedValue(staged)
	if err != nil {
		log.WithError(err).Error("Staged setting is malformed, discarding")
		return &SyncError{Serial: serial, Err: err}
	}

	payload = c.dropUnchanged(serial, payload, log)
	if len(payload) == 0 {
		log.Info("Staged values already match provider settings")
		return nil
	}

	log.WithField("fields", len(payload)).Info("Forwarding staged settings change")
	if err := c.provider.UpdateSettings(ctx, token, serial, payload); err != nil {
		// Fire-and-forget: the update is dropped and the user re-enters it.
		log.WithError(err).Error("Failed to push staged settings change")
		return &SyncError{Serial: serial, Err: err}
	}

	log.Info("Staged settings change applied")
	return nil
}

// dropUnchanged removes staged fields whose value already matches the
// cached provider snapshot, so a stale mailbox entry does not turn into a
// no-op API call. When the snapshot cannot be read back the full payload
// is forwarded; the provider tolerates redundant writes.
func (c *Cycle) dropUnchanged(serial string, payload map[string]any, log *logrus.Entry) map[string]any {
	raw, err := c.cache.Get(serial)
	if err != nil {
		log.WithError(err).Warn("Could not read cached snapshot, forwarding all staged fields")
		return payload
	}
	if raw == nil {
		return payload
	}

	var current map[string]any
	if err := json.Unmarshal(raw, &current); err != nil {
		log.WithError(err).Warn("Cached snapshot is not valid JSON, forwarding all staged fields")
		return payload
	}

	for name, staged := range payload {
		existing, ok := current[name]
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", existing) == fmt.Sprintf("%v", staged) {
			log.WithField("field", name).Debug("Staged value matches provider setting, skipping")
			delete(payload, name)
		}
	}

	return payload
}

// ParseStagedValue parses the staged mailbox value into an update payload.
// Format: semicolon-separated name=value pairs, e.g.
// "prog1Time=09:00;prog1Cap=50". Values stay strings; the provider API
// accepts settings fields as strings.
func ParseStagedValue(staged string) (map[string]any, error) {
	payload := make(map[string]any)

	for _, pair := range strings.Split(staged, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid setting pair %q", pair)
		}

		payload[name] = strings.TrimSpace(value)
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("staged value contains no settings")
	}

	return payload, nil
}
