// Package bridge sequences one single-shot pass: acquire a bearer token,
// then for each configured inverter verify Home Assistant connectivity, run
// the telemetry fan-out, and execute the settings sync cycle. External
// scheduling re-invokes the whole process per refresh cycle.
package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jujo1/solarsynkv3/internal/cache"
	"github.com/jujo1/solarsynkv3/internal/config"
	"github.com/jujo1/solarsynkv3/internal/ha"
	"github.com/jujo1/solarsynkv3/internal/logging"
	"github.com/jujo1/solarsynkv3/internal/settingsync"
	"github.com/jujo1/solarsynkv3/internal/sunsynk"
)

// tokenAcquirer obtains the run's bearer token
type tokenAcquirer interface {
	Acquire(ctx context.Context, creds sunsynk.Credentials) (string, error)
}

// connectivityChecker performs the known-value round-trip test
type connectivityChecker interface {
	VerifyConnectivity(ctx context.Context) error
}

// telemetryRunner runs the telemetry fan-out for one inverter
type telemetryRunner interface {
	RunAll(ctx context.Context, token, serial string) []sunsynk.TelemetryResult
}

// settingsCycler runs the settings sync cycle for one inverter
type settingsCycler interface {
	Run(ctx context.Context, token, serial string) error
}

// stagingProvisioner validates the staging helper entities before the
// device loop and creates any that are missing
type stagingProvisioner interface {
	EnsureStagingEntities(ctx context.Context, serials []string) (*ha.ProvisionReport, error)
}

// Orchestrator drives one bridge pass. The configuration is loaded once
// before construction and never re-read mid-run; the bearer token is
// acquired once and passed by value to every downstream call.
type Orchestrator struct {
	cfg    *config.Config
	logger *logrus.Logger

	acquirer    tokenAcquirer
	haClient    connectivityChecker
	provisioner stagingProvisioner
	telemetry   telemetryRunner

	// newCycle builds the per-device settings cycle over the given
	// snapshot cache. Indirect so tests can substitute the cycle.
	newCycle func(snap settingsync.SnapshotCache) settingsCycler
}

// New creates an orchestrator wired with the concrete Sunsynk and Home
// Assistant components.
func New(cfg *config.Config, logger *logrus.Logger) *Orchestrator {
	apiBase := cfg.SunsynkBaseURL()

	cipher := sunsynk.NewCredentialCipher(apiBase, logger)
	acquirer := sunsynk.NewTokenAcquirer(apiBase, cipher, logger)
	client := sunsynk.NewClient(apiBase, logger)

	haClient := ha.NewClient(cfg.HomeAssistantBaseURL(), cfg.HALongLiveToken, logger)
	publisher := ha.NewPublisher(haClient)
	fetchSet := sunsynk.NewFetchSet(client, publisher, logger)

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		acquirer:    acquirer,
		haClient:    haClient,
		provisioner: haClient,
		telemetry:   fetchSet,
		newCycle: func(snap settingsync.SnapshotCache) settingsCycler {
			return settingsync.NewCycle(client, haClient, snap, logger)
		},
	}
}

// Run executes the state machine: AcquireToken, ensure the staging
// helpers exist, then ForEachDevice. Authentication failure aborts the
// run; connectivity failure skips the device; provisioning, telemetry and
// sync failures are recorded and processing continues.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info(strings.Repeat("-", 78))
	o.logger.Info("Running SolarSynkV3 bridge")
	o.logger.WithField("api_server", o.cfg.APIServer).Info("Using API endpoint")
	o.logger.Info(strings.Repeat("-", 78))

	creds := sunsynk.Credentials{
		Username: o.cfg.SunsynkUser,
		Password: o.cfg.SunsynkPass,
	}

	token, err := o.acquirer.Acquire(ctx, creds)
	if token == "" {
		o.logger.Error("Failed to retrieve bearer token. Check credentials or server status.")
		if err != nil {
			return err
		}
		return &sunsynk.AuthError{Reason: "empty token"}
	}

	// Validate the staging helpers before touching any device, so a
	// fresh install gets its input_text entities on the first pass.
	// Failures are reported and the run continues: telemetry does not
	// depend on the helpers, only the settings cycle does.
	if report, err := o.provisioner.EnsureStagingEntities(ctx, o.cfg.InverterSerials()); err != nil {
		o.logger.WithError(err).Error("Staging entity validation incomplete, settings staging may not work")
	} else if len(report.Created) > 0 {
		o.logger.WithField("entities", report.Created).Info("Created missing staging entities")
	}

	for _, serial := range o.cfg.InverterSerials() {
		o.processDevice(ctx, token, serial)
	}

	o.logger.Info("Run completed")
	return nil
}

// processDevice handles one inverter. Devices are strictly sequential:
// they share the transient cache file and the staging-reset side effects.
func (o *Orchestrator) processDevice(ctx context.Context, token, serial string) {
	log := logging.NewDeviceLogger(o.logger, serial)

	started := time.Now()
	log.Infof("Processing inverter @ %s", started.Format("2006-01-02 15:04:05"))
	log.WithField("refresh_rate_ms", o.cfg.RefreshRate).Info("Scheduler refresh rate")

	log.Info("Testing Home Assistant API")
	if err := o.haClient.VerifyConnectivity(ctx); err != nil {
		log.WithError(err).Error("Connection test failed, skipping inverter")
		log.Error("Ensure correct IP, port, and Home Assistant accessibility")
		return
	}

	log.Info("Cleaning cache")
	if err := cache.Clean(o.cfg.CachePath); err != nil {
		log.WithError(err).Warn("Failed to clean stale cache file")
	}

	results := o.telemetry.RunAll(ctx, token, serial)
	failed := 0
	for _, result := range results {
		if result.Failed() {
			failed++
		}
	}
	if failed > 0 {
		log.WithFields(logrus.Fields{
			"total":  len(results),
			"failed": failed,
		}).Warn("Telemetry completed with failures")
	} else {
		log.Info("All telemetry operations completed")
	}

	o.syncSettings(ctx, token, serial, log)

	log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Info("Inverter processed")
}

// syncSettings opens the per-device snapshot cache and runs the settings
// cycle. A cache that cannot be opened still lets the cycle run, so the
// staging reset is never skipped; the failed store surfaces on first use.
func (o *Orchestrator) syncSettings(ctx context.Context, token, serial string, log *logrus.Entry) {
	var snap settingsync.SnapshotCache

	store, err := cache.Open(o.cfg.CachePath)
	if err != nil {
		log.WithError(err).Error("Failed to open settings cache")
		snap = &brokenCache{err: err}
	} else {
		defer store.Close()
		snap = store
	}

	if err := o.newCycle(snap).Run(ctx, token, serial); err != nil {
		log.WithError(err).Error("Settings sync failed")
	}
}

// brokenCache stands in for a cache that failed to open. Put and Get fail
// with the open error, which turns the cycle into a download-discard pass
// that still resets the staging entity.
type brokenCache struct {
	err error
}

func (b *brokenCache) Put(string, []byte) error {
	return b.err
}

func (b *brokenCache) Get(string) ([]byte, error) {
	return nil, b.err
}
