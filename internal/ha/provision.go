package ha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProvisionReport summarizes an entity provisioning pass
type ProvisionReport struct {
	Existing []string
	Created  []string
	Failed   []string
}

// EnsureStagingEntities checks that every inverter's staging helper exists
// and creates the missing ones. Idempotent: entities that already exist are
// left untouched. Returns an error only when an entity could neither be
// found nor created, since the settings cycle cannot work without it.
func (c *Client) EnsureStagingEntities(ctx context.Context, serials []string) (*ProvisionReport, error) {
	report := &ProvisionReport{}

	for _, serial := range serials {
		entityID := StagingEntityID(serial)
		entityLog := c.logger.WithField("entity_id", entityID)

		_, err := c.GetState(ctx, entityID)
		if err == nil {
			entityLog.Debug("Staging entity exists")
			report.Existing = append(report.Existing, entityID)
			continue
		}
		if !errors.Is(err, ErrEntityNotFound) {
			entityLog.WithError(err).Warn("Failed to check staging entity")
			report.Failed = append(report.Failed, entityID)
			continue
		}

		entityLog.Info("Staging entity missing, creating")

		friendlyName := fmt.Sprintf("SolarSynkV3 %s Settings", serial)
		if err := c.createInputText(ctx, entityID, friendlyName); err != nil {
			entityLog.WithError(err).Error("Failed to create staging entity")
			report.Failed = append(report.Failed, entityID)
			continue
		}

		entityLog.Info("Staging entity created")
		report.Created = append(report.Created, entityID)
	}

	if len(report.Failed) > 0 {
		c.logger.WithField("entities", report.Failed).Error(
			"Some staging entities require manual creation: HA GUI -> Settings -> Devices & Services -> Helpers -> Create Helper -> Text")
		return report, fmt.Errorf("failed to provision %d staging entities", len(report.Failed))
	}

	return report, nil
}

// createInputText creates an input_text helper through the config API,
// falling back to a plain states write on Home Assistant versions where
// the config API is unavailable.
func (c *Client) createInputText(ctx context.Context, entityID, friendlyName string) error {
	helperName := entityID[len("input_text."):]

	payload := map[string]any{
		helperName: map[string]any{
			"name":    friendlyName,
			"max":     255,
			"initial": "",
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/config/input_text", payload)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = httpError(resp)
	}

	c.logger.WithField("entity_id", entityID).WithError(err).Warn(
		"Config API creation failed, trying states fallback")

	fallback := State{
		State: "",
		Attributes: map[string]any{
			"friendly_name": friendlyName,
			"max":           255,
		},
	}
	if fbErr := c.SetState(ctx, entityID, fallback); fbErr != nil {
		return fmt.Errorf("config API failed (%v) and fallback failed: %w", err, fbErr)
	}

	return nil
}
