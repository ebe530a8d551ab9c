package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jujo1/solarsynkv3/internal/ha"
)

var provisionTimeout int

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the required Home Assistant helper entities",
	Long: `Checks that every configured inverter has its settings staging
helper (input_text.solarsynkv3_<serial>_settings) in Home Assistant and
creates the missing ones. Safe to re-run; existing entities are left
untouched.`,
	RunE: runProvisionCommand,
}

func init() {
	provisionCmd.Flags().IntVar(&provisionTimeout, "timeout", 30, "Provisioning timeout in seconds")
	rootCmd.AddCommand(provisionCmd)
}

func runProvisionCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	client := ha.NewClient(cfg.HomeAssistantBaseURL(), cfg.HALongLiveToken, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(provisionTimeout)*time.Second)
	defer cancel()

	logger.Info("Validating required Home Assistant entities")

	report, err := client.EnsureStagingEntities(ctx, cfg.InverterSerials())
	if err != nil {
		return fmt.Errorf("entity provisioning incomplete: %w", err)
	}

	logger.WithField("existing", len(report.Existing)).WithField("created", len(report.Created)).
		Info("Entity validation complete")

	return nil
}
