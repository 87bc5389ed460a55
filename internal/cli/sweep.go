package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete finished tasks older than the retention window and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := log.Logger.WithContext(cmd.Context())
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		n, err := a.sweeper().Sweep(ctx, time.Now())
		if err != nil {
			return err
		}
		log.Info().Int64("removed", n).Dur("retention", cfg.Scheduler.Retention).Msg("sweep finished")
		return nil
	},
}
