package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"digestbot/orchestrator"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run deduplication on a cron schedule",
	Long: `Keep running and start a deduplication pass on every tick of the cron schedule.
A tick is skipped while the previous pass is still running, so this process stays
the only writer of the index. Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner, cleanup, err := newRunner(ctx, optionsFromConfig())
		if err != nil {
			return err
		}
		defer cleanup()

		scheduler := orchestrator.NewScheduler(runner.Run, &logger)
		if now, _ := cmd.Flags().GetBool("now"); now {
			scheduler.Tick(ctx)
		}

		spec, _ := cmd.Flags().GetString("cron")
		if err := scheduler.Start(ctx, spec); err != nil {
			return err
		}

		<-ctx.Done()
		scheduler.Stop()
		logger.Info().Int("skipped_ticks", scheduler.Skipped()).Msg("shutting down scheduler")
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("cron", "*/15 * * * *", "Cron schedule for runs")
	scheduleCmd.Flags().Bool("now", false, "Start one run immediately")
	rootCmd.AddCommand(scheduleCmd)
}
