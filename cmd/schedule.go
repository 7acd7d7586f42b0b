package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled updates until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeSchedule)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.Start(ctx); err != nil {
			return eris.Wrap(err, "start scheduler")
		}
		st := env.Scheduler.Status()
		zap.L().Info("scheduler running",
			zap.String("schedule", st.Schedule),
			zap.Timep("next_run", st.NextRun),
		)

		<-ctx.Done()
		zap.L().Info("scheduler shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
