package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"joblb/internal/executor"
	"joblb/internal/logger"
	"joblb/internal/mq"
)

var workerSQLPath string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker node",
	Long: `Run a worker node. It connects to the broker's worker port, answers
heartbeats and executes jobs one at a time. Payloads of the form
{"kind": "...", ...} are dispatched to the echo, fail or sql job kinds; any
other payload is echoed back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if workerSQLPath != "" {
			cfg.Executor.SQLPath = workerSQLPath
		}

		log := logger.GetLogger("cmd.worker")

		registry := executor.NewRegistry()
		defer registry.Close()
		if cfg.Executor.SQLPath != "" {
			if err := registry.OpenSQL(cfg.Executor.SQLPath); err != nil {
				return err
			}
		}

		ctx, stop := signalContext()
		defer stop()

		settings := cfg.WorkerSettings()
		worker := mq.NewWorker(newTransport(), settings, registry.Execute)
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}

		log.Info().
			Str("broker", settings.Endpoint).
			Str("identity", worker.Identity()).
			Strs("kinds", registry.Kinds()).
			Msg("Worker running")

		<-ctx.Done()
		log.Info().Msg("Received shutdown signal")

		stats := worker.Stats()
		log.Info().
			Int("jobs_handled", stats.JobsHandled).
			Int("jobs_failed", stats.JobsFailed).
			Msg("Worker statistics")

		return worker.Stop()
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerSQLPath, "sql", "", "SQLite database queried by sql jobs")
}
