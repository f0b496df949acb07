package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"joblb/internal/logger"
	"joblb/internal/mq"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the job broker",
	Long: `Run the job broker. It binds one router for clients and one for workers,
queues submitted jobs until a ready worker is available and routes results
back to the submitting client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		settings, err := cfg.BrokerSettings()
		if err != nil {
			return err
		}

		log := logger.GetLogger("cmd.broker")
		log.Info().
			Str("clients", settings.ClientEndpoint).
			Str("workers", settings.WorkerEndpoint).
			Int("max_queue_length", settings.MaxQueueLength).
			Msg("Starting joblb broker")

		ctx, stop := signalContext()
		defer stop()

		broker := mq.NewBroker(newTransport(), settings)
		if err := broker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start broker: %w", err)
		}

		<-ctx.Done()
		log.Info().Msg("Received shutdown signal")

		stats := broker.Stats()
		log.Info().
			Int("submissions", stats.Submissions).
			Int("dispatched", stats.Dispatched).
			Int("relayed", stats.Relayed).
			Int("evictions", stats.Evictions).
			Msg("Broker statistics")

		return broker.Stop()
	},
}
