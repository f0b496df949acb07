package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"joblb/internal/executor"
	"joblb/internal/gateway"
	"joblb/internal/logger"
	"joblb/internal/mq"
)

var (
	standaloneWorkers   int
	standaloneTransport string
	standaloneGateway   bool
)

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run broker, workers and gateway in one process",
	Long: `Run the broker together with a number of workers and, optionally, the HTTP
gateway in a single process. With --transport memory the components talk over
in-process sockets and nothing is bound on the network except the gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if standaloneWorkers < 1 {
			return fmt.Errorf("at least one worker is required")
		}

		transport, err := transports().Lookup(standaloneTransport)
		if err != nil {
			return err
		}
		settings, err := cfg.BrokerSettings()
		if err != nil {
			return err
		}

		log := logger.GetLogger("cmd.standalone")
		ctx, stop := signalContext()
		defer stop()

		broker := mq.NewBroker(transport, settings)
		if err := broker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start broker: %w", err)
		}
		defer broker.Stop()

		registry := executor.NewRegistry()
		defer registry.Close()
		if cfg.Executor.SQLPath != "" {
			if err := registry.OpenSQL(cfg.Executor.SQLPath); err != nil {
				return err
			}
		}

		for i := 0; i < standaloneWorkers; i++ {
			node := cfg.WorkerSettings()
			node.Identity = ""
			if node.Node != "" {
				node.Node = fmt.Sprintf("%s-%d", node.Node, i+1)
			}
			worker := mq.NewWorker(transport, node, registry.Execute)
			if err := worker.Start(ctx); err != nil {
				return fmt.Errorf("failed to start worker %d: %w", i+1, err)
			}
			defer worker.Stop()
		}

		var svc *gateway.Service
		if standaloneGateway {
			var auth *gateway.JWTService
			if cfg.Gateway.JWTSecret != "" {
				auth = gateway.NewJWTService(cfg.Gateway.JWTSecret, cfg.Gateway.JWTIssuer, 0)
			}
			svc, err = gateway.NewService(transport, gateway.ServiceConfig{
				Address:   cfg.Gateway.Address,
				StorePath: cfg.Store.Path,
				Node:      cfg.ClientSettings(),
				Auth:      auth,
			})
			if err != nil {
				return err
			}
			if err := svc.Start(ctx); err != nil {
				svc.Stop(context.Background())
				return err
			}
		}

		log.Info().
			Str("transport", transport.Name()).
			Int("workers", standaloneWorkers).
			Bool("gateway", standaloneGateway).
			Msg("Standalone joblb running")

		var runErr error
		if svc != nil {
			select {
			case <-ctx.Done():
			case runErr = <-svc.Errors():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			svc.Stop(shutdownCtx)
		} else {
			<-ctx.Done()
		}

		log.Info().Msg("Shutting down")
		return runErr
	},
}

func init() {
	standaloneCmd.Flags().IntVarP(&standaloneWorkers, "workers", "w", 2, "Number of in-process workers")
	standaloneCmd.Flags().StringVarP(&standaloneTransport, "transport", "t", "memory", "Transport between components (memory or zmq)")
	standaloneCmd.Flags().BoolVar(&standaloneGateway, "gateway", true, "Serve the HTTP gateway")
}
