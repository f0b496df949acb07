package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"joblb/internal/config"
	"joblb/internal/logger"
	"joblb/internal/network"
	"joblb/internal/network/memory"
	"joblb/internal/network/zmq"
)

var (
	verbose    bool
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "joblb",
	Short: "joblb - a job broker that balances work across worker nodes",
	Long: `joblb runs a central broker that accepts jobs from clients and hands them
to a randomly chosen ready worker, relaying each lifecycle change back to the
client that submitted the job. Peers are tracked with heartbeats and evicted
when they stop answering.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles(envFile)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults plus JOBLB_* env when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(standaloneCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig loads the configuration and switches logging on for
// long-running commands
func loadConfig(daemon bool) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	if daemon || verbose {
		logger.SetSilentMode(false)
	}
	logger.SetLevel(cfg.Logging.Level)
	if verbose {
		logger.SetLevel(logger.LOG_DEBUG)
	}
	return cfg, nil
}

// transports lists what a command may run on. The memory transport only
// connects components living in the same process.
func transports() *network.Registry {
	registry := network.NewRegistry()
	registry.Register(zmq.NewTransport())
	registry.Register(memory.NewNetwork())
	return registry
}

func newTransport() network.Transport {
	return zmq.NewTransport()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
