package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"joblb/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage joblb configuration",
	Long:  `Generate or validate joblb configuration files.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a configuration file with every default filled in. An existing file is only replaced with --force, after a backup is written next to it.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFileArg(args)

		if _, err := config.NewManager(path).Generate(configForce); err != nil {
			return err
		}

		cmd.Printf("Default configuration saved to: %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a joblb configuration file for syntax and value ranges.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFileArg(args)

		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		broker, err := cfg.BrokerSettings()
		if err != nil {
			return err
		}

		cmd.Printf("Configuration file is valid: %s\n", path)
		cmd.Printf("Client endpoint: %s\n", broker.ClientEndpoint)
		cmd.Printf("Worker endpoint: %s\n", broker.WorkerEndpoint)
		cmd.Printf("Heartbeat: every %s, %d retries\n", broker.Heartbeat.Interval, broker.Heartbeat.MaxRetries)
		if broker.MaxQueueLength > 0 {
			cmd.Printf("Job queue bounded at %d\n", broker.MaxQueueLength)
		}
		return nil
	},
}

func configFileArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if configPath != "" {
		return configPath
	}
	return "joblb.yml"
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)

	configGenerateCmd.Flags().BoolVar(&configForce, "force", false, "Replace an existing file")
}
