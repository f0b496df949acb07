package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"joblb/internal/dashboard"
)

var (
	watchGateway  string
	watchToken    string
	watchInterval time.Duration
	watchLimit    int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch recent jobs through the HTTP gateway",
	Long: `Open a terminal dashboard listing the most recent jobs known to a gateway.
The list refreshes on an interval; press r to refresh now and q to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		gateway := watchGateway
		if gateway == "" {
			gateway = "http://" + cfg.Gateway.Address
			if strings.HasPrefix(cfg.Gateway.Address, ":") {
				gateway = "http://localhost" + cfg.Gateway.Address
			}
		}

		fetcher := dashboard.NewFetcher(gateway, watchToken, watchLimit)
		if err := dashboard.Run(fetcher.Fetch, gateway, watchInterval); err != nil {
			return fmt.Errorf("dashboard failed: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchGateway, "gateway", "", "Gateway base URL (defaults to the configured gateway address on localhost)")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Bearer token for a gateway with authentication enabled")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Refresh interval")
	watchCmd.Flags().IntVar(&watchLimit, "limit", 20, "Number of jobs to show")
}
