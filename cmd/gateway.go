package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"joblb/internal/gateway"
	"joblb/internal/jobstore"
	"joblb/internal/logger"
)

var (
	gatewayAddress string
	tokenSubject   string
	tokenExpiry    time.Duration
	userPassword   string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the HTTP job gateway",
	Long: `Run the HTTP job gateway. Jobs posted to /api/v1/jobs are recorded in the
job store and submitted to the broker as a client; lifecycle updates from the
broker are written back to the store. Bearer tokens are required when
gateway.jwt_secret is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if gatewayAddress != "" {
			cfg.Gateway.Address = gatewayAddress
		}

		log := logger.GetLogger("cmd.gateway")

		var auth *gateway.JWTService
		if cfg.Gateway.JWTSecret != "" {
			auth = gateway.NewJWTService(cfg.Gateway.JWTSecret, cfg.Gateway.JWTIssuer, 0)
		} else {
			log.Warn().Msg("gateway.jwt_secret is empty - API authentication disabled")
		}

		svc, err := gateway.NewService(newTransport(), gateway.ServiceConfig{
			Address:   cfg.Gateway.Address,
			StorePath: cfg.Store.Path,
			Node:      cfg.ClientSettings(),
			Auth:      auth,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		if err := svc.Start(ctx); err != nil {
			svc.Stop(context.Background())
			return err
		}

		var runErr error
		select {
		case <-ctx.Done():
			log.Info().Msg("Received shutdown signal")
		case runErr = <-svc.Errors():
			log.Error().Err(runErr).Msg("API server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Stop(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	},
}

var gatewayTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long:  `Issue an HS256 bearer token for the gateway API, signed with gateway.jwt_secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.Gateway.JWTSecret == "" {
			return fmt.Errorf("gateway.jwt_secret is not configured")
		}

		token, err := gateway.NewJWTService(cfg.Gateway.JWTSecret, cfg.Gateway.JWTIssuer, tokenExpiry).GenerateToken(tokenSubject)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		cmd.Println(token)
		return nil
	},
}

var gatewayUserCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage gateway login accounts",
}

var gatewayUserAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an account that can log in at /api/v1/auth/login",
	Long: `Create a gateway account in the job store. The password is taken from
--password or, when that is empty, from JOBLB_USER_PASSWORD.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		password := userPassword
		if password == "" {
			password = os.Getenv("JOBLB_USER_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("a password is required (--password or JOBLB_USER_PASSWORD)")
		}

		hash, err := gateway.NewPasswordService().HashPassword(password)
		if err != nil {
			return err
		}

		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.CreateUser(cmd.Context(), args[0], hash)
		if err != nil {
			return fmt.Errorf("failed to create user %s: %w", args[0], err)
		}
		cmd.Printf("User %s created in %s\n", user.Username, cfg.Store.Path)
		return nil
	},
}

var gatewayUserRemoveCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Delete a gateway account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to remove user %s: %w", args[0], err)
		}
		cmd.Printf("User %s removed\n", args[0])
		return nil
	},
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayAddress, "address", "", "HTTP listen address (overrides gateway.address)")

	gatewayCmd.AddCommand(gatewayTokenCmd)
	gatewayTokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
	gatewayTokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 24*time.Hour, "Token lifetime")

	gatewayCmd.AddCommand(gatewayUserCmd)
	gatewayUserCmd.AddCommand(gatewayUserAddCmd)
	gatewayUserCmd.AddCommand(gatewayUserRemoveCmd)
	gatewayUserAddCmd.Flags().StringVar(&userPassword, "password", "", "Account password")
}
