package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sableline/wagate/internal/auth"
	"github.com/sableline/wagate/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wagate",
	Short: "Multi-tenant messaging session gateway",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}
		expiry, err := cfg.JWTExpiry()
		if err != nil {
			return err
		}
		signed, expiresAt, err := auth.GenerateToken(tokenSubject, cfg.Auth.JWTSecret, expiry)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	rootCmd.AddCommand(serveCmd, tokenCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
