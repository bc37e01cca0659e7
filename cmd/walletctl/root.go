package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/forest6511/botwallet/internal/config"
	"github.com/forest6511/botwallet/internal/svc"
	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/crypto"
)

var (
	cfg    *config.Config
	userID string
)

var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "walletctl manages custodial Ethereum wallets for bot users",
	Long: `Administer botwallet wallets: create, list, export, withdraw and audit.

Configuration is read from BOTWALLET_* environment variables. The master
secret is taken from BOTWALLET_MASTER_SECRET or prompted for.`,
	SilenceUsage: true,
	// PersistentPreRunE runs before the root command and all subcommands.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logx.MustSetup(cfg.LogConf("walletctl"))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("BOTWALLET_USER"), "User id whose wallets to operate on (env BOTWALLET_USER)")
}

// masterSecret returns the secret from the environment or the terminal.
func masterSecret() ([]byte, error) {
	secret, err := cfg.RequireMasterSecret()
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, config.ErrMasterSecretMissing) {
		return nil, err
	}
	return cfg.PromptMasterSecret(os.Stderr)
}

// openServices builds the wallet services for one command. The returned
// func releases them.
func openServices(ctx context.Context) (*svc.ServiceContext, func(), error) {
	secret, err := masterSecret()
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(secret)

	sc, err := svc.NewServiceContext(ctx, cfg, secret, audit.SourceCLI)
	if err != nil {
		return nil, nil, err
	}
	return sc, func() {
		if err := sc.Close(); err != nil {
			logx.Errorf("walletctl: close failed: %v", err)
		}
	}, nil
}

// requireUser fails when no --user was given.
func requireUser() error {
	if userID == "" {
		return errors.New("--user flag or BOTWALLET_USER is required")
	}
	return nil
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
