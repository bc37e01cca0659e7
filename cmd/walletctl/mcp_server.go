package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/internal/mcp"
	"github.com/forest6511/botwallet/internal/svc"
	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/crypto"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI agent integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the read-only MCP server for AI agent integration",
	Long: `Start an MCP server over stdio that gives agents a read-only view of wallets.

Available tools:
  - wallet_list:       List a user's wallets with balances (no keys)
  - wallet_verify:     Check that every wallet decrypts and can sign
  - wallet_deposit_qr: PNG QR code of a deposit address
  - audit_verify:      Verify the audit log HMAC chain

No tool exports keys, recovery phrases or sends transactions.

Authentication:
  Set BOTWALLET_MASTER_SECRET before starting the server. The variable is
  cleared from the process environment once read.

Example MCP configuration:
  {
    "mcpServers": {
      "botwallet": {
        "type": "stdio",
        "command": "/path/to/walletctl",
        "args": ["mcp-server"],
        "env": {
          "BOTWALLET_MASTER_SECRET": "your-master-secret",
          "BOTWALLET_RPC_URL": "https://rpc.example.org"
        }
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	secret, err := cfg.RequireMasterSecret()
	os.Unsetenv("BOTWALLET_MASTER_SECRET")
	cfg.MasterSecret = ""
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sc, err := svc.NewServiceContext(ctx, cfg, secret, audit.SourceMCP)
	crypto.SecureWipe(secret)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer sc.Close()

	server := mcp.NewServer(sc.Wallets, sc.Audit)
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
