// Package mcp implements the MCP (Model Context Protocol) server for
// botwallet. Agents get read-only views of wallets: addresses, balances
// and integrity status. No tool ever returns key material.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/wallet"
)

// ServerVersion is reported in the MCP handshake.
const ServerVersion = "0.1.0"

// WalletService is the subset of wallet.Manager exposed over MCP.
type WalletService interface {
	ListWallets(ctx context.Context, userID string) ([]wallet.WalletInfo, error)
	VerifyWalletIntegrity(ctx context.Context, userID string) (*wallet.IntegrityReport, error)
}

// AuditLog is the subset of audit.Logger exposed over MCP.
type AuditLog interface {
	Verify() (*audit.VerifyResult, error)
}

// Server represents the MCP server for botwallet.
type Server struct {
	server  *mcp.Server
	wallets WalletService
	audit   AuditLog
}

// NewServer creates a new MCP server instance. auditLog may be nil, in
// which case audit tools are not registered.
func NewServer(wallets WalletService, auditLog AuditLog) *Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "botwallet",
			Version: ServerVersion,
		},
		nil,
	)

	s := &Server{
		server:  mcpServer,
		wallets: wallets,
		audit:   auditLog,
	}
	s.registerTools()
	return s
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wallet_list",
		Description: "List a user's wallets with id, name, address, balance in ETH and which one is active. Does NOT return keys or recovery phrases.",
	}, s.handleWalletList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wallet_verify",
		Description: "Check that every wallet of a user decrypts, matches its address and can sign. Reports per-wallet status only.",
	}, s.handleWalletVerify)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wallet_deposit_qr",
		Description: "Return a PNG QR code of a wallet's deposit address. Uses the active wallet when wallet_id is omitted.",
	}, s.handleDepositQR)

	if s.audit != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "audit_verify",
			Description: "Verify the HMAC chain of the wallet audit log and report the number of records and any breaks.",
		}, s.handleAuditVerify)
	}
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
