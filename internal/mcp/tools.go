package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/botwallet/pkg/disclosure"
	"github.com/forest6511/botwallet/pkg/wallet"
)

// ErrUserRequired is returned when a tool call omits user_id.
var ErrUserRequired = errors.New("user_id is required")

// WalletListInput represents input for wallet_list tool.
type WalletListInput struct {
	UserID string `json:"user_id"`
}

// WalletListOutput represents output for wallet_list tool.
type WalletListOutput struct {
	Wallets []WalletSummary `json:"wallets"`
}

// WalletSummary is the public view of one wallet.
type WalletSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Balance      string `json:"balance_eth"`
	BalanceKnown bool   `json:"balance_known"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
}

// WalletVerifyInput represents input for wallet_verify tool.
type WalletVerifyInput struct {
	UserID string `json:"user_id"`
}

// WalletVerifyOutput represents output for wallet_verify tool.
type WalletVerifyOutput struct {
	Valid   bool                  `json:"valid"`
	Wallets []WalletVerifyOutcome `json:"wallets"`
}

// WalletVerifyOutcome is the result for one wallet.
type WalletVerifyOutcome struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	OK          bool   `json:"ok"`
	HasMnemonic bool   `json:"has_mnemonic"`
	Error       string `json:"error,omitempty"`
}

// DepositQRInput represents input for wallet_deposit_qr tool.
type DepositQRInput struct {
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id,omitempty"`
}

// DepositQROutput represents output for wallet_deposit_qr tool.
type DepositQROutput struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
}

// AuditVerifyInput represents input for audit_verify tool.
type AuditVerifyInput struct{}

// AuditVerifyOutput represents output for audit_verify tool.
type AuditVerifyOutput struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// handleWalletList handles the wallet_list tool call.
func (s *Server) handleWalletList(ctx context.Context, _ *mcp.CallToolRequest, input WalletListInput) (*mcp.CallToolResult, WalletListOutput, error) {
	if input.UserID == "" {
		return nil, WalletListOutput{}, ErrUserRequired
	}

	infos, err := s.wallets.ListWallets(ctx, input.UserID)
	if err != nil {
		return nil, WalletListOutput{}, toolError(err)
	}

	output := WalletListOutput{Wallets: make([]WalletSummary, 0, len(infos))}
	for _, w := range infos {
		output.Wallets = append(output.Wallets, WalletSummary{
			ID:           w.ID,
			Name:         w.Name,
			Address:      w.Address.Hex(),
			Balance:      wallet.FormatEther(w.Balance),
			BalanceKnown: w.BalanceKnown,
			Active:       w.IsActive,
			CreatedAt:    w.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, output, nil
}

// handleWalletVerify handles the wallet_verify tool call.
func (s *Server) handleWalletVerify(ctx context.Context, _ *mcp.CallToolRequest, input WalletVerifyInput) (*mcp.CallToolResult, WalletVerifyOutput, error) {
	if input.UserID == "" {
		return nil, WalletVerifyOutput{}, ErrUserRequired
	}

	report, err := s.wallets.VerifyWalletIntegrity(ctx, input.UserID)
	if err != nil {
		return nil, WalletVerifyOutput{}, toolError(err)
	}

	output := WalletVerifyOutput{Valid: report.Valid, Wallets: make([]WalletVerifyOutcome, 0, len(report.Wallets))}
	for _, w := range report.Wallets {
		outcome := WalletVerifyOutcome{
			ID:          w.ID,
			Name:        w.Name,
			Address:     w.Address,
			OK:          w.OK,
			HasMnemonic: w.HasMnemonic,
		}
		if !w.OK {
			outcome.Error = "wallet data failed verification"
		}
		output.Wallets = append(output.Wallets, outcome)
	}
	return nil, output, nil
}

// handleDepositQR handles the wallet_deposit_qr tool call.
func (s *Server) handleDepositQR(ctx context.Context, _ *mcp.CallToolRequest, input DepositQRInput) (*mcp.CallToolResult, DepositQROutput, error) {
	if input.UserID == "" {
		return nil, DepositQROutput{}, ErrUserRequired
	}

	infos, err := s.wallets.ListWallets(ctx, input.UserID)
	if err != nil {
		return nil, DepositQROutput{}, toolError(err)
	}

	var target *wallet.WalletInfo
	for i := range infos {
		if (input.WalletID == "" && infos[i].IsActive) || infos[i].ID == input.WalletID {
			target = &infos[i]
			break
		}
	}
	if target == nil {
		return nil, DepositQROutput{}, errors.New("Wallet not found")
	}

	png, err := disclosure.AddressQRCode(target.Address.Hex())
	if err != nil {
		return nil, DepositQROutput{}, err
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: target.Address.Hex()},
			&mcp.ImageContent{Data: png, MIMEType: "image/png"},
		},
	}
	return result, DepositQROutput{WalletID: target.ID, Address: target.Address.Hex()}, nil
}

// handleAuditVerify handles the audit_verify tool call.
func (s *Server) handleAuditVerify(_ context.Context, _ *mcp.CallToolRequest, _ AuditVerifyInput) (*mcp.CallToolResult, AuditVerifyOutput, error) {
	res, err := s.audit.Verify()
	if err != nil {
		return nil, AuditVerifyOutput{}, fmt.Errorf("failed to verify audit log: %w", err)
	}
	return nil, AuditVerifyOutput{
		Valid:           res.Valid,
		RecordsTotal:    res.RecordsTotal,
		RecordsVerified: res.RecordsVerified,
		Errors:          res.Errors,
	}, nil
}

// toolError converts a wallet error into the text shown to the agent.
func toolError(err error) error {
	return errors.New(wallet.UserMessage(err))
}
