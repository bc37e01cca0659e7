package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/pkg/wallet"
)

var (
	withdrawWallet string
	withdrawWait   bool
)

func init() {
	rootCmd.AddCommand(withdrawCmd)

	withdrawCmd.Flags().StringVar(&withdrawWallet, "wallet", "", "Wallet id to send from (default: active wallet)")
	_ = withdrawCmd.RegisterFlagCompletionFunc("wallet", completeWalletIDs)
	withdrawCmd.Flags().BoolVar(&withdrawWait, "wait", true, "Wait for confirmation")
}

// withdrawCmd sends ether to an external address
var withdrawCmd = &cobra.Command{
	Use:   "withdraw <address> <amount-eth>",
	Short: "Send ether from a wallet",
	Long: `Send ether from a wallet to an external address.

The amount is in ETH with up to 18 decimals, e.g. 0.05. The wallet must
hold the amount plus the maximum network fee.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := wallet.ParseAmount(args[1])
		if err != nil {
			return userError(err)
		}

		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			p, err := m.WithdrawFrom(ctx, userID, withdrawWallet, args[0], amount)
			if err != nil {
				return userError(err)
			}
			fmt.Printf("Submitted %s ETH to %s\n", wallet.FormatEther(p.Amount), p.To.Hex())
			fmt.Printf("  Tx:      %s\n", p.Hash.Hex())
			fmt.Printf("  Max fee: %s ETH\n", wallet.FormatEther(p.Fee))

			if !withdrawWait {
				return nil
			}
			receipt, err := p.Wait(ctx)
			if errors.Is(err, wallet.ErrNetworkTimeout) {
				fmt.Println(wallet.UserMessage(err))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("✓ Confirmed in block %s\n", receipt.BlockNumber)
			return nil
		})
	},
}
