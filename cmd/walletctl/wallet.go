package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/pkg/atomicfile"
	"github.com/forest6511/botwallet/pkg/disclosure"
	"github.com/forest6511/botwallet/pkg/wallet"
)

var (
	walletID   string
	listJSON   bool
	verifyJSON bool
	qrOutput   string
)

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(qrCmd)

	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output in JSON format")
	qrCmd.Flags().StringVar(&walletID, "wallet", "", "Wallet id (default: active wallet)")
	_ = qrCmd.RegisterFlagCompletionFunc("wallet", completeWalletIDs)
	qrCmd.Flags().StringVarP(&qrOutput, "output", "o", "", "PNG file to write (default: <address>.png)")
}

// createCmd creates a new wallet
var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new wallet",
	Long: `Create a new wallet with a fresh 12-word recovery phrase.

The recovery phrase is shown once. Write it down: it is the only way to
restore the wallet outside botwallet.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		ctx := cmd.Context()
		sc, done, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer done()

		w, err := sc.Wallets.CreateWallet(ctx, userID, name)
		if err != nil {
			return userError(err)
		}

		fmt.Printf("✓ Created wallet %q\n", w.Name)
		fmt.Printf("  ID:      %s\n", w.ID)
		fmt.Printf("  Address: %s\n", w.Address.Hex())
		fmt.Printf("  Balance: %s ETH\n\n", wallet.FormatEther(w.Balance))
		fmt.Fprintln(os.Stderr, disclosure.FormatSecret("Recovery phrase", w.Mnemonic, disclosure.Standard))
		return nil
	},
}

// listCmd lists the user's wallets
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List wallets with balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		ctx := cmd.Context()
		sc, done, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer done()

		infos, err := sc.Wallets.ListWallets(ctx, userID)
		if err != nil {
			return userError(err)
		}

		if listJSON {
			return printJSON(infos)
		}
		if len(infos) == 0 {
			fmt.Println("No wallets found")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "\tID\tNAME\tADDRESS\tBALANCE (ETH)")
		for _, w := range infos {
			marker := ""
			if w.IsActive {
				marker = "*"
			}
			balance := wallet.FormatEther(w.Balance)
			if !w.BalanceKnown {
				balance = "?"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, w.ID, w.Name, w.Address.Hex(), balance)
		}
		return tw.Flush()
	},
}

// renameCmd renames a wallet
var renameCmd = &cobra.Command{
	Use:               "rename <wallet-id> <name>",
	Short:             "Rename a wallet",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeWalletIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			if err := m.RenameWallet(ctx, userID, args[0], args[1]); err != nil {
				return userError(err)
			}
			fmt.Printf("✓ Renamed %s to %q\n", args[0], args[1])
			return nil
		})
	},
}

// activateCmd sets the active wallet
var activateCmd = &cobra.Command{
	Use:               "activate <wallet-id>",
	Short:             "Make a wallet the default for withdrawals and exports",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWalletIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			if err := m.SetActiveWallet(ctx, userID, args[0]); err != nil {
				return userError(err)
			}
			fmt.Printf("✓ Active wallet is now %s\n", args[0])
			return nil
		})
	},
}

// verifyCmd checks every wallet of the user
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that every wallet decrypts and can sign",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			report, err := m.VerifyWalletIntegrity(ctx, userID)
			if err != nil {
				return userError(err)
			}
			if verifyJSON {
				return printJSON(report)
			}

			for _, w := range report.Wallets {
				if w.OK {
					fmt.Printf("✓ %s (%s) %s\n", w.Name, w.ID, w.Address)
				} else {
					fmt.Printf("✗ %s (%s) %s: %s\n", w.Name, w.ID, w.Address, w.Error)
				}
			}
			if !report.Valid {
				return errors.New("wallet integrity check failed")
			}
			return nil
		})
	},
}

// qrCmd writes a deposit QR code
var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Write a PNG QR code of a wallet's deposit address",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			infos, err := m.ListWallets(ctx, userID)
			if err != nil {
				return userError(err)
			}
			var target *wallet.WalletInfo
			for i := range infos {
				if (walletID == "" && infos[i].IsActive) || infos[i].ID == walletID {
					target = &infos[i]
					break
				}
			}
			if target == nil {
				return errors.New("wallet not found")
			}

			png, err := disclosure.AddressQRCode(target.Address.Hex())
			if err != nil {
				return err
			}
			out := qrOutput
			if out == "" {
				out = target.Address.Hex() + ".png"
			}
			out, err = filepath.Abs(out)
			if err != nil {
				return fmt.Errorf("invalid output path: %w", err)
			}
			if err := atomicfile.WriteFile(out, png, 0644); err != nil {
				return err
			}
			fmt.Printf("✓ QR code for %s written to %s\n", target.Address.Hex(), out)
			return nil
		})
	},
}

// withWallets opens the services, runs fn and releases them.
func withWallets(ctx context.Context, fn func(ctx context.Context, m *wallet.Manager) error) error {
	if err := requireUser(); err != nil {
		return err
	}
	sc, done, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer done()
	return fn(ctx, sc.Wallets)
}

// userError replaces a wallet error with its user-facing text while
// keeping it matchable with errors.Is.
func userError(err error) error {
	return fmt.Errorf("%s: %w", wallet.UserMessage(err), err)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
