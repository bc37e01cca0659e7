package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/pkg/disclosure"
	"github.com/forest6511/botwallet/pkg/wallet"
)

var (
	exportWallet string
	exportYes    bool
)

func init() {
	rootCmd.AddCommand(exportKeyCmd)
	rootCmd.AddCommand(exportMnemonicCmd)

	for _, c := range []*cobra.Command{exportKeyCmd, exportMnemonicCmd} {
		c.Flags().StringVar(&exportWallet, "wallet", "", "Wallet id (default: active wallet)")
		_ = c.RegisterFlagCompletionFunc("wallet", completeWalletIDs)
		c.Flags().BoolVarP(&exportYes, "yes", "y", false, "Skip the confirmation prompt")
	}
}

// exportKeyCmd prints a wallet's private key
var exportKeyCmd = &cobra.Command{
	Use:   "export-key",
	Short: "Print a wallet's private key",
	Long: `Print a wallet's private key as 0x-prefixed hex.

Anyone holding the key controls the funds. Exports are rate limited and
recorded in the audit log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm(os.Stdin, "This prints the PRIVATE KEY to the terminal. Continue?") {
			fmt.Println("Aborted")
			return nil
		}
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			key, err := m.ExportPrivateKey(ctx, userID, exportWallet)
			if err != nil {
				return userError(err)
			}
			fmt.Println(disclosure.FormatSecret("Private key", key, disclosure.Standard))
			return nil
		})
	},
}

// exportMnemonicCmd prints a wallet's recovery phrase
var exportMnemonicCmd = &cobra.Command{
	Use:   "export-mnemonic",
	Short: "Print a wallet's recovery phrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm(os.Stdin, "This prints the RECOVERY PHRASE to the terminal. Continue?") {
			fmt.Println("Aborted")
			return nil
		}
		return withWallets(cmd.Context(), func(ctx context.Context, m *wallet.Manager) error {
			phrase, ok, err := m.ExportMnemonic(ctx, userID, exportWallet)
			if err != nil {
				return userError(err)
			}
			if !ok {
				fmt.Println("This wallet was created before recovery phrases were stored. Use export-key instead.")
				return nil
			}
			fmt.Println(disclosure.FormatSecret("Recovery phrase", phrase, disclosure.Standard))
			return nil
		})
	},
}

// confirm asks a yes/no question unless --yes was given. Anything but
// y or yes is a no.
func confirm(in io.Reader, question string) bool {
	if exportYes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
