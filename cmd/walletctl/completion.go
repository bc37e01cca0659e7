package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/internal/config"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(walletctl completion bash)

Zsh:
  $ walletctl completion zsh > ~/.zsh/completions/_walletctl

Fish:
  $ walletctl completion fish > ~/.config/fish/completions/walletctl.fish

PowerShell:
  PS> walletctl completion powershell >> $PROFILE

Dynamic completion (wallet ids):
  Set BOTWALLET_COMPLETION_ENABLED=1 to complete wallet ids of --user.
  Ids are read from the wallet index; no secret is needed.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// isDynamicCompletionEnabled checks if dynamic completion is opt-in enabled.
func isDynamicCompletionEnabled() bool {
	return os.Getenv("BOTWALLET_COMPLETION_ENABLED") == "1"
}

// completeWalletIDs completes wallet ids of --user from the index.
func completeWalletIDs(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if !isDynamicCompletionEnabled() || userID == "" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	c, err := config.Load()
	if err != nil || c.Store != config.StoreFile {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	store, err := walletstore.NewFileStore(c.WalletsRoot)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	idx, err := store.LoadIndex(userID)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return walletCompletions(idx, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// walletCompletions returns "id\tname" candidates with the given prefix.
func walletCompletions(idx *walletstore.Index, prefix string) []string {
	var out []string
	for _, w := range idx.Wallets {
		if strings.HasPrefix(w.ID, prefix) {
			out = append(out, w.ID+"\t"+w.Name)
		}
	}
	return out
}
