package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var walletCmd = &cobra.Command{
	Use:   "wallet [id]",
	Short: "show a wallet, or create one without id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return call(cmd, http.MethodGet, "/wallets/"+args[0]+"/", nil)
		}

		label, _ := cmd.Flags().GetString("label")
		return call(cmd, http.MethodPost, "/wallets", map[string]string{
			"label":      label,
			"passphrase": viper.GetString("passphrase"),
		})
	},
}

var addressCmd = &cobra.Command{
	Use:   "address <wallet>",
	Short: "create a receive or change address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, _ := cmd.Flags().GetUint32("chain")
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/addresses", map[string]uint32{"chain": chain})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <wallet>",
	Short: "unlock the signing session of a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/unlock", map[string]int64{
			"duration": int64(duration.Seconds()),
		})
	},
}

var freezeCmd = &cobra.Command{
	Use:   "freeze <wallet>",
	Short: "freeze a wallet, blocking every send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/freeze", map[string]int64{
			"duration": int64(duration.Seconds()),
		})
	},
}

func init() {
	rootCmd.AddCommand(walletCmd, addressCmd, unlockCmd, freezeCmd)

	walletCmd.Flags().String("label", "", "label of the new wallet")
	addressCmd.Flags().Uint32("chain", 0, "0 receive, 1 change")
	unlockCmd.Flags().Duration("duration", 0, "unlock duration, server default when zero")
	freezeCmd.Flags().Duration("duration", 0, "freeze duration, one hour when zero")
}
