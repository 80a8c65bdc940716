package cmd

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sendOpt struct {
	to       string
	amount   string
	feeRate  int64
	approved bool
}

var sendCmd = &cobra.Command{
	Use:   "send <wallet>",
	Short: "send bitcoin to an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := sendBody()
		if err != nil {
			return err
		}

		body["approved"] = sendOpt.approved
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/sendmany", body)
	},
}

var transferOpt struct {
	traceID string
	url     string
	key     string
}

var transferCmd = &cobra.Command{
	Use:   "transfer <trace id> | transfer --wallet <wallet>",
	Short: "show a conditional transfer, or create one with --wallet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return call(cmd, http.MethodGet, "/transfers/"+args[0], nil)
		}

		walletID, _ := cmd.Flags().GetString("wallet")
		body, err := sendBody()
		if err != nil {
			return err
		}

		if transferOpt.traceID == "" {
			transferOpt.traceID = uuid.NewString()
		}

		body["trace_id"] = transferOpt.traceID
		body["condition"] = map[string]string{"url": transferOpt.url, "key": transferOpt.key}
		return call(cmd, http.MethodPost, "/wallets/"+walletID+"/transfers", body)
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <wallet>",
	Short: "merge unspents until target remain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt("target")
		maxInputs, _ := cmd.Flags().GetInt("max-inputs")
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/consolidate", map[string]any{
			"passphrase": viper.GetString("passphrase"),
			"target":     target,
			"max_inputs": maxInputs,
		})
	},
}

var fanOutCmd = &cobra.Command{
	Use:   "fanout <wallet>",
	Short: "split unspents into target near-equal ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt("target")
		return call(cmd, http.MethodPost, "/wallets/"+args[0]+"/fanout", map[string]any{
			"passphrase": viper.GetString("passphrase"),
			"target":     target,
		})
	},
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "estimate the fee rate in sat/kB",
	RunE: func(cmd *cobra.Command, args []string) error {
		blocks, _ := cmd.Flags().GetUint32("blocks")
		resp, err := client().R().
			SetContext(cmd.Context()).
			SetQueryParam("num_blocks", strconv.FormatUint(uint64(blocks), 10)).
			Get("/fees")
		if err != nil {
			return err
		}

		cmd.Println(resp.String())
		return nil
	},
}

func sendBody() (map[string]any, error) {
	amount, err := satoshis(sendOpt.amount)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"passphrase": viper.GetString("passphrase"),
		"recipients": []map[string]any{{"address": sendOpt.to, "amount": amount}},
	}

	if sendOpt.feeRate > 0 {
		body["fee_rate"] = sendOpt.feeRate
	}

	return body, nil
}

func init() {
	rootCmd.AddCommand(sendCmd, transferCmd, consolidateCmd, fanOutCmd, feesCmd)

	for _, c := range []*cobra.Command{sendCmd, transferCmd} {
		c.Flags().StringVar(&sendOpt.to, "to", "", "recipient address")
		c.Flags().StringVar(&sendOpt.amount, "amount", "0", "amount in BTC")
		c.Flags().Int64Var(&sendOpt.feeRate, "fee-rate", 0, "fee rate in sat/kB (optional)")
	}

	sendCmd.Flags().BoolVar(&sendOpt.approved, "approved", false, "pass rules that require approval")

	transferCmd.Flags().String("wallet", "", "wallet id")
	transferCmd.Flags().StringVar(&transferOpt.traceID, "trace", "", "trace id (optional)")
	transferCmd.Flags().StringVar(&transferOpt.url, "condition-url", "", "json document to watch")
	transferCmd.Flags().StringVar(&transferOpt.key, "condition-key", "", "name that satisfies the condition")

	consolidateCmd.Flags().Int("target", 1, "unspents to keep")
	consolidateCmd.Flags().Int("max-inputs", 0, "inputs per transaction, automatic when zero")
	fanOutCmd.Flags().Int("target", 0, "unspents wanted")
	feesCmd.Flags().Uint32("blocks", 1, "confirmation target in blocks")
}
