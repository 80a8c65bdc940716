package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "btcvault-cli",
	Short: "command line client of the btcvault api",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("endpoint", "l", "http://localhost:8080/api", "api endpoint")
	rootCmd.PersistentFlags().String("passphrase", "", "user passphrase (or BTCVAULT_PASSPHRASE)")
	_ = viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	_ = viper.BindPFlag("passphrase", rootCmd.PersistentFlags().Lookup("passphrase"))

	viper.SetEnvPrefix("btcvault")
	viper.AutomaticEnv()
}

func client() *resty.Client {
	return resty.New().
		SetBaseURL(viper.GetString("endpoint")).
		SetTimeout(5 * time.Minute).
		SetHeader("Content-Type", "application/json")
}

// call sends body to path and prints the response.
func call(cmd *cobra.Command, method, path string, body any) error {
	req := client().R().SetContext(cmd.Context())
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	var v any
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &v); err != nil {
			return fmt.Errorf("%s: %s", resp.Status(), resp.String())
		}
	}

	if resp.IsError() {
		_ = printJson(cmd, v)
		return fmt.Errorf("request failed: %s", resp.Status())
	}

	return printJson(cmd, v)
}

func printJson(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	cmd.Println(string(b))
	return nil
}

// satoshis parses a BTC amount.
func satoshis(btc string) (int64, error) {
	d, err := decimal.NewFromString(btc)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", btc)
	}

	sats := d.Shift(8)
	if !sats.IsInteger() || !sats.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive with at most 8 decimals", btc)
	}

	return sats.IntPart(), nil
}
