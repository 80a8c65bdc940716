// Package cmds holds the operator commands run against the vault database.
package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/generic"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type Cmd struct {
	Wallets    core.WalletStore
	Addresses  core.AddressStore
	Unspents   core.UnspentStore
	Properties core.PropertyStore
}

func (c *Cmd) Run(ctx context.Context, args []string) error {
	root := c.command()
	root.SetArgs(args)
	root.SetOut(os.Stdout)

	return root.ExecuteContext(ctx)
}

func (c *Cmd) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "btcvault-worker",
		Short: "btcvault operator commands",
	}

	root.AddCommand(c.listWalletsCmd())
	root.AddCommand(c.showWalletCmd())
	root.AddCommand(c.listAddressesCmd())
	root.AddCommand(c.listUnspentsCmd())
	root.AddCommand(c.syncStatusCmd())
	return root
}

type walletView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Policy    string    `json:"policy"`
	Frozen    bool      `json:"frozen,omitempty"`
	Balance   string    `json:"balance,omitempty"`
	Unspents  int       `json:"unspents,omitempty"`
}

func viewWallet(wallet *core.Wallet) *walletView {
	return &walletView{
		ID:        wallet.ID,
		Label:     wallet.Label,
		CreatedAt: wallet.CreatedAt,
		Policy:    policyOf(wallet),
		Frozen:    wallet.Freeze.Active(time.Now()),
	}
}

func policyOf(wallet *core.Wallet) string {
	return fmt.Sprintf("%d-of-%d", wallet.M, len(wallet.Keychains))
}

func btc(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

func (c *Cmd) listWalletsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-wallets",
		Short: "list all wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallets, err := c.Wallets.List(cmd.Context())
			if err != nil {
				return err
			}

			return jsonPrint(cmd, generic.MapSlice(wallets, viewWallet))
		},
	}
}

func (c *Cmd) showWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-wallet <wallet_id>",
		Short: "show a wallet with its stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wallet, err := c.Wallets.Find(ctx, args[0])
			if err != nil {
				return err
			}

			balance, err := c.Unspents.SumBalance(ctx, wallet.ID)
			if err != nil {
				return err
			}

			view := viewWallet(wallet)
			view.Balance = btc(balance.Amount)
			view.Unspents = balance.Count
			return jsonPrint(cmd, view)
		},
	}
}

func (c *Cmd) listAddressesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-addresses <wallet_id>",
		Short: "list derived addresses of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addresses, err := c.Addresses.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			type view struct {
				Address string `json:"address"`
				Path    string `json:"path"`
			}

			return jsonPrint(cmd, generic.MapSlice(addresses, func(a *core.Address) view {
				return view{Address: a.Address, Path: a.ChainPath()}
			}))
		},
	}
}

func (c *Cmd) listUnspentsCmd() *cobra.Command {
	var filter core.UnspentFilter

	cmd := &cobra.Command{
		Use:   "list-unspents <wallet_id>",
		Short: "list stored unspents of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unspents, err := c.Unspents.List(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}

			type view struct {
				Outpoint      string `json:"outpoint"`
				Address       string `json:"address"`
				Value         string `json:"value"`
				Confirmations int64  `json:"confirmations"`
			}

			return jsonPrint(cmd, generic.MapSlice(unspents, func(u *core.Unspent) view {
				return view{
					Outpoint:      u.Outpoint(),
					Address:       u.Address,
					Value:         btc(u.Value),
					Confirmations: u.Confirmations,
				}
			}))
		},
	}

	cmd.Flags().Int64Var(&filter.MinConfirms, "min-confirms", 0, "minimum confirmations")
	cmd.Flags().Int64Var(&filter.MinSize, "min-size", 0, "minimum value in satoshis")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of unspents")
	return cmd
}

func (c *Cmd) syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status",
		Short: "show when the syncer last completed a pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			var syncedAt time.Time
			if err := c.Properties.Get(cmd.Context(), "synced_at", &syncedAt); err != nil {
				return err
			}

			return jsonPrint(cmd, map[string]any{
				"synced_at": syncedAt,
				"behind":    time.Since(syncedAt).Round(time.Second).String(),
			})
		},
	}
}

func jsonPrint(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
