package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/pandodao/btcvault/store/memory"
	"github.com/stretchr/testify/require"
)

type chain struct {
	unspents map[string][]*core.Unspent
	err      error
}

func (c *chain) ListUnspents(_ context.Context, address string) ([]*core.Unspent, error) {
	if c.err != nil {
		return nil, c.err
	}

	var out []*core.Unspent
	for _, u := range c.unspents[address] {
		v := *u
		out = append(out, &v)
	}

	return out, nil
}

func (c *chain) IsSpent(context.Context, *core.Unspent) (bool, error) {
	return false, nil
}

func TestSyncerRun(t *testing.T) {
	f := testutil.New(t)
	ctx := context.Background()

	receive, err := f.AddressService.Create(ctx, f.Wallet, core.ChainReceive)
	require.NoError(t, err)
	change, err := f.AddressService.Create(ctx, f.Wallet, core.ChainChange)
	require.NoError(t, err)

	c := &chain{unspents: map[string][]*core.Unspent{
		receive.Address: {
			{TxHash: fmt.Sprintf("%064x", 1), Vout: 0, Address: receive.Address, Value: 5000, Confirmations: 0},
			{TxHash: fmt.Sprintf("%064x", 2), Vout: 1, Address: receive.Address, Value: 7000, Confirmations: 3},
		},
		change.Address: {
			{TxHash: fmt.Sprintf("%064x", 3), Vout: 0, Address: change.Address, Value: 9000, Confirmations: 1},
		},
	}}

	properties := memory.NewPropertyStore()
	w := New(f.Wallets, f.Addresses, f.Unspents, c, properties, f.Clock, slog.Default())
	require.NoError(t, w.run(ctx))

	unspents, err := f.Unspents.List(ctx, f.Wallet.ID, core.UnspentFilter{})
	require.NoError(t, err)
	require.Len(t, unspents, 3)

	for _, u := range unspents {
		require.Equal(t, f.Wallet.ID, u.WalletID)
		switch u.Address {
		case receive.Address:
			require.Equal(t, receive.ChainPath(), u.ChainPath)
			require.Equal(t, receive.RedeemScript, u.RedeemScript)
		case change.Address:
			require.Equal(t, "/1/0", u.ChainPath)
			require.Equal(t, change.RedeemScript, u.RedeemScript)
		}
	}

	var syncedAt time.Time
	require.NoError(t, properties.Get(ctx, propertySyncedAt, &syncedAt))
	require.True(t, syncedAt.Equal(testutil.StartTime))

	// confirmations are refreshed on the next round
	c.unspents[receive.Address][0].Confirmations = 2
	require.NoError(t, w.run(ctx))

	confirmed, err := f.Unspents.List(ctx, f.Wallet.ID, core.UnspentFilter{MinConfirms: 1})
	require.NoError(t, err)
	require.Len(t, confirmed, 3)
}

func TestSyncerChainFailure(t *testing.T) {
	f := testutil.New(t)
	ctx := context.Background()

	_, err := f.AddressService.Create(ctx, f.Wallet, core.ChainReceive)
	require.NoError(t, err)

	c := &chain{err: errors.New("esplora down")}
	properties := memory.NewPropertyStore()
	w := New(f.Wallets, f.Addresses, f.Unspents, c, properties, f.Clock, slog.Default())
	require.ErrorIs(t, w.run(ctx), c.err)

	var syncedAt time.Time
	require.NoError(t, properties.Get(ctx, propertySyncedAt, &syncedAt))
	require.True(t, syncedAt.IsZero())
}
