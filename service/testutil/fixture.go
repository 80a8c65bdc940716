// Package testutil builds funded multisig wallets over the in-memory stores.
package testutil

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/address"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/store/memory"
	"github.com/stretchr/testify/require"
)

const (
	Passphrase       = "user passphrase"
	ServerPassphrase = "server passphrase"
)

var (
	Params    = &chaincfg.RegressionNetParams
	StartTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

type Fixture struct {
	Clock     *clock.TestClock
	Wallets   core.WalletStore
	Keychains core.KeychainStore
	Addresses core.AddressStore
	Unspents  core.UnspentStore
	Policies  core.PolicyStore
	Transfers core.TransferStore

	AddressService *address.Service

	Wallet *core.Wallet
	// XPrvs are the wallet keys in keychain order: user, backup, server.
	XPrvs []*hdkeychain.ExtendedKey

	txs int
}

func New(t testing.TB) *Fixture {
	f := &Fixture{
		Clock:     clock.NewTestClock(StartTime),
		Wallets:   memory.NewWalletStore(),
		Keychains: memory.NewKeychainStore(),
		Addresses: memory.NewAddressStore(),
		Unspents:  memory.NewUnspentStore(),
		Policies:  memory.NewPolicyStore(),
		Transfers: memory.NewTransferStore(),
	}

	f.AddressService = address.New(f.Keychains, f.Addresses, Params, f.Clock)

	ctx := context.Background()
	wallet := &core.Wallet{
		ID:        "8a3d5c1e-34f2-4b7a-9a55-0d3f1a6e2b10",
		CreatedAt: StartTime,
		Label:     "test",
		M:         2,
	}

	kinds := []core.KeychainKind{core.KeychainUser, core.KeychainBackup, core.KeychainServer}
	for i, kind := range kinds {
		seed := bytes.Repeat([]byte{byte(i + 1)}, hdkeychain.RecommendedSeedLen)
		master, err := hdkeychain.NewMaster(seed, Params)
		require.NoError(t, err)

		xpub, err := master.Neuter()
		require.NoError(t, err)

		kc := &core.Keychain{
			ID:   xpub.String(),
			XPub: xpub.String(),
			Path: keychain.DefaultPath,
			Kind: kind,
		}

		switch kind {
		case core.KeychainUser:
			kc.EncryptedXPrv, err = keychain.Encrypt(Passphrase, master.String())
		case core.KeychainServer:
			kc.EncryptedXPrv, err = keychain.Encrypt(ServerPassphrase, master.String())
		}
		require.NoError(t, err)

		require.NoError(t, f.Keychains.Create(ctx, kc))
		wallet.Keychains = append(wallet.Keychains, kc.ID)
		f.XPrvs = append(f.XPrvs, master)
	}

	require.NoError(t, f.Wallets.Create(ctx, wallet))
	f.Wallet = wallet
	return f
}

// Fund adds one confirmed unspent per value, all paying a new receive
// address of the wallet.
func (f *Fixture) Fund(t testing.TB, values ...int64) []*core.Unspent {
	return f.FundWith(t, 6, values...)
}

func (f *Fixture) FundWith(t testing.TB, confirmations int64, values ...int64) []*core.Unspent {
	ctx := context.Background()
	addr, err := f.AddressService.Create(ctx, f.Wallet, core.ChainReceive)
	require.NoError(t, err)

	f.txs++
	unspents := make([]*core.Unspent, 0, len(values))
	for i, v := range values {
		unspents = append(unspents, &core.Unspent{
			WalletID:      f.Wallet.ID,
			CreatedAt:     f.Clock.Now(),
			TxHash:        fmt.Sprintf("%064x", f.txs),
			Vout:          uint32(i),
			Address:       addr.Address,
			Value:         v,
			Confirmations: confirmations,
			ChainPath:     addr.ChainPath(),
			RedeemScript:  addr.RedeemScript,
		})
	}

	require.NoError(t, f.Unspents.Save(ctx, unspents))
	return unspents
}

// Repeat returns n copies of value.
func Repeat(value int64, n int) []int64 {
	values := make([]int64, n)
	for i := range values {
		values[i] = value
	}

	return values
}

// ExternalAddress is a P2PKH regtest address outside the wallet.
func ExternalAddress(t testing.TB, i byte) string {
	seed := bytes.Repeat([]byte{0xa0 + i}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, Params)
	require.NoError(t, err)

	pub, err := master.ECPubKey()
	require.NoError(t, err)

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), Params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// Broadcaster records submitted transactions and answers with their hash.
type Broadcaster struct {
	mux       sync.Mutex
	submitted []*wire.MsgTx
	// Err, when set, fails every submission.
	Err error
}

func (b *Broadcaster) Submit(_ context.Context, txHex string) (string, error) {
	if b.Err != nil {
		return "", b.Err
	}

	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}

	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}

	b.mux.Lock()
	b.submitted = append(b.submitted, &msg)
	b.mux.Unlock()

	return msg.TxHash().String(), nil
}

func (b *Broadcaster) Submitted() []*wire.MsgTx {
	b.mux.Lock()
	defer b.mux.Unlock()

	return append([]*wire.MsgTx(nil), b.submitted...)
}
