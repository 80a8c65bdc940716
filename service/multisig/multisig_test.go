package multisig

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/fee"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/stretchr/testify/require"
)

const btc = int64(1e8)

func unsignedTx(t *testing.T, f *testutil.Fixture) *core.UnsignedTransaction {
	f.Fund(t, btc, 2*btc)
	f.Fund(t, 3*btc)

	b := txbuilder.New(fee.NewStatic(map[uint32]int64{1: 10000}, fee.DefaultCeiling), selector.New(f.Unspents), f.AddressService, testutil.Params)
	tx, err := b.Create(context.Background(), f.Wallet, []*core.Recipient{
		{Address: testutil.ExternalAddress(t, 1), Amount: 5 * btc},
	}, core.TxOptions{FeeOptions: core.FeeOptions{Fee: fn.Some[int64](20000)}})
	require.NoError(t, err)
	require.Len(t, tx.Unspents, 3)
	return tx
}

func TestSignRoundTrip(t *testing.T) {
	f := testutil.New(t)
	tx := unsignedTx(t, f)
	s := New(testutil.Params)
	user, backup, server := f.XPrvs[0], f.XPrvs[1], f.XPrvs[2]

	unsigned, err := s.Verify(tx.Hex, tx.Unspents)
	require.NoError(t, err)
	require.Equal(t, core.SignatureUnsigned, unsigned.State)
	require.Zero(t, unsigned.Signatures)

	half, err := s.Sign(tx.Hex, tx.Unspents, user, keychain.DefaultPath, true)
	require.NoError(t, err)
	require.Equal(t, core.SignaturePartiallySigned, half.State)
	require.Equal(t, 1, half.Signatures)
	require.Greater(t, len(half.Hex), len(tx.Hex))

	again, err := s.Sign(half.Hex, tx.Unspents, user, keychain.DefaultPath, true)
	require.NoError(t, err)
	require.Equal(t, half.Hex, again.Hex, "signing twice with one key changes nothing")

	full, err := s.Sign(half.Hex, tx.Unspents, server, keychain.DefaultPath, true)
	require.NoError(t, err)
	require.Equal(t, core.SignatureFullySigned, full.State)
	require.Equal(t, 2, full.Signatures)

	extra, err := s.Sign(full.Hex, tx.Unspents, backup, keychain.DefaultPath, true)
	require.NoError(t, err)
	require.Equal(t, full.Hex, extra.Hex, "a complete input takes no more signatures")
}

func TestSignOrderIndependent(t *testing.T) {
	f := testutil.New(t)
	tx := unsignedTx(t, f)
	s := New(testutil.Params)

	// the server key comes last in the redeem script but signs first
	first, err := s.Sign(tx.Hex, tx.Unspents, f.XPrvs[2], keychain.DefaultPath, false)
	require.NoError(t, err)

	second, err := s.Sign(first.Hex, tx.Unspents, f.XPrvs[1], keychain.DefaultPath, true)
	require.NoError(t, err)
	require.Equal(t, core.SignatureFullySigned, second.State)
}

func TestSignRejectsForeignKey(t *testing.T) {
	f := testutil.New(t)
	tx := unsignedTx(t, f)
	s := New(testutil.Params)

	other, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x55}, hdkeychain.RecommendedSeedLen), testutil.Params)
	require.NoError(t, err)

	_, err = s.Sign(tx.Hex, tx.Unspents, other, keychain.DefaultPath, false)
	require.True(t, errors.Is(err, core.ErrValidation))

	xpub, err := f.XPrvs[0].Neuter()
	require.NoError(t, err)
	_, err = s.Sign(tx.Hex, tx.Unspents, xpub, keychain.DefaultPath, false)
	require.True(t, errors.Is(err, core.ErrValidation))
}

func TestVerifyTampered(t *testing.T) {
	f := testutil.New(t)
	tx := unsignedTx(t, f)
	s := New(testutil.Params)

	signed, err := s.Sign(tx.Hex, tx.Unspents, f.XPrvs[0], keychain.DefaultPath, false)
	require.NoError(t, err)

	raw, err := hex.DecodeString(signed.Hex)
	require.NoError(t, err)

	var msg wire.MsgTx
	require.NoError(t, msg.Deserialize(bytes.NewReader(raw)))
	msg.TxOut[0].Value--

	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))

	_, err = s.Verify(hex.EncodeToString(buf.Bytes()), tx.Unspents)
	require.True(t, errors.Is(err, core.ErrSignatureInvalid))
}

func TestVerifyMismatchedUnspents(t *testing.T) {
	f := testutil.New(t)
	tx := unsignedTx(t, f)
	s := New(testutil.Params)

	_, err := s.Verify(tx.Hex, tx.Unspents[:2])
	require.True(t, errors.Is(err, core.ErrValidation))

	reversed := []*core.Unspent{tx.Unspents[2], tx.Unspents[1], tx.Unspents[0]}
	_, err = s.Verify(tx.Hex, reversed)
	require.True(t, errors.Is(err, core.ErrValidation))

	_, err = s.Verify("not hex", tx.Unspents)
	require.True(t, errors.Is(err, core.ErrValidation))
}
