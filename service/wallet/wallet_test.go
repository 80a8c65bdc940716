package wallet

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/fee"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/multisig"
	"github.com/pandodao/btcvault/service/policy"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/pandodao/btcvault/service/webhook"
	"github.com/stretchr/testify/require"
)

const btc = int64(1e8)

type harness struct {
	*testutil.Fixture
	service     *Service
	broadcaster *testutil.Broadcaster
	session     *session.Session
	builder     *txbuilder.Builder
}

func newHarness(t *testing.T) *harness {
	f := testutil.New(t)
	h := &harness{
		Fixture:     f,
		broadcaster: &testutil.Broadcaster{},
		session:     session.New(f.Clock, testutil.Params),
		builder: txbuilder.New(
			fee.NewStatic(map[uint32]int64{1: 20000}, fee.DefaultCeiling),
			selector.New(f.Unspents),
			f.AddressService,
			testutil.Params,
		),
	}

	h.service = New(
		f.Wallets,
		f.Unspents,
		keychain.New(f.Keychains, testutil.Params),
		f.AddressService,
		h.builder,
		multisig.New(testutil.Params),
		policy.New(f.Wallets, f.Policies, webhook.New(time.Second), f.Clock),
		h.broadcaster,
		f.Clock,
		slog.Default(),
		Config{ServerPassphrase: testutil.ServerPassphrase},
	)

	return h
}

func (h *harness) request(t *testing.T, amount int64) *core.SendRequest {
	return &core.SendRequest{
		Recipients: []*core.Recipient{{Address: testutil.ExternalAddress(t, 1), Amount: amount}},
		Passphrase: testutil.Passphrase,
	}
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.service.Create(ctx, "empty", "")
	require.True(t, errors.Is(err, core.ErrValidation))

	wallet, backupXPrv, err := h.service.Create(ctx, "savings", "correct horse")
	require.NoError(t, err)
	require.Equal(t, 2, wallet.M)
	require.Len(t, wallet.Keychains, 3)
	require.Equal(t, testutil.StartTime, wallet.CreatedAt)

	kinds := []core.KeychainKind{core.KeychainUser, core.KeychainBackup, core.KeychainServer}
	for i, id := range wallet.Keychains {
		kc, err := h.Keychains.Find(ctx, id)
		require.NoError(t, err)
		require.Equal(t, kinds[i], kc.Kind)

		if kc.Kind == core.KeychainBackup {
			require.Empty(t, kc.EncryptedXPrv)

			key, err := hdkeychain.NewKeyFromString(backupXPrv)
			require.NoError(t, err)
			pub, err := key.Neuter()
			require.NoError(t, err)
			require.Equal(t, kc.XPub, pub.String())
		} else {
			require.NotEmpty(t, kc.EncryptedXPrv)
		}
	}

	first, err := h.service.CreateAddress(ctx, wallet, core.ChainReceive)
	require.NoError(t, err)
	second, err := h.service.CreateAddress(ctx, wallet, core.ChainReceive)
	require.NoError(t, err)
	require.Equal(t, uint32(0), first.Index)
	require.Equal(t, uint32(1), second.Index)
	require.NotEqual(t, first.Address, second.Address)

	_, err = h.service.CreateAddress(ctx, wallet, 7)
	require.True(t, errors.Is(err, core.ErrValidation))
}

func TestSendMany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 2*btc)
	h.session.Unlock(0)

	result, err := h.service.SendMany(ctx, h.session, h.Wallet, h.request(t, btc))
	require.NoError(t, err)
	require.Equal(t, core.SendAccepted, result.Status)
	require.Positive(t, result.Fee)

	submitted := h.broadcaster.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, submitted[0].TxHash().String(), result.TxHash)

	signed, err := multisig.New(testutil.Params).Verify(result.Hex, result.Unspents)
	require.NoError(t, err)
	require.Equal(t, core.SignatureFullySigned, signed.State)

	balance, err := h.service.Balance(ctx, h.Wallet)
	require.NoError(t, err)
	require.Zero(t, balance.Count)

	spent, err := h.Policies.SumSpent(ctx, h.Wallet.ID, testutil.StartTime.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, btc, spent)
}

func TestSendManyRejected(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *harness, req *core.SendRequest)
		err     error
	}{
		{
			name:    "locked session",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) { h.session.Lock() },
			err:     core.ErrNotAuthorized,
		},
		{
			name: "expired session",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) {
				h.Clock.SetTime(testutil.StartTime.Add(session.DefaultUnlock))
			},
			err: core.ErrNotAuthorized,
		},
		{
			name: "frozen",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) {
				_, err := h.service.Freeze(context.Background(), h.Wallet, 0)
				require.NoError(t, err)
			},
			err: core.ErrPolicyDenied,
		},
		{
			name:    "wrong passphrase",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) { req.Passphrase = "guess" },
			err:     core.ErrDecryptionFailure,
		},
		{
			name: "backup xprv",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) {
				req.Passphrase, req.XPrv = "", h.XPrvs[1].String()
			},
			err: core.ErrValidation,
		},
		{
			name:    "no recipients",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) { req.Recipients = nil },
			err:     core.ErrValidation,
		},
		{
			name:    "too much",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) { req.Recipients[0].Amount = 3 * btc },
			err:     core.ErrInsufficientFunds,
		},
		{
			name: "daily limit",
			prepare: func(t *testing.T, h *harness, req *core.SendRequest) {
				require.NoError(t, h.service.SetPolicyRule(context.Background(), h.Wallet, &core.PolicyRule{
					ID:        "limit",
					Type:      core.PolicyDailyLimit,
					Condition: core.PolicyCondition{Amount: btc / 2},
					Action:    core.PolicyActionDeny,
				}))
			},
			err: core.ErrPolicyDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.Fund(t, 2*btc)
			h.session.Unlock(0)

			req := h.request(t, btc)
			tt.prepare(t, h, req)

			_, err := h.service.SendMany(context.Background(), h.session, h.Wallet, req)
			require.True(t, errors.Is(err, tt.err), "got %v", err)
			require.Empty(t, h.broadcaster.Submitted())

			balance, err := h.service.Balance(context.Background(), h.Wallet)
			require.NoError(t, err)
			require.Equal(t, 2*btc, balance.Amount)
		})
	}
}

func TestSendTransactionApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 2*btc)
	h.session.Unlock(0)

	require.NoError(t, h.service.SetPolicyRule(ctx, h.Wallet, &core.PolicyRule{
		ID:        "review",
		Type:      core.PolicyDailyLimit,
		Condition: core.PolicyCondition{Amount: 1000},
		Action:    core.PolicyActionRequireApproval,
	}))

	tx, signed, err := h.service.Build(ctx, h.session, h.Wallet, h.request(t, btc))
	require.NoError(t, err)
	require.Equal(t, core.SignaturePartiallySigned, signed.State)

	pending, err := h.service.SendTransaction(ctx, h.Wallet, tx, false)
	require.NoError(t, err)
	require.Equal(t, core.SendPendingApproval, pending.Status)
	require.Empty(t, pending.TxHash)
	require.Empty(t, h.broadcaster.Submitted())

	accepted, err := h.service.SendTransaction(ctx, h.Wallet, tx, true)
	require.NoError(t, err)
	require.Equal(t, core.SendAccepted, accepted.Status)
	require.NotEmpty(t, accepted.TxHash)
	require.Len(t, h.broadcaster.Submitted(), 1)
}

func TestSendTransactionUnsigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 2*btc)

	tx, err := h.builder.Create(ctx, h.Wallet, h.request(t, btc).Recipients, core.TxOptions{
		FeeOptions: core.FeeOptions{Fee: fn.Some[int64](10000)},
	})
	require.NoError(t, err)

	_, err = h.service.SendTransaction(ctx, h.Wallet, tx, false)
	require.True(t, errors.Is(err, core.ErrInsufficientSignatures))
	require.Empty(t, h.broadcaster.Submitted())
}

func TestSendTransactionBroadcastFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 2*btc)
	h.session.Unlock(0)
	h.broadcaster.Err = errors.New("bad-txns-inputs-missingorspent")

	_, err := h.service.SendMany(ctx, h.session, h.Wallet, h.request(t, btc))
	require.ErrorIs(t, err, h.broadcaster.Err)

	balance, err := h.service.Balance(ctx, h.Wallet)
	require.NoError(t, err)
	require.Equal(t, 1, balance.Count)
}

func TestInspect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 2*btc)
	h.session.Unlock(0)

	built, _, err := h.service.Build(ctx, h.session, h.Wallet, h.request(t, btc))
	require.NoError(t, err)

	tx, err := h.service.Inspect(ctx, h.Wallet, built.Hex)
	require.NoError(t, err)
	require.Equal(t, built.SendAmount, tx.SendAmount)
	require.Equal(t, built.Fee, tx.Fee)
	require.Len(t, tx.Unspents, len(built.Unspents))
	require.Len(t, tx.Changes, len(built.Changes))
	require.Len(t, tx.Outputs, 1)

	result, err := h.service.SendTransaction(ctx, h.Wallet, tx, false)
	require.NoError(t, err)
	require.Equal(t, core.SendAccepted, result.Status)

	// the inputs are gone once broadcast
	_, err = h.service.Inspect(ctx, h.Wallet, built.Hex)
	require.True(t, errors.Is(err, core.ErrValidation), "got %v", err)

	_, err = h.service.Inspect(ctx, h.Wallet, "zz")
	require.True(t, errors.Is(err, core.ErrValidation), "got %v", err)
}
