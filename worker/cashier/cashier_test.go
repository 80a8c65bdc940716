package cashier

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/fee"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/multisig"
	"github.com/pandodao/btcvault/service/policy"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/pandodao/btcvault/service/transfer"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/pandodao/btcvault/service/wallet"
	"github.com/pandodao/btcvault/service/webhook"
	"github.com/stretchr/testify/require"
)

type conditions struct {
	keys map[string]bool
	err  error
}

func (c *conditions) Satisfied(_ context.Context, cond core.Condition) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	return c.keys[cond.Key], nil
}

type harness struct {
	*testutil.Fixture
	wallets     *wallet.Service
	transfers   *transfer.Service
	broadcaster *testutil.Broadcaster
	conditions  *conditions
	cashier     *Cashier
}

func newHarness(t *testing.T) *harness {
	f := testutil.New(t)
	h := &harness{
		Fixture:     f,
		broadcaster: &testutil.Broadcaster{},
		conditions:  &conditions{keys: map[string]bool{}},
	}

	h.wallets = wallet.New(
		f.Wallets,
		f.Unspents,
		keychain.New(f.Keychains, testutil.Params),
		f.AddressService,
		txbuilder.New(fee.NewStatic(map[uint32]int64{1: 20000}, fee.DefaultCeiling), selector.New(f.Unspents), f.AddressService, testutil.Params),
		multisig.New(testutil.Params),
		policy.New(f.Wallets, f.Policies, webhook.New(time.Second), f.Clock),
		h.broadcaster,
		f.Clock,
		slog.Default(),
		wallet.Config{ServerPassphrase: testutil.ServerPassphrase},
	)

	h.transfers = transfer.New(f.Transfers, h.wallets, f.Clock)
	h.cashier = New(f.Transfers, h.conditions, h.wallets, slog.Default())
	return h
}

func (h *harness) create(t *testing.T, key string, amount int64) *core.Transfer {
	sess := session.New(h.Clock, testutil.Params)
	sess.Unlock(0)

	tr, err := h.transfers.Create(context.Background(), sess, h.Wallet, uuid.NewString(), &core.SendRequest{
		Recipients: []*core.Recipient{{Address: testutil.ExternalAddress(t, 1), Amount: amount}},
		Passphrase: testutil.Passphrase,
	}, core.Condition{URL: "https://example.com/names", Key: key})
	require.NoError(t, err)
	return tr
}

func (h *harness) status(t *testing.T, tr *core.Transfer) *core.Transfer {
	found, err := h.transfers.Find(context.Background(), tr.TraceID)
	require.NoError(t, err)
	return found
}

func TestCashierRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 1e8)

	tr := h.create(t, "alice", 1e7)

	// not yet satisfied
	require.NoError(t, h.cashier.run(ctx))
	require.Equal(t, core.TransferStatusPending, h.status(t, tr).Status)
	require.Empty(t, h.broadcaster.Submitted())

	h.conditions.keys["alice"] = true
	require.NoError(t, h.cashier.run(ctx))

	handled := h.status(t, tr)
	require.Equal(t, core.TransferStatusHandled, handled.Status)
	require.Len(t, h.broadcaster.Submitted(), 1)
	require.Equal(t, h.broadcaster.Submitted()[0].TxHash().String(), handled.TxHash)

	require.Error(t, h.cashier.run(ctx), "no pending transfers left")
}

func TestCashierPolicyDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 1e8)

	tr := h.create(t, "bob", 1e7)
	require.NoError(t, h.wallets.SetPolicyRule(ctx, h.Wallet, &core.PolicyRule{
		ID:        "limit",
		Type:      core.PolicyDailyLimit,
		Condition: core.PolicyCondition{Amount: 1e6},
		Action:    core.PolicyActionDeny,
	}))

	h.conditions.keys["bob"] = true
	require.NoError(t, h.cashier.run(ctx))

	failed := h.status(t, tr)
	require.Equal(t, core.TransferStatusFailed, failed.Status)
	require.Contains(t, failed.Error, "policy denied")
	require.Empty(t, h.broadcaster.Submitted())
}

func TestCashierTransientFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.Fund(t, 1e8)

	tr := h.create(t, "carol", 1e7)
	h.conditions.keys["carol"] = true
	h.broadcaster.Err = errors.New("connection reset")

	require.ErrorIs(t, h.cashier.run(ctx), h.broadcaster.Err)
	require.Equal(t, core.TransferStatusPending, h.status(t, tr).Status)

	h.broadcaster.Err = nil
	require.NoError(t, h.cashier.run(ctx))
	require.Equal(t, core.TransferStatusHandled, h.status(t, tr).Status)
}

func TestCashierConditionError(t *testing.T) {
	h := newHarness(t)
	h.Fund(t, 1e8)

	tr := h.create(t, "dave", 1e7)
	h.conditions.err = errors.New("status 502")

	require.ErrorIs(t, h.cashier.run(context.Background()), h.conditions.err)
	require.Equal(t, core.TransferStatusPending, h.status(t, tr).Status)
}

func Test_permanent(t *testing.T) {
	require.True(t, permanent(core.ValidationError("bad")))
	require.True(t, permanent(&core.PolicyDeniedError{Reason: "frozen"}))
	require.False(t, permanent(errors.New("timeout")))
	require.False(t, permanent(context.DeadlineExceeded))
}
