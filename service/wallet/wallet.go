package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/address"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/multisig"
	"github.com/pandodao/btcvault/service/policy"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/pandodao/generic"
)

type Config struct {
	// ServerPassphrase decrypts the server keychain of every wallet.
	ServerPassphrase string `valid:"required"`
}

func New(
	wallets core.WalletStore,
	unspents core.UnspentStore,
	keychains *keychain.Service,
	addresses *address.Service,
	builder *txbuilder.Builder,
	signer *multisig.Signer,
	policies *policy.Service,
	broadcaster core.Broadcaster,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &Service{
		wallets:     wallets,
		unspents:    unspents,
		keychains:   keychains,
		addresses:   addresses,
		builder:     builder,
		signer:      signer,
		policies:    policies,
		broadcaster: broadcaster,
		clock:       clk,
		logger:      logger.With("service", "wallet"),
		serverKeys:  generic.Must(lru.New[string, *hdkeychain.ExtendedKey](256)),
		cfg:         cfg,
	}
}

type Service struct {
	wallets     core.WalletStore
	unspents    core.UnspentStore
	keychains   *keychain.Service
	addresses   *address.Service
	builder     *txbuilder.Builder
	signer      *multisig.Signer
	policies    *policy.Service
	broadcaster core.Broadcaster
	clock       clock.Clock
	logger      *slog.Logger
	serverKeys  *lru.Cache[string, *hdkeychain.ExtendedKey]
	cfg         Config
}

// Create sets up a 2-of-3 wallet. The backup xprv is returned once and
// never stored.
func (s *Service) Create(ctx context.Context, label, passphrase string) (*core.Wallet, string, error) {
	if passphrase == "" {
		return nil, "", core.ValidationError("passphrase is required")
	}

	user, _, err := s.keychains.Create(ctx, core.KeychainUser, passphrase)
	if err != nil {
		return nil, "", err
	}

	backup, backupXPrv, err := s.keychains.Create(ctx, core.KeychainBackup, "")
	if err != nil {
		return nil, "", err
	}

	server, _, err := s.keychains.Create(ctx, core.KeychainServer, s.cfg.ServerPassphrase)
	if err != nil {
		return nil, "", err
	}

	wallet := &core.Wallet{
		ID:        uuid.New().String(),
		CreatedAt: s.clock.Now(),
		Label:     label,
		M:         2,
		Keychains: []string{user.ID, backup.ID, server.ID},
	}

	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, "", err
	}

	return wallet, backupXPrv, nil
}

func (s *Service) Find(ctx context.Context, id string) (*core.Wallet, error) {
	return s.wallets.Find(ctx, id)
}

func (s *Service) CreateAddress(ctx context.Context, wallet *core.Wallet, chain uint32) (*core.Address, error) {
	if chain != core.ChainReceive && chain != core.ChainChange {
		return nil, core.ValidationError("invalid chain %d", chain)
	}

	return s.addresses.Create(ctx, wallet, chain)
}

func (s *Service) Balance(ctx context.Context, wallet *core.Wallet) (*core.Balance, error) {
	return s.unspents.SumBalance(ctx, wallet.ID)
}

// Build creates a transaction for req and signs it with the user key. The
// returned transaction carries the signed hex.
func (s *Service) Build(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *core.SendRequest) (*core.UnsignedTransaction, *core.SignedTransaction, error) {
	if err := sess.Authorize(); err != nil {
		return nil, nil, err
	}

	kc, err := s.keychain(ctx, wallet, core.KeychainUser)
	if err != nil {
		return nil, nil, err
	}

	key, err := sess.SigningKey(kc, req.Passphrase, req.XPrv)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.builder.Create(ctx, wallet, req.Recipients, req.Options)
	if err != nil {
		return nil, nil, err
	}

	signed, err := s.signer.Sign(tx.Hex, tx.Unspents, key, kc.Path, true)
	if err != nil {
		return nil, nil, err
	}

	tx.Hex = signed.Hex
	return tx, signed, nil
}

func (s *Service) SendMany(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *core.SendRequest) (*core.SendResult, error) {
	if len(req.Recipients) == 0 {
		return nil, core.ValidationError("at least one recipient is required")
	}

	if wallet.Freeze.Active(s.clock.Now()) {
		policyDenials.WithLabelValues("freeze").Inc()
		return nil, &core.PolicyDeniedError{Reason: "wallet is frozen"}
	}

	tx, _, err := s.Build(ctx, sess, wallet, req)
	if err != nil {
		return nil, err
	}

	return s.SendTransaction(ctx, wallet, tx, req.Approved)
}

// SendTransaction co-signs tx.Hex, which must already carry all but one of
// the required signatures, and broadcasts it once the policy gate passes.
// A rule asking for approval leaves the transaction unsent.
func (s *Service) SendTransaction(ctx context.Context, wallet *core.Wallet, tx *core.UnsignedTransaction, approved bool) (*core.SendResult, error) {
	logger := s.logger.With("wallet", wallet.ID)

	signed, err := s.signer.Verify(tx.Hex, tx.Unspents)
	if err != nil {
		return nil, err
	}

	if signed.Signatures < wallet.M-1 {
		return nil, fmt.Errorf("%w: %d of %d", core.ErrInsufficientSignatures, signed.Signatures, wallet.M-1)
	}

	result := &core.SendResult{
		Status:   core.SendAccepted,
		Hex:      signed.Hex,
		Fee:      tx.Fee,
		FeeRate:  tx.FeeRate,
		Unspents: tx.Unspents,
	}

	if err := s.policies.Check(ctx, wallet, tx, approved); err != nil {
		var denied *core.PolicyDeniedError
		if errors.As(err, &denied) {
			if denied.NeedsApproval {
				policyDenials.WithLabelValues("approval").Inc()
				sendsTotal.WithLabelValues(string(core.SendPendingApproval)).Inc()
				logger.Info("send pending approval", "rule", denied.RuleID)
				result.Status = core.SendPendingApproval
				return result, nil
			}

			policyDenials.WithLabelValues(denialReason(denied)).Inc()
		}

		logger.Error("policies.Check", "err", err)
		return nil, err
	}

	kc, err := s.keychain(ctx, wallet, core.KeychainServer)
	if err != nil {
		return nil, err
	}

	key, err := s.serverKey(kc)
	if err != nil {
		logger.Error("serverKey", "err", err)
		return nil, err
	}

	if signed, err = s.signer.Sign(signed.Hex, tx.Unspents, key, kc.Path, true); err != nil {
		logger.Error("signer.Sign", "err", err)
		return nil, err
	}

	if signed.Signatures < wallet.M {
		return nil, fmt.Errorf("%w: %d of %d", core.ErrInsufficientSignatures, signed.Signatures, wallet.M)
	}

	hash, err := s.broadcaster.Submit(ctx, signed.Hex)
	if err != nil {
		sendsTotal.WithLabelValues("failed").Inc()
		logger.Error("broadcaster.Submit", "err", err)
		return nil, err
	}

	sendsTotal.WithLabelValues(string(core.SendAccepted)).Inc()
	logger.Info("transaction sent", "hash", hash, "amount", tx.SendAmount, "fee", tx.Fee)

	// the transaction is out; bookkeeping failures are only logged
	if err := s.unspents.Delete(ctx, tx.Unspents); err != nil {
		logger.Error("unspents.Delete", "err", err)
	}

	if err := s.policies.RecordSpend(ctx, wallet, hash, tx.SendAmount); err != nil {
		logger.Error("policies.RecordSpend", "err", err)
	}

	result.TxHash = hash
	result.Hex = signed.Hex
	return result, nil
}

// Inspect rebuilds the wallet side of a transaction from its hex: inputs
// must be spendable unspents of wallet, outputs paying wallet addresses
// count as change. Amounts always come from the stores.
func (s *Service) Inspect(ctx context.Context, wallet *core.Wallet, txHex string) (*core.UnsignedTransaction, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, core.ValidationError("transaction hex is malformed")
	}

	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, core.ValidationError("transaction is malformed: %v", err)
	}

	if len(msg.TxIn) == 0 || len(msg.TxOut) == 0 {
		return nil, core.ValidationError("transaction has no inputs or no outputs")
	}

	owned, err := s.unspents.List(ctx, wallet.ID, core.UnspentFilter{})
	if err != nil {
		return nil, err
	}

	byOutpoint := make(map[string]*core.Unspent, len(owned))
	for _, u := range owned {
		byOutpoint[u.Outpoint()] = u
	}

	tx := &core.UnsignedTransaction{WalletID: wallet.ID, Hex: txHex}
	for _, in := range msg.TxIn {
		u, ok := byOutpoint[in.PreviousOutPoint.String()]
		if !ok {
			return nil, core.ValidationError("input %s is not spendable by this wallet", in.PreviousOutPoint)
		}

		tx.Unspents = append(tx.Unspents, u)
	}

	for _, out := range msg.TxOut {
		addr, err := s.addresses.Lookup(ctx, wallet, out.PkScript)
		if err != nil {
			return nil, err
		}

		if addr != nil {
			tx.Changes = append(tx.Changes, &core.Change{Address: addr.Address, Amount: out.Value})
			continue
		}

		tx.Outputs = append(tx.Outputs, &core.Recipient{Script: hex.EncodeToString(out.PkScript), Amount: out.Value})
		tx.SendAmount += out.Value
	}

	tx.Fee = tx.InputValue() - tx.OutputValue()
	if tx.Fee < 0 {
		return nil, core.ValidationError("outputs exceed inputs by %d", -tx.Fee)
	}

	return tx, nil
}

func denialReason(denied *core.PolicyDeniedError) string {
	if denied.RuleID == "" {
		return "freeze"
	}

	return "rule"
}

func (s *Service) Freeze(ctx context.Context, wallet *core.Wallet, d time.Duration) (*core.Freeze, error) {
	return s.policies.Freeze(ctx, wallet, d)
}

func (s *Service) SetPolicyRule(ctx context.Context, wallet *core.Wallet, rule *core.PolicyRule) error {
	return s.policies.SetRule(ctx, wallet, rule)
}

func (s *Service) RemovePolicyRule(ctx context.Context, wallet *core.Wallet, id string) error {
	return s.policies.RemoveRule(ctx, wallet, id)
}

func (s *Service) ListPolicyRules(ctx context.Context, wallet *core.Wallet) ([]*core.PolicyRule, error) {
	return s.policies.ListRules(ctx, wallet)
}

func (s *Service) PolicyStatus(ctx context.Context, wallet *core.Wallet) ([]*core.PolicyStatus, error) {
	return s.policies.Status(ctx, wallet)
}

func (s *Service) keychain(ctx context.Context, wallet *core.Wallet, kind core.KeychainKind) (*core.Keychain, error) {
	for _, id := range wallet.Keychains {
		kc, err := s.keychains.Find(ctx, id)
		if err != nil {
			return nil, err
		}

		if kc.Kind == kind {
			return kc, nil
		}
	}

	return nil, fmt.Errorf("wallet %s has no %s keychain", wallet.ID, kind)
}

func (s *Service) serverKey(kc *core.Keychain) (*hdkeychain.ExtendedKey, error) {
	if key, ok := s.serverKeys.Get(kc.ID); ok {
		return key, nil
	}

	plain, err := keychain.Decrypt(s.cfg.ServerPassphrase, kc.EncryptedXPrv)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt server keychain: %w", err)
	}

	key, err := hdkeychain.NewKeyFromString(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: server xprv is malformed", core.ErrDecryptionFailure)
	}

	s.serverKeys.Add(kc.ID, key)
	return key, nil
}
