package address

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/store"
)

func New(
	keychains core.KeychainStore,
	addresses core.AddressStore,
	params *chaincfg.Params,
	clk clock.Clock,
) *Service {
	return &Service{
		keychains: keychains,
		addresses: addresses,
		params:    params,
		clock:     clk,
	}
}

// Service derives the P2SH multisig addresses of a wallet.
type Service struct {
	keychains core.KeychainStore
	addresses core.AddressStore
	params    *chaincfg.Params
	clock     clock.Clock
}

// Create derives and stores the next unused address on chain.
func (s *Service) Create(ctx context.Context, wallet *core.Wallet, chain uint32) (*core.Address, error) {
	index, err := s.addresses.NextIndex(ctx, wallet.ID, chain)
	if err != nil {
		return nil, err
	}

	addr, err := s.Derive(ctx, wallet, chain, index)
	if err != nil {
		return nil, err
	}

	if err := s.addresses.Create(ctx, addr); err != nil {
		return nil, err
	}

	return addr, nil
}

func (s *Service) Derive(ctx context.Context, wallet *core.Wallet, chain, index uint32) (*core.Address, error) {
	script, err := s.RedeemScript(ctx, wallet, core.ChainPath(chain, index))
	if err != nil {
		return nil, err
	}

	p2sh, err := btcutil.NewAddressScriptHash(script, s.params)
	if err != nil {
		return nil, err
	}

	return &core.Address{
		WalletID:     wallet.ID,
		CreatedAt:    s.clock.Now(),
		Chain:        chain,
		Index:        index,
		Address:      p2sh.EncodeAddress(),
		RedeemScript: script,
	}, nil
}

// RedeemScript builds the M-of-N script with keys in wallet keychain order.
func (s *Service) RedeemScript(ctx context.Context, wallet *core.Wallet, chainPath string) ([]byte, error) {
	if wallet.M < 1 || wallet.M > len(wallet.Keychains) {
		return nil, fmt.Errorf("invalid %d-of-%d wallet", wallet.M, len(wallet.Keychains))
	}

	pubs := make([]*btcutil.AddressPubKey, 0, len(wallet.Keychains))
	for _, id := range wallet.Keychains {
		kc, err := s.keychains.Find(ctx, id)
		if err != nil {
			return nil, err
		}

		xpub, err := hdkeychain.NewKeyFromString(kc.XPub)
		if err != nil {
			return nil, err
		}

		child, err := keychain.DerivePath(xpub, kc.Path, chainPath)
		if err != nil {
			return nil, err
		}

		pub, err := child.ECPubKey()
		if err != nil {
			return nil, err
		}

		addr, err := btcutil.NewAddressPubKey(pub.SerializeCompressed(), s.params)
		if err != nil {
			return nil, err
		}

		pubs = append(pubs, addr)
	}

	return txscript.MultiSigScript(pubs, wallet.M)
}

// Lookup returns the wallet address paid by pkScript, or nil when the
// script pays somewhere else.
func (s *Service) Lookup(ctx context.Context, wallet *core.Wallet, pkScript []byte) (*core.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, s.params)
	if err != nil || len(addrs) != 1 {
		return nil, nil
	}

	addr, err := s.addresses.Find(ctx, addrs[0].EncodeAddress())
	switch {
	case store.IsErrNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	case addr.WalletID != wallet.ID:
		return nil, nil
	}

	return addr, nil
}
