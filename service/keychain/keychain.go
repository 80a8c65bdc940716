package keychain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pandodao/btcvault/core"
)

const DefaultPath = "/0/0"

func New(keychains core.KeychainStore, params *chaincfg.Params) *Service {
	return &Service{
		keychains: keychains,
		params:    params,
	}
}

type Service struct {
	keychains core.KeychainStore
	params    *chaincfg.Params
}

// Create generates a keychain and stores its xpub. The xprv is stored
// encrypted when passphrase is set, otherwise only returned.
func (s *Service) Create(ctx context.Context, kind core.KeychainKind, passphrase string) (*core.Keychain, string, error) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, "", err
	}

	master, err := hdkeychain.NewMaster(seed, s.params)
	if err != nil {
		return nil, "", err
	}

	xpub, err := master.Neuter()
	if err != nil {
		return nil, "", err
	}

	kc := &core.Keychain{
		ID:   xpub.String(),
		XPub: xpub.String(),
		Path: DefaultPath,
		Kind: kind,
	}

	if passphrase != "" {
		if kc.EncryptedXPrv, err = Encrypt(passphrase, master.String()); err != nil {
			return nil, "", err
		}
	}

	if err := s.keychains.Create(ctx, kc); err != nil {
		return nil, "", err
	}

	return kc, master.String(), nil
}

func (s *Service) Find(ctx context.Context, id string) (*core.Keychain, error) {
	return s.keychains.Find(ctx, id)
}

// ParsePath parses "m/0/1", "/0/1" or "0/1'" into child indexes.
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "m")
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	indexes := make([]uint32, 0, len(parts))
	for _, p := range parts {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")

		i, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid path element %q: %w", p, err)
		}

		idx := uint32(i)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}

		indexes = append(indexes, idx)
	}

	return indexes, nil
}

// DerivePath derives key along every path in order.
func DerivePath(key *hdkeychain.ExtendedKey, paths ...string) (*hdkeychain.ExtendedKey, error) {
	for _, path := range paths {
		indexes, err := ParsePath(path)
		if err != nil {
			return nil, err
		}

		for _, idx := range indexes {
			if key, err = key.Derive(idx); err != nil {
				return nil, err
			}
		}
	}

	return key, nil
}
