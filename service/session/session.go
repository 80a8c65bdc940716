// Package session gates every signing operation behind an unlock window.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/generic"
)

const DefaultUnlock = 600 * time.Second

func New(clk clock.Clock, params *chaincfg.Params) *Session {
	return &Session{
		clock:  clk,
		params: params,
		keys:   generic.Must(lru.New[string, *hdkeychain.ExtendedKey](16)),
	}
}

// Session is unlocked for a limited time. Keys decrypted while unlocked are
// kept until the session locks or expires.
type Session struct {
	clock  clock.Clock
	params *chaincfg.Params

	mux     sync.Mutex
	expires time.Time
	keys    *lru.Cache[string, *hdkeychain.ExtendedKey]
}

// Unlock opens the session for d (DefaultUnlock when zero) and returns the
// expiry.
func (s *Session) Unlock(d time.Duration) time.Time {
	if d <= 0 {
		d = DefaultUnlock
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	s.expires = s.clock.Now().Add(d)
	return s.expires
}

func (s *Session) Lock() {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.expires = time.Time{}
	s.keys.Purge()
}

func (s *Session) Expires() time.Time {
	s.mux.Lock()
	defer s.mux.Unlock()

	return s.expires
}

func (s *Session) Authorize() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	return s.authorize()
}

func (s *Session) authorize() error {
	if s.expires.IsZero() {
		return fmt.Errorf("%w: session is locked", core.ErrNotAuthorized)
	}

	if !s.clock.Now().Before(s.expires) {
		s.expires = time.Time{}
		s.keys.Purge()
		return fmt.Errorf("%w: session expired", core.ErrNotAuthorized)
	}

	return nil
}

// SigningKey returns the private key of kc, decrypted with passphrase or
// parsed from xprv. Exactly one of them must be set.
func (s *Session) SigningKey(kc *core.Keychain, passphrase, xprv string) (*hdkeychain.ExtendedKey, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if err := s.authorize(); err != nil {
		return nil, err
	}

	switch {
	case passphrase != "" && xprv != "":
		return nil, core.ValidationError("cannot provide more than one xprv or passphrase")
	case passphrase == "" && xprv == "":
		return nil, core.ValidationError("xprv or passphrase is required")
	}

	if passphrase != "" {
		return s.decrypt(kc, passphrase)
	}

	key, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, core.ValidationError("Unable to parse the xprv")
	}

	if err := s.check(kc, key); err != nil {
		return nil, err
	}

	return key, nil
}

func (s *Session) decrypt(kc *core.Keychain, passphrase string) (*hdkeychain.ExtendedKey, error) {
	digest := sha256.Sum256([]byte(passphrase))
	cacheKey := kc.ID + ":" + hex.EncodeToString(digest[:])
	if key, ok := s.keys.Get(cacheKey); ok {
		return key, nil
	}

	if kc.EncryptedXPrv == "" {
		return nil, core.ValidationError("keychain %s has no encrypted xprv", kc.Kind)
	}

	plain, err := keychain.Decrypt(passphrase, kc.EncryptedXPrv)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt %s keychain: %w", kc.Kind, err)
	}

	key, err := hdkeychain.NewKeyFromString(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: stored xprv is malformed", core.ErrDecryptionFailure)
	}

	if err := s.check(kc, key); err != nil {
		return nil, err
	}

	s.keys.Add(cacheKey, key)
	return key, nil
}

func (s *Session) check(kc *core.Keychain, key *hdkeychain.ExtendedKey) error {
	if !key.IsPrivate() {
		return core.ValidationError("not a private key")
	}

	if !key.IsForNet(s.params) {
		return core.ValidationError("key is for another network")
	}

	pub, err := key.Neuter()
	if err != nil {
		return err
	}

	if pub.String() != kc.XPub {
		return core.ValidationError("not a keychain on this wallet")
	}

	return nil
}
