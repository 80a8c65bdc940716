package keychain

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/generic"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.KeychainStore {
	return &store{
		db:        db,
		keychains: generic.Must(lru.New[string, *core.Keychain](1024)),
	}
}

// keychains never change once created, so lookups are cached.
type store struct {
	db        *nap.DB
	keychains *lru.Cache[string, *core.Keychain]
}

func (s *store) Create(ctx context.Context, keychain *core.Keychain) error {
	b := sq.Insert("keychains").
		Columns("id", "xpub", "encrypted_xprv", "path", "kind").
		Values(keychain.ID, keychain.XPub, sql.NullString{String: keychain.EncryptedXPrv, Valid: keychain.EncryptedXPrv != ""}, keychain.Path, keychain.Kind)

	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *store) Find(ctx context.Context, id string) (*core.Keychain, error) {
	if kc, ok := s.keychains.Get(id); ok {
		return kc, nil
	}

	b := sq.Select("id", "xpub", "encrypted_xprv", "path", "kind").
		From("keychains").
		Where(sq.Eq{"id": id})

	var (
		kc        core.Keychain
		encrypted sql.NullString
	)

	row := b.RunWith(s.db).QueryRowContext(ctx)
	if err := row.Scan(&kc.ID, &kc.XPub, &encrypted, &kc.Path, &kc.Kind); err != nil {
		return nil, err
	}

	kc.EncryptedXPrv = encrypted.String
	s.keychains.Add(id, &kc)
	return &kc, nil
}
