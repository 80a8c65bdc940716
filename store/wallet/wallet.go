package wallet

import (
	"context"
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.WalletStore {
	wallets, err := lru.New[string, *core.Wallet](256)
	if err != nil {
		panic(err)
	}

	return &walletStore{
		db:      db,
		wallets: wallets,
	}
}

type walletStore struct {
	db *nap.DB
	// wallets caches the immutable columns. The freeze is written by other
	// processes too and is always read from the table.
	wallets *lru.Cache[string, *core.Wallet]
}

var columns = []string{"id", "created_at", "label", "m", "keychains", "freeze_time", "freeze_expires"}

func nullTime(f core.Freeze) (sql.NullTime, sql.NullTime) {
	return sql.NullTime{Time: f.Time, Valid: !f.Time.IsZero()},
		sql.NullTime{Time: f.Expires, Valid: !f.Expires.IsZero()}
}

func (s *walletStore) Create(ctx context.Context, wallet *core.Wallet) error {
	keychains, err := json.Marshal(wallet.Keychains)
	if err != nil {
		return err
	}

	freezeTime, freezeExpires := nullTime(wallet.Freeze)
	b := sq.Insert("wallets").
		Columns(columns...).
		Values(wallet.ID, wallet.CreatedAt, wallet.Label, wallet.M, keychains, freezeTime, freezeExpires)

	_, err = b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *walletStore) Find(ctx context.Context, id string) (*core.Wallet, error) {
	if w, ok := s.wallets.Get(id); ok {
		v := *w
		freeze, err := s.findFreeze(ctx, id)
		if err != nil {
			return nil, err
		}

		v.Freeze = freeze
		return &v, nil
	}

	w, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	s.wallets.Add(id, w)
	v := *w
	return &v, nil
}

func (s *walletStore) findFreeze(ctx context.Context, id string) (core.Freeze, error) {
	b := sq.Select("freeze_time", "freeze_expires").From("wallets").Where(sq.Eq{"id": id})

	var freezeTime, freezeExpires sql.NullTime
	if err := b.RunWith(s.db).QueryRowContext(ctx).Scan(&freezeTime, &freezeExpires); err != nil {
		return core.Freeze{}, err
	}

	return core.Freeze{Time: freezeTime.Time, Expires: freezeExpires.Time}, nil
}

func (s *walletStore) find(ctx context.Context, id string) (*core.Wallet, error) {
	b := sq.Select(columns...).From("wallets").Where(sq.Eq{"id": id})
	row := b.RunWith(s.db).QueryRowContext(ctx)

	var wallet core.Wallet
	if err := scanWallet(row, &wallet); err != nil {
		return nil, err
	}

	return &wallet, nil
}

func (s *walletStore) List(ctx context.Context) ([]*core.Wallet, error) {
	b := sq.Select(columns...).From("wallets").OrderBy("created_at")
	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var wallets []*core.Wallet
	for rows.Next() {
		var wallet core.Wallet
		if err := scanWallet(rows, &wallet); err != nil {
			return nil, err
		}

		wallets = append(wallets, &wallet)
	}

	return wallets, rows.Err()
}

func (s *walletStore) UpdateFreeze(ctx context.Context, wallet *core.Wallet) error {
	freezeTime, freezeExpires := nullTime(wallet.Freeze)
	b := sq.Update("wallets").
		Set("freeze_time", freezeTime).
		Set("freeze_expires", freezeExpires).
		Where(sq.Eq{"id": wallet.ID})

	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(scanner scanner, wallet *core.Wallet) error {
	var (
		keychains     []byte
		freezeTime    sql.NullTime
		freezeExpires sql.NullTime
	)

	if err := scanner.Scan(
		&wallet.ID,
		&wallet.CreatedAt,
		&wallet.Label,
		&wallet.M,
		&keychains,
		&freezeTime,
		&freezeExpires,
	); err != nil {
		return err
	}

	wallet.Freeze = core.Freeze{Time: freezeTime.Time, Expires: freezeExpires.Time}
	return json.Unmarshal(keychains, &wallet.Keychains)
}
