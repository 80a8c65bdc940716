package unspent

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/generic"
	"github.com/tsenart/nap"
)

// mysql takes no OFFSET without LIMIT
const defaultPageSize = 500

func New(db *nap.DB) core.UnspentStore {
	return &store{db: db}
}

type store struct {
	db *nap.DB
}

// save inserts the unspent or refreshes the confirmations of a known one.
func save(ctx context.Context, tx *sql.Tx, u *core.Unspent) error {
	b := sq.Insert("unspents").
		Columns(scanColumns...).
		Values(u.TxHash, u.Vout, u.WalletID, u.CreatedAt, u.Address, u.Value, u.Confirmations, u.ChainPath, u.RedeemScript, u.Instant).
		Suffix("ON DUPLICATE KEY UPDATE confirmations = VALUES(confirmations)")
	stmt, args := b.MustSql()
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func (s *store) Save(ctx context.Context, unspents []*core.Unspent) error {
	tx := generic.Must(s.db.Begin())
	defer tx.Rollback()

	for _, u := range unspents {
		if err := save(ctx, tx, u); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *store) List(ctx context.Context, walletID string, filter core.UnspentFilter) ([]*core.Unspent, error) {
	b := sq.Select(scanColumns...).
		From("unspents").
		Where(sq.Eq{"wallet_id": walletID}).
		Where(sq.GtOrEq{"confirmations": filter.MinConfirms}).
		Where(sq.GtOrEq{"value": filter.MinSize}).
		OrderBy("created_at", "tx_hash", "vout")

	if filter.InstantOnly {
		b = b.Where(sq.Eq{"instant": true})
	}

	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}

	return s.query(ctx, b)
}

func (s *store) ListAll(ctx context.Context, offset, limit int) ([]*core.Unspent, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	b := sq.Select(scanColumns...).
		From("unspents").
		OrderBy("tx_hash", "vout").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	return s.query(ctx, b)
}

func (s *store) query(ctx context.Context, b sq.SelectBuilder) ([]*core.Unspent, error) {
	stmt, args := b.MustSql()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var unspents []*core.Unspent
	for rows.Next() {
		var u core.Unspent
		if err := scanUnspent(rows, &u); err != nil {
			return nil, err
		}

		unspents = append(unspents, &u)
	}

	return unspents, rows.Err()
}

func (s *store) Delete(ctx context.Context, unspents []*core.Unspent) error {
	tx := generic.Must(s.db.Begin())
	defer tx.Rollback()

	for _, u := range unspents {
		b := sq.Delete("unspents").Where(sq.Eq{"tx_hash": u.TxHash, "vout": u.Vout})
		stmt, args := b.MustSql()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *store) SumBalance(ctx context.Context, walletID string) (*core.Balance, error) {
	b := sq.Select("COALESCE(SUM(value), 0)", "COUNT(*)").
		From("unspents").
		Where(sq.Eq{"wallet_id": walletID})
	stmt, args := b.MustSql()
	row := s.db.QueryRowContext(ctx, stmt, args...)

	balance := core.Balance{WalletID: walletID}
	if err := row.Scan(&balance.Amount, &balance.Count); err != nil {
		return nil, err
	}

	return &balance, nil
}
