package property

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/btcvault/core"
	"github.com/tsenart/nap"
)

type store struct {
	db *nap.DB
}

func New(db *nap.DB) core.PropertyStore {
	return &store{db: db}
}

func (s *store) Get(ctx context.Context, key string, value any) error {
	b := sq.Select("`value`").From("properties").Where(sq.Eq{"`key`": key})

	var raw []byte
	switch err := b.RunWith(s.db).QueryRowContext(ctx).Scan(&raw); {
	case err == nil:
		return json.Unmarshal(raw, value)
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return err
	}
}

func (s *store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	b := sq.Insert("properties").
		Columns("`key`", "`value`").
		Values(key, raw).
		Suffix("ON DUPLICATE KEY UPDATE `value` = VALUES(`value`), `version` = `version` + 1")

	if _, err := b.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to set property %s: %w", key, err)
	}

	return nil
}
