package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pandodao/btcvault/core"
)

func NewTransferStore() core.TransferStore {
	return &transferStore{}
}

type transferStore struct {
	mux       sync.Mutex
	transfers []*core.Transfer
}

func (s *transferStore) Create(_ context.Context, transfer *core.Transfer) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, t := range s.transfers {
		if t.TraceID == transfer.TraceID {
			return fmt.Errorf("duplicate trace id %s", transfer.TraceID)
		}
	}

	t := *transfer
	t.ID = uint64(len(s.transfers) + 1)
	transfer.ID = t.ID
	s.transfers = append(s.transfers, &t)
	return nil
}

func (s *transferStore) UpdateStatus(_ context.Context, transfer *core.Transfer, to core.TransferStatus) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, t := range s.transfers {
		if t.ID != transfer.ID {
			continue
		}

		if t.Status != transfer.Status {
			return fmt.Errorf("optimistic lock failed")
		}

		t.Status = to
		t.TxHash = transfer.TxHash
		t.Error = transfer.Error
		transfer.Status = to
		return nil
	}

	return sql.ErrNoRows
}

func (s *transferStore) FindTrace(_ context.Context, traceID string) (*core.Transfer, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, t := range s.transfers {
		if t.TraceID == traceID {
			v := *t
			return &v, nil
		}
	}

	return nil, sql.ErrNoRows
}

func (s *transferStore) ListStatus(_ context.Context, status core.TransferStatus, limit int) ([]*core.Transfer, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var transfers []*core.Transfer
	for _, t := range s.transfers {
		if t.Status != status {
			continue
		}

		v := *t
		transfers = append(transfers, &v)
		if len(transfers) == limit {
			break
		}
	}

	return transfers, nil
}
