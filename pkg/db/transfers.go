package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	storedTransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctp_db_transfer_writes_total",
			Help: "Total number of transfer records written to the database",
		})
	deletedTransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctp_db_transfer_deletes_total",
			Help: "Total number of transfer records deleted from the database",
		})
)

var ErrTransferNotFound = errors.New("transfer not found")

// TransferDB is the persistence interface used by the orchestrator.
type TransferDB interface {
	StoreTransfer(t *transfer.Transfer) error
	GetTransfer(id string) (*transfer.Transfer, error)
	GetTransfers(logger *zap.Logger) ([]*transfer.Transfer, error)
	DeleteTransfer(id string) error
}

// MockTransferDB discards writes. It is used when running without a data directory.
type MockTransferDB struct {
}

func (d *MockTransferDB) StoreTransfer(t *transfer.Transfer) error {
	return nil
}

func (d *MockTransferDB) GetTransfer(id string) (*transfer.Transfer, error) {
	return nil, ErrTransferNotFound
}

func (d *MockTransferDB) GetTransfers(logger *zap.Logger) ([]*transfer.Transfer, error) {
	return nil, nil
}

func (d *MockTransferDB) DeleteTransfer(id string) error {
	return nil
}

const transferPrefix = "XFER:"
const transferPrefixLen = len(transferPrefix)

func transferKey(id string) []byte {
	return []byte(fmt.Sprintf("%v%v", transferPrefix, id))
}

func isTransfer(keyBytes []byte) bool {
	return len(keyBytes) > transferPrefixLen && string(keyBytes[0:transferPrefixLen]) == transferPrefix
}

// StoreTransfer upserts the record keyed by its source transaction id. Last writer wins.
func (d *Database) StoreTransfer(t *transfer.Transfer) error {
	if t.ID() == "" {
		return errors.New("cannot store transfer without source transaction id")
	}

	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer %s: %w", t.ID(), err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(transferKey(t.ID()), b); err != nil {
			return err
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to commit transfer %s: %w", t.ID(), err)
	}

	storedTransfersTotal.Inc()
	return nil
}

func (d *Database) GetTransfer(id string) (*transfer.Transfer, error) {
	var t transfer.Transfer
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(transferKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &t)
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer %s: %w", id, err)
	}
	return &t, nil
}

// GetTransfers is called on start up to reload every known transfer. Rows that fail to decode are
// logged and skipped.
func (d *Database) GetTransfers(logger *zap.Logger) ([]*transfer.Transfer, error) {
	transfers := []*transfer.Transfer{}
	prefixBytes := []byte(transferPrefix)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := item.Key()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if !isTransfer(key) {
				return fmt.Errorf("unexpected transfer key '%s'", string(key))
			}

			var t transfer.Transfer
			if err := json.Unmarshal(val, &t); err != nil {
				logger.Error("failed to unmarshal transfer for key", zap.String("key", string(key[:])), zap.Error(err))
				continue
			}

			transfers = append(transfers, &t)
		}

		return nil
	})

	return transfers, err
}

func (d *Database) DeleteTransfer(id string) error {
	key := transferKey(id)
	if err := d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		return err
	}); err != nil {
		return fmt.Errorf("failed to delete transfer %s: %w", id, err)
	}

	deletedTransfersTotal.Inc()
	return nil
}
