package db

import (
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

type Database struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at path.
func Open(path string) (*Database, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{
		db: db,
	}, nil
}

// OpenInMemory opens a database that is discarded on Close. Used by one-shot CLI commands.
func OpenInMemory() (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// RunGC reclaims space of the value log. Safe to call periodically.
func (d *Database) RunGC(logger *zap.Logger) {
	for {
		err := d.db.RunValueLogGC(0.5)
		if err != nil {
			if err != badger.ErrNoRewrite {
				logger.Warn("value log gc failed", zap.Error(err))
			}
			return
		}
	}
}
