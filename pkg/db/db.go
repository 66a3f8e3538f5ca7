package db

import (
	"fmt"
	"os"
	"path"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

type Database struct {
	db *badger.DB
}

// Operation represents a database operation type
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
)

type DBError struct {
	Op  Operation
	Key []byte
	Err error
}

func (e *DBError) Unwrap() error {
	return e.Err
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database: %s key: %s error: %v", e.Op, e.Key, e.Err)
}

// Open opens (or creates) a badger database in dbPath.
func Open(dbPath string) (*Database, error) {
	options := badger.DefaultOptions(dbPath)
	options.Logger = nil
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Database{db: db}, nil
}

// OpenInMemory opens a database that lives only as long as the process. Used by tests and devnets.
func OpenInMemory() (*Database, error) {
	options := badger.DefaultOptions("").WithInMemory(true)
	options.Logger = nil
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return &Database{db: db}, nil
}

// OpenDb opens the database under <dataDir>/db and exits the process on failure.
func OpenDb(logger *zap.Logger, dataDir string) *Database {
	dbPath := path.Join(dataDir, "db")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		logger.Fatal("failed to create database directory", zap.Error(err))
	}
	db, err := Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	return db
}

func (d *Database) Close() error {
	return d.db.Close()
}
