package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	accountBucketName = "accounts"
	codeBucketName    = "codes"
)

// BoltStore implements the Store interface using BoltDB. Ledger state kept
// here survives process restarts.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(accountBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(codeBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) Account(identity string) (*Account, error) {
	data := t.tx.Bucket([]byte(accountBucketName)).Get([]byte(identity))
	if data == nil {
		return nil, errStoreNotFound
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("unmarshaling account: %w", err)
	}
	return &acct, nil
}

func (t *boltTx) PutAccount(acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshaling account: %w", err)
	}
	return t.tx.Bucket([]byte(accountBucketName)).Put([]byte(acct.Identity), data)
}

func (t *boltTx) Code(code string) (*AccessCode, error) {
	data := t.tx.Bucket([]byte(codeBucketName)).Get([]byte(code))
	if data == nil {
		return nil, errStoreNotFound
	}
	var ac AccessCode
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, fmt.Errorf("unmarshaling access code: %w", err)
	}
	return &ac, nil
}

func (t *boltTx) PutCode(code *AccessCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshaling access code: %w", err)
	}
	return t.tx.Bucket([]byte(codeBucketName)).Put([]byte(code.Code), data)
}

func (t *boltTx) Codes() ([]AccessCode, error) {
	codes := make([]AccessCode, 0)
	err := t.tx.Bucket([]byte(codeBucketName)).ForEach(func(k, v []byte) error {
		var ac AccessCode
		if err := json.Unmarshal(v, &ac); err != nil {
			return fmt.Errorf("unmarshaling access code: %w", err)
		}
		codes = append(codes, ac)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Update runs fn in a single bbolt read-write transaction
func (b *BoltStore) Update(fn func(tx Tx) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// View runs fn in a bbolt read-only transaction
func (b *BoltStore) View(fn func(tx Tx) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
