package ledger

import (
	"errors"
	"sort"
	"sync"
)

// errStoreNotFound is returned by Tx lookups for missing keys. The Ledger
// translates it into the public error taxonomy.
var errStoreNotFound = errors.New("not found in store")

// Tx is a single atomic view over accounts and codes. Mutations made through
// a Tx are only visible once the enclosing Update commits; a returned error
// rolls everything back.
type Tx interface {
	// Account retrieves an account by identity
	Account(identity string) (*Account, error)

	// PutAccount writes an account
	PutAccount(acct *Account) error

	// Code retrieves an access code by its normalized code string
	Code(code string) (*AccessCode, error)

	// PutCode writes an access code
	PutCode(code *AccessCode) error

	// Codes returns all access codes ordered by code string
	Codes() ([]AccessCode, error)
}

// Store is the storage-agnostic backing for the Ledger. An in-memory map is
// one valid implementation; a durable key-value store is a drop-in
// alternative with identical ledger semantics.
type Store interface {
	// Update runs fn in a single atomic read-modify-write transaction
	Update(fn func(tx Tx) error) error

	// View runs fn in a read-only transaction
	View(fn func(tx Tx) error) error

	// Close releases the store's resources
	Close() error
}

// MemoryStore implements Store with process-memory maps. A single mutex is
// the critical section; staged writes apply only when the update fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	codes    map[string]AccessCode
}

// NewMemoryStore creates an empty in-memory Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		codes:    make(map[string]AccessCode),
	}
}

type memoryTx struct {
	store          *MemoryStore
	stagedAccounts map[string]Account
	stagedCodes    map[string]AccessCode
}

func (t *memoryTx) Account(identity string) (*Account, error) {
	if acct, ok := t.stagedAccounts[identity]; ok {
		copy := acct
		return &copy, nil
	}
	acct, ok := t.store.accounts[identity]
	if !ok {
		return nil, errStoreNotFound
	}
	copy := acct
	return &copy, nil
}

func (t *memoryTx) PutAccount(acct *Account) error {
	t.stagedAccounts[acct.Identity] = *acct
	return nil
}

func (t *memoryTx) Code(code string) (*AccessCode, error) {
	if ac, ok := t.stagedCodes[code]; ok {
		copy := ac
		return &copy, nil
	}
	ac, ok := t.store.codes[code]
	if !ok {
		return nil, errStoreNotFound
	}
	copy := ac
	return &copy, nil
}

func (t *memoryTx) PutCode(code *AccessCode) error {
	t.stagedCodes[code.Code] = *code
	return nil
}

func (t *memoryTx) Codes() ([]AccessCode, error) {
	merged := make(map[string]AccessCode, len(t.store.codes)+len(t.stagedCodes))
	for k, v := range t.store.codes {
		merged[k] = v
	}
	for k, v := range t.stagedCodes {
		merged[k] = v
	}

	codes := make([]AccessCode, 0, len(merged))
	for _, v := range merged {
		codes = append(codes, v)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes, nil
}

// Update runs fn under the store mutex and commits staged writes on success
func (m *MemoryStore) Update(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		store:          m,
		stagedAccounts: make(map[string]Account),
		stagedCodes:    make(map[string]AccessCode),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.stagedAccounts {
		m.accounts[k] = v
	}
	for k, v := range tx.stagedCodes {
		m.codes[k] = v
	}
	return nil
}

// View runs fn read-only under the store mutex
func (m *MemoryStore) View(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		store:          m,
		stagedAccounts: make(map[string]Account),
		stagedCodes:    make(map[string]AccessCode),
	}
	return fn(tx)
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error {
	return nil
}
