package ledger

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for ledger operations. Callers match them with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrCodeNotFound        = errors.New("access code not found")
	ErrCodeAlreadyRedeemed = errors.New("access code already redeemed")
	ErrInsufficientCredit  = errors.New("insufficient credit")
)

// AccessCode is a distributable token carrying prepaid extraction credits.
// It is redeemable once: redemption transfers the whole remaining balance
// to a single identity and zeroes the code.
type AccessCode struct {
	Code             string    `json:"code"`
	CreditsTotal     int       `json:"credits_total"`
	CreditsRemaining int       `json:"credits_remaining"`
	CreatedAt        time.Time `json:"created_at"`
	RedeemedBy       string    `json:"redeemed_by,omitempty"`
	RedeemedAt       time.Time `json:"redeemed_at,omitempty"`
}

// Account holds per-identity credit state. Accounts are created lazily on
// first interaction with the configured number of free extractions.
type Account struct {
	Identity         string    `json:"identity"`
	FreeRemaining    int       `json:"free_remaining"`
	PaidBalance      int       `json:"paid_balance"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Source reports which balance a consumed credit came from.
type Source string

const (
	SourceFree Source = "free"
	SourcePaid Source = "paid"
	SourceNone Source = "none"
)

// ConsumeResult is the outcome of a TryConsume call.
type ConsumeResult struct {
	Allowed bool   `json:"allowed"`
	Source  Source `json:"source"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Ledger tracks credit balances and access codes on top of a Store. Every
// mutating operation runs inside a single store transaction so concurrent
// requests cannot double-spend the last credit or lose updates.
type Ledger struct {
	store           Store
	freeExtractions int
	timeSource      TimeSource
}

// NewLedger creates a Ledger backed by store. freeExtractions is the number
// of free credits granted to every new identity.
func NewLedger(store Store, freeExtractions int) *Ledger {
	return &Ledger{
		store:           store,
		freeExtractions: freeExtractions,
		timeSource:      &defaultTimeSource{},
	}
}

// NewLedgerWithDeps creates a Ledger with a custom time source for testing
func NewLedgerWithDeps(store Store, freeExtractions int, timeSrc TimeSource) *Ledger {
	return &Ledger{
		store:           store,
		freeExtractions: freeExtractions,
		timeSource:      timeSrc,
	}
}

// account loads the identity's account inside tx, creating the lazy default
// when it does not exist yet.
func (l *Ledger) account(tx Tx, identity string) (*Account, error) {
	acct, err := tx.Account(identity)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, errStoreNotFound) {
		return nil, err
	}
	now := l.timeSource.Now()
	return &Account{
		Identity:      identity,
		FreeRemaining: l.freeExtractions,
		PaidBalance:   0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TryConsume atomically spends one credit for identity, free balance first,
// then paid. When neither balance has credit it reports SourceNone and
// mutates nothing.
func (l *Ledger) TryConsume(identity string) (ConsumeResult, error) {
	if identity == "" {
		return ConsumeResult{}, fmt.Errorf("%w: identity is required", ErrInvalidArgument)
	}

	result := ConsumeResult{Allowed: false, Source: SourceNone}
	err := l.store.Update(func(tx Tx) error {
		acct, err := l.account(tx, identity)
		if err != nil {
			return err
		}

		switch {
		case acct.FreeRemaining > 0:
			acct.FreeRemaining--
			result = ConsumeResult{Allowed: true, Source: SourceFree}
		case acct.PaidBalance > 0:
			acct.PaidBalance--
			result = ConsumeResult{Allowed: true, Source: SourcePaid}
		default:
			return nil
		}

		acct.UpdatedAt = l.timeSource.Now()
		return tx.PutAccount(acct)
	})
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("consuming credit: %w", err)
	}
	return result, nil
}

// GenerateCodes creates count new access codes worth creditsPerCode each and
// returns them in generation order. The literal code strings are meant for
// manual distribution.
func (l *Ledger) GenerateCodes(count, creditsPerCode int) ([]AccessCode, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidArgument, count)
	}
	if creditsPerCode <= 0 {
		return nil, fmt.Errorf("%w: credits per code must be positive, got %d", ErrInvalidArgument, creditsPerCode)
	}

	codes := make([]AccessCode, 0, count)
	err := l.store.Update(func(tx Tx) error {
		for i := 0; i < count; i++ {
			code, err := l.uniqueCodeString(tx)
			if err != nil {
				return err
			}
			ac := AccessCode{
				Code:             code,
				CreditsTotal:     creditsPerCode,
				CreditsRemaining: creditsPerCode,
				CreatedAt:        l.timeSource.Now(),
			}
			if err := tx.PutCode(&ac); err != nil {
				return err
			}
			codes = append(codes, ac)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generating codes: %w", err)
	}
	return codes, nil
}

// Redeem atomically transfers the whole remaining balance of codeString to
// identity's paid balance and zeroes the code. A redeemed code can never be
// redeemed again; retrying is a deterministic ErrCodeAlreadyRedeemed.
func (l *Ledger) Redeem(identity, codeString string) (int, error) {
	if identity == "" {
		return 0, fmt.Errorf("%w: identity is required", ErrInvalidArgument)
	}
	codeString = NormalizeCode(codeString)
	if codeString == "" {
		return 0, fmt.Errorf("%w: access code is required", ErrInvalidArgument)
	}

	granted := 0
	err := l.store.Update(func(tx Tx) error {
		code, err := tx.Code(codeString)
		if err != nil {
			if errors.Is(err, errStoreNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if code.CreditsRemaining == 0 {
			return ErrCodeAlreadyRedeemed
		}

		acct, err := l.account(tx, identity)
		if err != nil {
			return err
		}

		now := l.timeSource.Now()
		granted = code.CreditsRemaining
		acct.PaidBalance += granted
		acct.UpdatedAt = now
		code.CreditsRemaining = 0
		code.RedeemedBy = identity
		code.RedeemedAt = now

		if err := tx.PutCode(code); err != nil {
			return err
		}
		return tx.PutAccount(acct)
	})
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) || errors.Is(err, ErrCodeAlreadyRedeemed) {
			return 0, err
		}
		return 0, fmt.Errorf("redeeming code: %w", err)
	}
	return granted, nil
}

// Balance reports identity's free and paid credit without mutating anything.
// Unknown identities report the lazy defaults.
func (l *Ledger) Balance(identity string) (free, paid int, err error) {
	err = l.store.View(func(tx Tx) error {
		acct, err := l.account(tx, identity)
		if err != nil {
			return err
		}
		free = acct.FreeRemaining
		paid = acct.PaidBalance
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reading balance: %w", err)
	}
	return free, paid, nil
}

// ListCodes returns all known access codes, for admin review.
func (l *Ledger) ListCodes() ([]AccessCode, error) {
	var codes []AccessCode
	err := l.store.View(func(tx Tx) error {
		var err error
		codes, err = tx.Codes()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	return codes, nil
}

// NormalizeCode canonicalizes user-typed access codes for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// codeCharset deliberately sticks to uppercase alphanumerics so codes stay
// human-typeable over the phone.
const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// uniqueCodeString generates a fresh XXXX-XXXX-XXXX code not yet present in
// the store.
func (l *Ledger) uniqueCodeString(tx Tx) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := randomCodeString()
		if err != nil {
			return "", err
		}
		if _, err := tx.Code(code); errors.Is(err, errStoreNotFound) {
			return code, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("exhausted attempts generating a unique code")
}

func randomCodeString() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	var b strings.Builder
	for i, c := range raw {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeCharset[int(c)%len(codeCharset)])
	}
	return b.String(), nil
}
