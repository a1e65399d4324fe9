// Package ids provides the validated identifiers aggregates use to refer to
// each other.
package ids

import (
	"strconv"
	"strings"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/google/uuid"
)

type (
	UserID        int64
	BalanceID     int64
	DualBalanceID int64
)

// TransactionID is the external, idempotency-bearing id of a ledger entry.
type TransactionID string

// PurchaseID identifies a star purchase attempt.
type PurchaseID string

func positive(kind string, v int64) error {
	if v <= 0 {
		return apperr.New(apperr.CodeInvalidIdentifier, kind+" must be a positive integer", map[string]any{
			"kind":  kind,
			"value": v,
		})
	}

	return nil
}

func NewUserID(v int64) (UserID, error) {
	if err := positive("user id", v); err != nil {
		return 0, err
	}

	return UserID(v), nil
}

func NewBalanceID(v int64) (BalanceID, error) {
	if err := positive("balance id", v); err != nil {
		return 0, err
	}

	return BalanceID(v), nil
}

func NewDualBalanceID(v int64) (DualBalanceID, error) {
	if err := positive("dual balance id", v); err != nil {
		return 0, err
	}

	return DualBalanceID(v), nil
}

// ParseUserID parses a decimal user id, as found in URL paths.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidIdentifier, "user id must be a positive integer", map[string]any{
			"value": s,
		}, err)
	}

	return NewUserID(v)
}

// parseCanonicalUUID accepts only the 8-4-4-4-12 hex form and returns it
// lower-cased.
func parseCanonicalUUID(kind, s string) (string, error) {
	fail := func(cause error) error {
		return apperr.Wrap(apperr.CodeInvalidIdentifier, kind+" must be a canonical UUID", map[string]any{
			"kind":  kind,
			"value": s,
		}, cause)
	}

	if len(s) != 36 {
		return "", fail(nil)
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return "", fail(err)
	}

	return u.String(), nil
}

func ParseTransactionID(s string) (TransactionID, error) {
	v, err := parseCanonicalUUID("transaction id", s)
	if err != nil {
		return "", err
	}

	return TransactionID(v), nil
}

// NewTransactionID returns a fresh random id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

func ParsePurchaseID(s string) (PurchaseID, error) {
	v, err := parseCanonicalUUID("purchase id", s)
	if err != nil {
		return "", err
	}

	return PurchaseID(v), nil
}

func NewPurchaseID() PurchaseID {
	return PurchaseID(uuid.NewString())
}

func (id UserID) String() string        { return strconv.FormatInt(int64(id), 10) }
func (id BalanceID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id DualBalanceID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id TransactionID) String() string { return string(id) }
func (id PurchaseID) String() string    { return string(id) }
