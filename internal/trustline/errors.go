package trustline

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoTrustLine  = errors.New("trustline: no trust line")
	ErrPrecondition = errors.New("trustline: precondition failed")
)

// Precondition codes.
const (
	CodeTrustLineMissing    = "trust_line_missing"
	CodeTrustLineFrozen     = "trust_line_frozen"
	CodeInsufficientBalance = "insufficient_balance"
)

// PreconditionError means a token transfer is not currently deliverable.
// Status is 412 when the holder must act (open a line) and 409 when the
// ledger state conflicts with the request.
type PreconditionError struct {
	Status   int
	Code     string
	Message  string
	Holder   string
	Issuer   string
	Currency string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

func missingLine(holder, issuer, currency string) *PreconditionError {
	return &PreconditionError{
		Status:   http.StatusPreconditionFailed,
		Code:     CodeTrustLineMissing,
		Message:  fmt.Sprintf("Destination must open a trustline to %s/%s before escrow can deliver.", currency, issuer),
		Holder:   holder,
		Issuer:   issuer,
		Currency: currency,
	}
}

func frozenLine(who, holder, issuer, currency string) *PreconditionError {
	return &PreconditionError{
		Status:   http.StatusConflict,
		Code:     CodeTrustLineFrozen,
		Message:  fmt.Sprintf("%s trust line is frozen.", who),
		Holder:   holder,
		Issuer:   issuer,
		Currency: currency,
	}
}

func shortBalance(holder, issuer, currency, balance, amount string) *PreconditionError {
	return &PreconditionError{
		Status:   http.StatusConflict,
		Code:     CodeInsufficientBalance,
		Message:  fmt.Sprintf("Owner IOU balance %s < escrow amount %s.", balance, amount),
		Holder:   holder,
		Issuer:   issuer,
		Currency: currency,
	}
}
