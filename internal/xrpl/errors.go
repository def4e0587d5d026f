package xrpl

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrTransport       = errors.New("xrpl: rpc transport failed")
	ErrCircuitOpen     = errors.New("xrpl: rpc endpoint circuit open")
	ErrAccountNotFound = errors.New("xrpl: account not found")
	ErrTimeout         = errors.New("xrpl: confirmation timed out")
	ErrExpired         = errors.New("xrpl: transaction expired before validation")
	ErrNoSigner        = errors.New("xrpl: signing credential required")
	ErrFaucet          = errors.New("xrpl: faucet request failed")
)

// RPCError is an error reported by the server in the result body.
type RPCError struct {
	Method  string
	Code    string // e.g. "actNotFound", "txnNotFound"
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xrpl: %s: %s (%s)", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("xrpl: %s: %s", e.Method, e.Code)
}

// transient reports whether the server asked the caller to come back later.
func (e *RPCError) transient() bool {
	switch e.Code {
	case "tooBusy", "noNetwork", "noCurrent", "noClosed", "slowDown":
		return true
	}
	return false
}

// RejectionError means the ledger refused a transaction. Code is the
// engine result (tecNO_PERMISSION, temBAD_AMOUNT, ...).
type RejectionError struct {
	Code      string
	Message   string
	TxHash    string
	Validated bool // true when the code came from a validated ledger
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("xrpl: transaction rejected: %s", e.Code)
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	if e.TxHash != "" {
		msg += " tx=" + e.TxHash
	}
	return msg
}

// TxError wraps submission failures with the transaction hash when known.
type TxError struct {
	Op     string // "prepare", "submit", "confirm"
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("xrpl: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("xrpl: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// IsRejection reports whether err carries a ledger rejection and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// HashOf returns the transaction hash carried by err, if any.
func HashOf(err error) string {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.TxHash
	}
	if rej, ok := IsRejection(err); ok {
		return rej.TxHash
	}
	return ""
}

func isRPCCode(err error, code string) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// Unresolved reports whether err leaves the fate of a submitted transaction
// open. Rejections and expiry are final. So is ErrCircuitOpen, since the
// breaker refuses before anything is sent.
func Unresolved(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := IsRejection(err); ok {
		return false
	}
	return !errors.Is(err, ErrExpired) && !errors.Is(err, ErrCircuitOpen)
}
