package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/apiclient"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the service or the ledger refused the operation
	ExitCommandError = 2 // bad flags, missing session, unreachable service
)

// ExitError carries a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. API refusals map to
// ExitFailure, transport problems to ExitCommandError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return ExitFailure
	}
	return ExitCommandError
}

// apiError turns a failed call into a message an operator can act on.
func apiError(action string, err error) error {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		return WrapExitError(ExitCommandError, action, err)
	}
	msg := fmt.Sprintf("%s: %s", action, apiErr.Message)
	if apiErr.EngineResult != "" {
		msg += fmt.Sprintf(" [%s]", apiErr.EngineResult)
	}
	if apiErr.TxHash != "" {
		msg += fmt.Sprintf(" (tx %s)", apiErr.TxHash)
	}
	switch {
	case apiErr.Code == "gateway_timeout" && apiErr.Kind == "create" && apiErr.EscrowID != "":
		// Rerunning create would lock a second time.
		msg += fmt.Sprintf("; the lock may still validate, check it with: escrowctl escrow get %s", apiErr.EscrowID)
	case apiErr.Code == "gateway_timeout":
		msg += "; the transaction may still validate, rerun the same command to resolve it"
	}
	return NewExitError(ExitFailure, msg)
}

// OutputFormatter handles JSON vs text output.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Emit writes data as indented JSON, or calls text for the text format.
func (f *OutputFormatter) Emit(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(f.Writer)
	return nil
}

func writeEscrow(w io.Writer, e *apiclient.Escrow) {
	fmt.Fprintf(w, "ID:           %s\n", e.ID)
	fmt.Fprintf(w, "State:        %s\n", e.State)
	fmt.Fprintf(w, "Amount:       %s %s\n", e.Amount, e.Currency)
	fmt.Fprintf(w, "Issuer:       %s\n", e.Issuer)
	fmt.Fprintf(w, "Owner:        %s\n", e.Owner)
	fmt.Fprintf(w, "Destination:  %s\n", e.Destination)
	fmt.Fprintf(w, "Sequence:     %d\n", e.OfferSequence)
	if e.Condition != "" {
		fmt.Fprintf(w, "Condition:    %s\n", e.Condition)
	}
	fmt.Fprintf(w, "Cancel after: %s\n", e.CancelAfter.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Create tx:    %s\n", e.CreateTxID)
	if e.FinishTxID != "" {
		fmt.Fprintf(w, "Finish tx:    %s\n", e.FinishTxID)
	}
	if e.CancelTxID != "" {
		fmt.Fprintf(w, "Cancel tx:    %s\n", e.CancelTxID)
	}
}

func writeAction(w io.Writer, resp *apiclient.ActionResponse) {
	fmt.Fprintln(w, resp.Message)
	if resp.TxHash != "" {
		fmt.Fprintf(w, "Transaction:  %s\n", resp.TxHash)
	}
	if resp.Escrow != nil {
		fmt.Fprintln(w)
		writeEscrow(w, resp.Escrow)
	}
}
