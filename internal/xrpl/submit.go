package xrpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/traces"
)

// Prepare assigns Sequence and LastLedgerSequence to tx and signs it with
// signer's seed. The returned hash is final: it identifies the transaction
// whether or not the submission that follows ever reports back.
func (c *Client) Prepare(ctx context.Context, signer Credential, tx *Transaction) (*Prepared, error) {
	if !signer.CanSign() {
		return nil, &TxError{Op: "prepare", Err: ErrNoSigner}
	}
	t := *tx
	if t.Account == "" {
		t.Account = signer.Address
	}
	if t.Account != signer.Address {
		return nil, &TxError{Op: "prepare", Err: fmt.Errorf("%w: signer %s cannot sign for %s", ErrNoSigner, signer.Address, t.Account)}
	}

	ctx, span := traces.StartSpan(ctx, "xrpl.Prepare", traces.Account(t.Account), traces.TxType(t.TransactionType))
	defer span.End()

	unlock, err := c.seqLocks.LockContext(ctx, t.Account)
	if err != nil {
		return nil, &TxError{Op: "prepare", Err: err}
	}
	defer unlock()

	seq := c.cachedSequence(t.Account)
	if seq == 0 {
		info, err := c.accountInfo(ctx, t.Account, "current")
		if err != nil {
			return nil, &TxError{Op: "sequence", Err: err}
		}
		seq = info.Sequence
	}

	ledger, err := c.ValidatedLedger(ctx)
	if err != nil {
		return nil, &TxError{Op: "ledger", Err: err}
	}

	t.Sequence = seq
	t.LastLedgerSequence = ledger.Index + c.cfg.LedgerOffset

	var res struct {
		TxBlob string `json:"tx_blob"`
		TxJSON struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	params := map[string]any{
		"tx_json":      &t,
		"secret":       signer.Seed,
		"fee_mult_max": c.cfg.MaxFeeMultiplier,
	}
	if err := c.query(ctx, "sign", params, &res); err != nil {
		return nil, &TxError{Op: "sign", Err: err}
	}
	if res.TxBlob == "" || res.TxJSON.Hash == "" {
		return nil, &TxError{Op: "sign", Err: errors.New("node returned no signed blob")}
	}

	c.storeSequence(t.Account, seq+1)

	return &Prepared{
		TransactionType:    t.TransactionType,
		Account:            t.Account,
		Sequence:           seq,
		LastLedgerSequence: t.LastLedgerSequence,
		Hash:               res.TxJSON.Hash,
		Blob:               res.TxBlob,
	}, nil
}

// SubmitAndWait submits a prepared transaction and blocks until it is in a
// validated ledger, expires, or the confirmation timeout passes. On timeout
// the error is a *TxError wrapping ErrTimeout and carrying the hash, and the
// transaction may still validate later; resolve it with Outcome.
func (c *Client) SubmitAndWait(ctx context.Context, p *Prepared) (*TxResult, error) {
	ctx, span := traces.StartSpan(ctx, "xrpl.SubmitAndWait",
		traces.Account(p.Account), traces.TxType(p.TransactionType), traces.TxHash(p.Hash))
	defer span.End()

	start := time.Now()

	var sub struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
	}
	err := c.call(ctx, "submit", map[string]any{"tx_blob": p.Blob}, &sub)
	switch {
	case err == nil:
		span.SetAttributes(traces.EngineResult(sub.EngineResult))
		if rejectedOnSubmit(sub.EngineResult) {
			c.resetSequence(p.Account)
			txSubmissions.WithLabelValues(p.TransactionType, sub.EngineResult).Inc()
			return nil, &RejectionError{Code: sub.EngineResult, Message: sub.EngineResultMessage, TxHash: p.Hash}
		}
	case errors.Is(err, ErrTransport):
		// The blob may have reached the network; the hash decides.
		c.logger.Warn("submit transport failure, polling by hash",
			"tx_type", p.TransactionType, "account", p.Account, "tx_hash", p.Hash, "error", err)
	default:
		c.resetSequence(p.Account)
		return nil, &TxError{Op: "submit", TxHash: p.Hash, Err: err}
	}

	res, err := c.waitFor(ctx, p)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.EngineResult(res.EngineResult))
	txSubmissions.WithLabelValues(p.TransactionType, res.EngineResult).Inc()
	txConfirmation.WithLabelValues(p.TransactionType).Observe(time.Since(start).Seconds())
	return res, nil
}

// Submit prepares, submits and waits in one call.
func (c *Client) Submit(ctx context.Context, signer Credential, tx *Transaction) (*TxResult, error) {
	p, err := c.Prepare(ctx, signer, tx)
	if err != nil {
		return nil, err
	}
	return c.SubmitAndWait(ctx, p)
}

func (c *Client) waitFor(ctx context.Context, p *Prepared) (*TxResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				txSubmissions.WithLabelValues(p.TransactionType, "timeout").Inc()
				return nil, &TxError{Op: "confirm", TxHash: p.Hash, Err: ErrTimeout}
			}
			return nil, &TxError{Op: "confirm", TxHash: p.Hash, Err: ctx.Err()}

		case <-ticker.C:
			out, err := c.Outcome(ctx, p.Hash, p.LastLedgerSequence)
			if err != nil {
				// Node hiccup; keep polling until the deadline.
				c.logger.Debug("outcome lookup failed", "tx_hash", p.Hash, "error", err)
				continue
			}
			switch out.Status {
			case OutcomeSucceeded:
				return &TxResult{
					Hash:         p.Hash,
					EngineResult: out.EngineResult,
					LedgerIndex:  out.LedgerIndex,
					Sequence:     p.Sequence,
				}, nil
			case OutcomeFailed:
				txSubmissions.WithLabelValues(p.TransactionType, out.EngineResult).Inc()
				return nil, &RejectionError{Code: out.EngineResult, TxHash: p.Hash, Validated: true}
			case OutcomeExpired:
				c.resetSequence(p.Account)
				txSubmissions.WithLabelValues(p.TransactionType, "expired").Inc()
				return nil, &TxError{Op: "confirm", TxHash: p.Hash, Err: ErrExpired}
			}
		}
	}
}

// Outcome resolves hash against the ledger. lastLedger is the transaction's
// LastLedgerSequence; once a validated ledger passes it without the
// transaction, the outcome is Expired. Pass 0 to skip the expiry check.
func (c *Client) Outcome(ctx context.Context, hash string, lastLedger uint32) (*Outcome, error) {
	var res struct {
		Validated   bool   `json:"validated"`
		LedgerIndex uint32 `json:"ledger_index"`
		Meta        struct {
			TransactionResult string `json:"TransactionResult"`
		} `json:"meta"`
	}
	err := c.query(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &res)
	switch {
	case err == nil:
		if res.Validated {
			out := &Outcome{EngineResult: res.Meta.TransactionResult, LedgerIndex: res.LedgerIndex}
			if out.EngineResult == ResultSuccess {
				out.Status = OutcomeSucceeded
			} else {
				out.Status = OutcomeFailed
			}
			return out, nil
		}
	case isRPCCode(err, "txnNotFound"):
	default:
		return nil, err
	}

	if lastLedger > 0 {
		ledger, err := c.ValidatedLedger(ctx)
		if err != nil {
			return nil, err
		}
		if ledger.Index > lastLedger {
			return &Outcome{Status: OutcomeExpired, LedgerIndex: ledger.Index}, nil
		}
	}
	return &Outcome{Status: OutcomePending}, nil
}

// rejectedOnSubmit reports whether a preliminary result means the
// transaction can never be applied as signed.
func rejectedOnSubmit(code string) bool {
	switch code {
	case "tefALREADY":
		return false
	case "terPRE_SEQ":
		return true
	}
	return strings.HasPrefix(code, "tem") ||
		strings.HasPrefix(code, "tef") ||
		strings.HasPrefix(code, "tel")
}
