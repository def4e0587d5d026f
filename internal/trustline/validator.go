// Package trustline decides whether an issued-token transfer is currently
// deliverable and, where policy allows, makes it so.
//
// Lines are always read from the holder's side: Account on a returned line
// is the issuer, PeerAuthorized means the issuer has authorized the holder.
package trustline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/traces"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

// Ledger is the subset of the ledger gateway the validator needs.
type Ledger interface {
	AccountInfo(ctx context.Context, address string) (*xrpl.AccountInfo, error)
	AccountLines(ctx context.Context, account, peer string) ([]xrpl.TrustLine, error)
	Submit(ctx context.Context, signer xrpl.Credential, tx *xrpl.Transaction) (*xrpl.TxResult, error)
}

// Config is the token policy.
type Config struct {
	Currency      string
	TrustLimit    iou.Amount
	RequireAuth   bool
	AutoFund      bool
	OwnerMinimum  iou.Amount // prefunded by Provision
	ClientMinimum iou.Amount // prefunded by Provision for each provisioned principal
}

// Option configures a Validator.
type Option func(*Validator)

// WithProvisioned registers principals whose keys this service holds.
// Only these get a missing trust line opened on their behalf.
func WithProvisioned(creds ...xrpl.Credential) Option {
	return func(v *Validator) {
		for _, c := range creds {
			if c.CanSign() {
				v.provisioned[c.Address] = c
			}
		}
	}
}

// WithLogger sets the validator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validator checks and establishes trust line preconditions.
type Validator struct {
	ledger      Ledger
	owner       xrpl.Credential
	issuer      xrpl.Credential
	cfg         Config
	provisioned map[string]xrpl.Credential
	logger      *slog.Logger

	lockingMu   sync.Mutex
	lockingDone bool
}

// New creates a validator for the owner/issuer pair.
func New(ledger Ledger, owner, issuer xrpl.Credential, cfg Config, opts ...Option) *Validator {
	v := &Validator{
		ledger:      ledger,
		owner:       owner,
		issuer:      issuer,
		cfg:         cfg,
		provisioned: make(map[string]xrpl.Credential),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Currency returns the configured token code.
func (v *Validator) Currency() string { return v.cfg.Currency }

// Issuer returns the token issuer's address.
func (v *Validator) Issuer() string { return v.issuer.Address }

// IsProvisioned reports whether address is a principal this service controls.
func (v *Validator) IsProvisioned(address string) bool {
	_, ok := v.provisioned[address]
	return ok
}

// -----------------------------------------------------------------------------
// Line queries
// -----------------------------------------------------------------------------

// LineState returns holder's line to issuer for currency, or ErrNoTrustLine.
func (v *Validator) LineState(ctx context.Context, holder, issuer, currency string) (*xrpl.TrustLine, error) {
	lines, err := v.ledger.AccountLines(ctx, holder, issuer)
	if err != nil {
		if errors.Is(err, xrpl.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s has no account", ErrNoTrustLine, holder)
		}
		return nil, err
	}
	line := xrpl.FindLine(lines, issuer, currency)
	if line == nil {
		return nil, fmt.Errorf("%w: %s -> %s/%s", ErrNoTrustLine, holder, currency, issuer)
	}
	return line, nil
}

// HasTrustLine reports whether holder has a line to issuer for currency.
func (v *Validator) HasTrustLine(ctx context.Context, holder, issuer, currency string) (bool, error) {
	_, err := v.LineState(ctx, holder, issuer, currency)
	if errors.Is(err, ErrNoTrustLine) {
		return false, nil
	}
	return err == nil, err
}

// TokenBalance returns holder's balance on its line to the configured issuer.
// A missing line reads as zero.
func (v *Validator) TokenBalance(ctx context.Context, holder string) (iou.Amount, error) {
	return v.balance(ctx, holder, v.issuer.Address, v.cfg.Currency)
}

func (v *Validator) balance(ctx context.Context, holder, issuer, currency string) (iou.Amount, error) {
	line, err := v.LineState(ctx, holder, issuer, currency)
	if errors.Is(err, ErrNoTrustLine) {
		return iou.Zero(), nil
	}
	if err != nil {
		return iou.Amount{}, err
	}
	bal, err := iou.Parse(line.Balance)
	if err != nil {
		return iou.Amount{}, fmt.Errorf("trustline: balance of %s: %w", holder, err)
	}
	return bal, nil
}

// -----------------------------------------------------------------------------
// Ensure operations
// -----------------------------------------------------------------------------

// EnsureTrustLine opens holder's line to issuer if it does not exist yet.
func (v *Validator) EnsureTrustLine(ctx context.Context, holder xrpl.Credential, issuer, currency string, limit iou.Amount) error {
	ok, err := v.HasTrustLine(ctx, holder.Address, issuer, currency)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	tx := xrpl.TrustSet(holder.Address, xrpl.IssuedAmount(currency, issuer, limit.String()), 0)
	res, err := v.ledger.Submit(ctx, holder, tx)
	if err != nil {
		return fmt.Errorf("trustline: open %s/%s for %s: %w", currency, issuer, holder.Address, err)
	}
	v.logger.Info("trust line opened", "holder", holder.Address, "issuer", issuer, "currency", currency, "tx_hash", res.Hash)
	return nil
}

// EnsureIssuerAuthorizationPolicy brings the issuer's RequireAuth flag to required.
func (v *Validator) EnsureIssuerAuthorizationPolicy(ctx context.Context, issuer xrpl.Credential, required bool) error {
	info, err := v.ledger.AccountInfo(ctx, issuer.Address)
	if err != nil {
		return err
	}
	if info.HasFlag(xrpl.LsfRequireAuth) == required {
		return nil
	}

	tx := xrpl.AccountClearFlag(issuer.Address, xrpl.AsfRequireAuth)
	if required {
		tx = xrpl.AccountSetFlag(issuer.Address, xrpl.AsfRequireAuth)
	}
	res, err := v.ledger.Submit(ctx, issuer, tx)
	if err != nil {
		return fmt.Errorf("trustline: set RequireAuth=%t on %s: %w", required, issuer.Address, err)
	}
	v.logger.Info("issuer authorization policy updated", "issuer", issuer.Address, "require_auth", required, "tx_hash", res.Hash)
	return nil
}

// AuthorizeLine grants issuer-side authorization to holder's line. Safe to
// call when the line is already authorized.
func (v *Validator) AuthorizeLine(ctx context.Context, issuer xrpl.Credential, holder, currency string) error {
	line, err := v.LineState(ctx, holder, issuer.Address, currency)
	if err != nil && !errors.Is(err, ErrNoTrustLine) {
		return err
	}
	if line != nil && line.PeerAuthorized {
		return nil
	}
	tx := xrpl.TrustSet(issuer.Address, xrpl.IssuedAmount(currency, holder, "0"), xrpl.TfSetfAuth)
	res, err := v.ledger.Submit(ctx, issuer, tx)
	if err != nil {
		return fmt.Errorf("trustline: authorize %s for %s: %w", currency, holder, err)
	}
	v.logger.Info("trust line authorized", "holder", holder, "issuer", issuer.Address, "currency", currency, "tx_hash", res.Hash)
	return nil
}

// EnsureFunded issues the shortfall so holder holds at least minimum.
func (v *Validator) EnsureFunded(ctx context.Context, issuer xrpl.Credential, holder, currency string, minimum iou.Amount) error {
	ok, err := v.HasTrustLine(ctx, holder, issuer.Address, currency)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s cannot receive %s", ErrNoTrustLine, holder, currency)
	}
	current, err := v.balance(ctx, holder, issuer.Address, currency)
	if err != nil {
		return err
	}
	short := minimum.Sub(current)
	if short.Sign() <= 0 {
		return nil
	}

	tx := xrpl.Payment(issuer.Address, holder, xrpl.IssuedAmount(currency, issuer.Address, short.String()))
	res, err := v.ledger.Submit(ctx, issuer, tx)
	if err != nil {
		return fmt.Errorf("trustline: issue %s %s to %s: %w", short, currency, holder, err)
	}
	topUps.Inc()
	v.logger.Info("token balance topped up", "holder", holder, "currency", currency, "issued", short.String(), "tx_hash", res.Hash)
	return nil
}

// -----------------------------------------------------------------------------
// Advisory
// -----------------------------------------------------------------------------

// AdvisoryOutcome is the result of a best-effort step.
type AdvisoryOutcome string

const (
	AdvisoryApplied    AdvisoryOutcome = "applied"
	AdvisoryAlreadySet AdvisoryOutcome = "already_set"
	AdvisoryFailed     AdvisoryOutcome = "failed"
)

// Advisory reports a best-effort step without failing the caller.
type Advisory struct {
	Outcome AdvisoryOutcome
	Reason  string
}

// EnableLineLocking asks the ledger to allow escrows of this issuer's tokens.
// Networks without the amendment reject the flag; that is reported, not fatal.
func (v *Validator) EnableLineLocking(ctx context.Context, issuer xrpl.Credential) Advisory {
	v.lockingMu.Lock()
	defer v.lockingMu.Unlock()

	if v.lockingDone {
		return Advisory{Outcome: AdvisoryAlreadySet}
	}

	info, err := v.ledger.AccountInfo(ctx, issuer.Address)
	if err != nil {
		return v.advisoryFailed(err)
	}
	if info.HasFlag(xrpl.LsfAllowTrustLineLocking) {
		v.lockingDone = true
		return Advisory{Outcome: AdvisoryAlreadySet}
	}

	if _, err := v.ledger.Submit(ctx, issuer, xrpl.AccountSetFlag(issuer.Address, xrpl.AsfAllowTrustLineLocking)); err != nil {
		return v.advisoryFailed(err)
	}
	v.lockingDone = true
	return Advisory{Outcome: AdvisoryApplied}
}

func (v *Validator) advisoryFailed(err error) Advisory {
	reason := err.Error()
	if rej, ok := xrpl.IsRejection(err); ok {
		reason = rej.Code
	}
	v.logger.Warn("trust line locking not enabled", "issuer", v.issuer.Address, "reason", reason)
	return Advisory{Outcome: AdvisoryFailed, Reason: reason}
}

// -----------------------------------------------------------------------------
// Preflight
// -----------------------------------------------------------------------------

// Preflight is the gate before any lock transaction. It returns the owner
// and issuer credentials once a transfer of amount to destination is
// deliverable, or a *PreconditionError naming what is wrong.
func (v *Validator) Preflight(ctx context.Context, destination string, amount iou.Amount) (xrpl.Credential, xrpl.Credential, error) {
	ctx, span := traces.StartSpan(ctx, "trustline.Preflight",
		traces.Account(destination), traces.Amount(amount.String()))
	defer span.End()

	owner, issuer, currency := v.owner, v.issuer, v.cfg.Currency
	fail := func(err error) (xrpl.Credential, xrpl.Credential, error) {
		var pe *PreconditionError
		if errors.As(err, &pe) {
			preflightRejections.WithLabelValues(pe.Code).Inc()
		}
		traces.Fail(span, err)
		return xrpl.Credential{}, xrpl.Credential{}, err
	}

	// 1. Line locking, advisory only.
	v.EnableLineLocking(ctx, issuer)

	// 2. Destination line must exist; only our own principals get one opened.
	ok, err := v.HasTrustLine(ctx, destination, issuer.Address, currency)
	if err != nil {
		return fail(err)
	}
	if !ok {
		cred, provisioned := v.provisioned[destination]
		if !provisioned {
			return fail(missingLine(destination, issuer.Address, currency))
		}
		if err := v.EnsureTrustLine(ctx, cred, issuer.Address, currency, v.cfg.TrustLimit); err != nil {
			return fail(err)
		}
	}
	if err := v.EnsureTrustLine(ctx, owner, issuer.Address, currency, v.cfg.TrustLimit); err != nil {
		return fail(err)
	}

	// 3. Authorization policy.
	requiresAuth, err := v.reconcileAuthPolicy(ctx)
	if err != nil {
		return fail(err)
	}
	if requiresAuth {
		if err := v.AuthorizeLine(ctx, issuer, owner.Address, currency); err != nil {
			return fail(err)
		}
		if err := v.AuthorizeLine(ctx, issuer, destination, currency); err != nil {
			return fail(err)
		}
	}

	// 4. Freezes.
	ownerLine, err := v.LineState(ctx, owner.Address, issuer.Address, currency)
	if err != nil {
		return fail(err)
	}
	destLine, err := v.LineState(ctx, destination, issuer.Address, currency)
	if err != nil {
		return fail(err)
	}
	v.logger.Debug("preflight lines", "owner_line", describe(ownerLine), "destination_line", describe(destLine))
	if ownerLine.Frozen() {
		return fail(frozenLine("Owner", owner.Address, issuer.Address, currency))
	}
	if destLine.Frozen() {
		return fail(frozenLine("Destination", destination, issuer.Address, currency))
	}

	// 5. Owner balance.
	if v.cfg.AutoFund {
		if err := v.EnsureFunded(ctx, issuer, owner.Address, currency, amount); err != nil {
			return fail(err)
		}
	}
	bal, err := v.TokenBalance(ctx, owner.Address)
	if err != nil {
		return fail(err)
	}
	if bal.LessThan(amount) {
		return fail(shortBalance(owner.Address, issuer.Address, currency, bal.String(), amount.String()))
	}

	return owner, issuer, nil
}

// reconcileAuthPolicy applies the configured RequireAuth policy. Enabling
// is mandatory; clearing is best-effort and a failure leaves auth required.
func (v *Validator) reconcileAuthPolicy(ctx context.Context) (bool, error) {
	err := v.EnsureIssuerAuthorizationPolicy(ctx, v.issuer, v.cfg.RequireAuth)
	if err == nil {
		return v.cfg.RequireAuth, nil
	}
	if v.cfg.RequireAuth {
		return false, err
	}
	v.logger.Warn("could not clear issuer RequireAuth, authorizing lines instead", "issuer", v.issuer.Address, "error", err)
	return true, nil
}

// -----------------------------------------------------------------------------
// Provision
// -----------------------------------------------------------------------------

// Provision prepares the controlled wallets at startup: authorization policy,
// trust lines, line locking, authorization grants and minimum balances.
func (v *Validator) Provision(ctx context.Context) error {
	ctx, span := traces.StartSpan(ctx, "trustline.Provision")
	defer span.End()

	issuer, currency := v.issuer, v.cfg.Currency

	// RequireAuth can only be enabled while the issuer owns no trust lines.
	if v.cfg.RequireAuth {
		if err := v.EnsureIssuerAuthorizationPolicy(ctx, issuer, true); err != nil {
			return err
		}
	}

	holders := append([]xrpl.Credential{v.owner}, v.provisionedList()...)
	for _, h := range holders {
		if err := v.EnsureTrustLine(ctx, h, issuer.Address, currency, v.cfg.TrustLimit); err != nil {
			return err
		}
	}

	if adv := v.EnableLineLocking(ctx, issuer); adv.Outcome != AdvisoryFailed {
		v.logger.Info("trust line locking", "outcome", adv.Outcome)
	}

	if v.cfg.RequireAuth {
		for _, h := range holders {
			if err := v.AuthorizeLine(ctx, issuer, h.Address, currency); err != nil {
				return err
			}
		}
	}

	if v.cfg.OwnerMinimum.Sign() > 0 {
		if err := v.EnsureFunded(ctx, issuer, v.owner.Address, currency, v.cfg.OwnerMinimum); err != nil {
			return err
		}
	}
	if v.cfg.ClientMinimum.Sign() > 0 {
		for _, h := range v.provisionedList() {
			if err := v.EnsureFunded(ctx, issuer, h.Address, currency, v.cfg.ClientMinimum); err != nil {
				return err
			}
		}
	}

	for _, h := range holders {
		bal, err := v.TokenBalance(ctx, h.Address)
		if err != nil {
			return err
		}
		v.logger.Info("startup token balance", "holder", h.Address, "currency", currency, "balance", bal.String())
	}
	return nil
}

func (v *Validator) provisionedList() []xrpl.Credential {
	out := make([]xrpl.Credential, 0, len(v.provisioned))
	for addr, c := range v.provisioned {
		if addr == v.owner.Address {
			continue
		}
		out = append(out, c)
	}
	return out
}

func describe(l *xrpl.TrustLine) string {
	if l == nil {
		return "(no line)"
	}
	return fmt.Sprintf("bal=%s limit=%s auth=%t peer_auth=%t freeze=%t peer_freeze=%t",
		l.Balance, l.Limit, l.Authorized, l.PeerAuthorized, l.Freeze, l.PeerFreeze)
}
