// Package keyring holds the service's signing credentials.
//
// Three wallets take part in the escrow flow: the owner (the insurer, who
// locks tokens), the issuer of the token, and the client (the beneficiary).
// Seeds come from configuration, from a local key file, or on test networks
// from a faucet, in that order.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/validation"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

var (
	ErrUnknownAccount = errors.New("keyring: no signing credential for account")
	ErrMissingWallet  = errors.New("keyring: wallet not configured")
	ErrInvalidWallet  = errors.New("keyring: invalid wallet")
)

// Role names a wallet by its part in the escrow flow.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleIssuer Role = "issuer"
	RoleClient Role = "client"
)

// Roles lists every role in bootstrap order.
var Roles = []Role{RoleIssuer, RoleOwner, RoleClient}

func (r Role) envPrefix() string {
	switch r {
	case RoleOwner:
		return "OWNER"
	case RoleIssuer:
		return "ISSUER"
	case RoleClient:
		return "CLIENT"
	}
	return ""
}

// Keyring maps roles and addresses to credentials.
type Keyring struct {
	mu     sync.RWMutex
	byRole map[Role]xrpl.Credential
	byAddr map[string]xrpl.Credential
}

// New builds a keyring from complete credentials.
func New(creds map[Role]xrpl.Credential) (*Keyring, error) {
	k := &Keyring{
		byRole: make(map[Role]xrpl.Credential, len(creds)),
		byAddr: make(map[string]xrpl.Credential, len(creds)),
	}
	for role, cred := range creds {
		if err := k.add(role, cred); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *Keyring) add(role Role, cred xrpl.Credential) error {
	if !validation.IsValidXRPLAddress(cred.Address) {
		return fmt.Errorf("%w: %s address %q", ErrInvalidWallet, role, cred.Address)
	}
	if cred.Seed == "" {
		return fmt.Errorf("%w: %s seed missing", ErrInvalidWallet, role)
	}
	k.mu.Lock()
	k.byRole[role] = cred
	k.byAddr[cred.Address] = cred
	k.mu.Unlock()
	return nil
}

// Get returns the credential for role.
func (k *Keyring) Get(role Role) (xrpl.Credential, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	cred, ok := k.byRole[role]
	return cred, ok
}

// Owner returns the escrow owner's credential.
func (k *Keyring) Owner() xrpl.Credential {
	c, _ := k.Get(RoleOwner)
	return c
}

// Issuer returns the token issuer's credential.
func (k *Keyring) Issuer() xrpl.Credential {
	c, _ := k.Get(RoleIssuer)
	return c
}

// Client returns the beneficiary's credential.
func (k *Keyring) Client() xrpl.Credential {
	c, _ := k.Get(RoleClient)
	return c
}

// Lookup returns the signing credential for address.
func (k *Keyring) Lookup(address string) (xrpl.Credential, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	cred, ok := k.byAddr[address]
	if !ok {
		return xrpl.Credential{}, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
	}
	return cred, nil
}

// Has reports whether the keyring can sign for address.
func (k *Keyring) Has(address string) bool {
	_, err := k.Lookup(address)
	return err == nil
}

// Addresses returns the public address of every known role.
func (k *Keyring) Addresses() map[Role]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[Role]string, len(k.byRole))
	for role, cred := range k.byRole {
		out[role] = cred.Address
	}
	return out
}

// -----------------------------------------------------------------------------
// Bootstrap
// -----------------------------------------------------------------------------

// Faucet creates and funds test-network accounts.
type Faucet interface {
	NewAccount(ctx context.Context) (xrpl.Credential, error)
	Fund(ctx context.Context, address string) error
}

// AccountReader checks whether an account exists on the ledger.
type AccountReader interface {
	AccountInfo(ctx context.Context, address string) (*xrpl.AccountInfo, error)
}

// BootstrapConfig describes where wallets come from.
type BootstrapConfig struct {
	Configured        map[Role]xrpl.Credential
	KeyFile           string
	Roles             []Role
	ActivationTimeout time.Duration
	PollInterval      time.Duration
}

// Bootstrap assembles a keyring. Roles without configured or stored seeds
// get a new faucet account when faucet is non-nil; the new seeds are
// written to cfg.KeyFile with owner-only permissions. Existing accounts
// that are not yet on the ledger are funded through the faucet.
func Bootstrap(ctx context.Context, cfg BootstrapConfig, faucet Faucet, ledger AccountReader, logger *slog.Logger) (*Keyring, error) {
	if logger == nil {
		logger = slog.Default()
	}
	roles := cfg.Roles
	if len(roles) == 0 {
		roles = Roles
	}
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	stored := map[string]string{}
	if cfg.KeyFile != "" {
		if m, err := godotenv.Read(cfg.KeyFile); err == nil {
			stored = m
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keyring: read %s: %w", cfg.KeyFile, err)
		}
	}

	k, err := New(nil)
	if err != nil {
		return nil, err
	}

	generated := false
	for _, role := range roles {
		cred, source := resolve(role, cfg.Configured, stored)

		switch {
		case cred.CanSign():
			if err := k.add(role, cred); err != nil {
				return nil, err
			}
			if ledger != nil && faucet != nil {
				if err := ensureActivated(ctx, cred.Address, faucet, ledger, cfg); err != nil {
					return nil, fmt.Errorf("keyring: activate %s: %w", role, err)
				}
			}
			logger.Info("wallet loaded", "role", role, "address", cred.Address, "source", source)

		case faucet != nil:
			cred, err := faucet.NewAccount(ctx)
			if err != nil {
				return nil, fmt.Errorf("keyring: generate %s: %w", role, err)
			}
			if err := k.add(role, cred); err != nil {
				return nil, err
			}
			if ledger != nil {
				if err := waitActivated(ctx, cred.Address, ledger, cfg); err != nil {
					return nil, fmt.Errorf("keyring: activate %s: %w", role, err)
				}
			}
			stored[role.envPrefix()+"_ADDRESS"] = cred.Address
			stored[role.envPrefix()+"_SEED"] = cred.Seed
			generated = true
			logger.Info("wallet generated", "role", role, "address", cred.Address)

		default:
			return nil, fmt.Errorf("%w: %s (set %s_ADDRESS and %s_SEED)", ErrMissingWallet, role, role.envPrefix(), role.envPrefix())
		}
	}

	if generated && cfg.KeyFile != "" {
		if err := persist(cfg.KeyFile, stored); err != nil {
			return nil, err
		}
		logger.Info("generated wallets saved", "path", cfg.KeyFile)
	}
	return k, nil
}

func resolve(role Role, configured map[Role]xrpl.Credential, stored map[string]string) (xrpl.Credential, string) {
	if cred, ok := configured[role]; ok && cred.CanSign() {
		return cred, "config"
	}
	cred := xrpl.Credential{
		Address: stored[role.envPrefix()+"_ADDRESS"],
		Seed:    stored[role.envPrefix()+"_SEED"],
	}
	if cred.CanSign() {
		return cred, "keyfile"
	}
	return xrpl.Credential{}, ""
}

func ensureActivated(ctx context.Context, address string, faucet Faucet, ledger AccountReader, cfg BootstrapConfig) error {
	_, err := ledger.AccountInfo(ctx, address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, xrpl.ErrAccountNotFound) {
		return err
	}
	if err := faucet.Fund(ctx, address); err != nil {
		return err
	}
	return waitActivated(ctx, address, ledger, cfg)
}

// waitActivated polls until address appears in a validated ledger.
func waitActivated(ctx context.Context, address string, ledger AccountReader, cfg BootstrapConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ActivationTimeout)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		_, err := ledger.AccountInfo(ctx, address)
		if err == nil {
			return nil
		}
		if !errors.Is(err, xrpl.ErrAccountNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s not validated in time", xrpl.ErrTimeout, address)
		case <-ticker.C:
		}
	}
}

func persist(path string, values map[string]string) error {
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("keyring: write %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("keyring: chmod %s: %w", path, err)
	}
	return nil
}
