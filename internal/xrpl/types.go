package xrpl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Transaction types used by the escrow service.
const (
	TxEscrowCreate = "EscrowCreate"
	TxEscrowFinish = "EscrowFinish"
	TxEscrowCancel = "EscrowCancel"
	TxTrustSet     = "TrustSet"
	TxAccountSet   = "AccountSet"
	TxPayment      = "Payment"
)

// Account and transaction flags.
const (
	AsfRequireAuth           uint32 = 2
	AsfAllowTrustLineLocking uint32 = 17

	LsfRequireAuth           uint32 = 0x00040000
	LsfAllowTrustLineLocking uint32 = 0x40000000

	TfSetfAuth uint32 = 0x00010000
)

// ResultSuccess is the only engine result this service treats as success.
const ResultSuccess = "tesSUCCESS"

// RippleEpochOffset is seconds between the Unix epoch and 2000-01-01T00:00:00Z.
const RippleEpochOffset = 946684800

// ToRippleTime converts wall-clock time to ledger time.
func ToRippleTime(t time.Time) uint32 {
	return uint32(t.Unix() - RippleEpochOffset)
}

// FromRippleTime converts ledger time to wall-clock time.
func FromRippleTime(v uint32) time.Time {
	return time.Unix(int64(v)+RippleEpochOffset, 0).UTC()
}

// Credential is a signing identity. The seed never leaves the process
// except as the secret of a sign request to the configured node.
type Credential struct {
	Address string `json:"address"`
	Seed    string `json:"-"`
}

func (c Credential) String() string { return c.Address }

// LogValue keeps seeds out of structured logs.
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.Address) }

// CanSign reports whether the credential carries a seed.
func (c Credential) CanSign() bool { return c.Address != "" && c.Seed != "" }

// Amount is either XRP in drops or an issued-currency value.
type Amount struct {
	Currency string
	Issuer   string
	Value    string
	Drops    string
}

// IssuedAmount builds a token amount.
func IssuedAmount(currency, issuer, value string) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

// DropsAmount builds an XRP amount.
func DropsAmount(drops string) Amount {
	return Amount{Drops: drops}
}

// IsXRP reports whether a is denominated in drops.
func (a Amount) IsXRP() bool { return a.Currency == "" }

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsXRP() {
		return json.Marshal(a.Drops)
	}
	return json.Marshal(struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}{a.Currency, a.Issuer, a.Value})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var drops string
		if err := json.Unmarshal(b, &drops); err != nil {
			return err
		}
		*a = Amount{Drops: drops}
		return nil
	}
	var obj struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("xrpl: decode amount: %w", err)
	}
	*a = Amount{Currency: obj.Currency, Issuer: obj.Issuer, Value: obj.Value}
	return nil
}

// Transaction is the subset of transaction fields this service builds.
// Fee is left to the signing node.
type Transaction struct {
	TransactionType    string  `json:"TransactionType"`
	Account            string  `json:"Account"`
	Destination        string  `json:"Destination,omitempty"`
	Amount             *Amount `json:"Amount,omitempty"`
	LimitAmount        *Amount `json:"LimitAmount,omitempty"`
	Owner              string  `json:"Owner,omitempty"`
	OfferSequence      uint32  `json:"OfferSequence,omitempty"`
	Condition          string  `json:"Condition,omitempty"`
	Fulfillment        string  `json:"Fulfillment,omitempty"`
	CancelAfter        uint32  `json:"CancelAfter,omitempty"`
	SetFlag            uint32  `json:"SetFlag,omitempty"`
	ClearFlag          uint32  `json:"ClearFlag,omitempty"`
	Flags              uint32  `json:"Flags,omitempty"`
	Sequence           uint32  `json:"Sequence,omitempty"`
	LastLedgerSequence uint32  `json:"LastLedgerSequence,omitempty"`
}

// EscrowCreate locks amount from owner for destination under condition.
func EscrowCreate(owner, destination string, amount Amount, condition string, cancelAfter uint32) *Transaction {
	return &Transaction{
		TransactionType: TxEscrowCreate,
		Account:         owner,
		Destination:     destination,
		Amount:          &amount,
		Condition:       condition,
		CancelAfter:     cancelAfter,
	}
}

// EscrowFinish releases the escrow (owner, offerSequence) with its fulfillment.
func EscrowFinish(account, owner string, offerSequence uint32, condition, fulfillment string) *Transaction {
	return &Transaction{
		TransactionType: TxEscrowFinish,
		Account:         account,
		Owner:           owner,
		OfferSequence:   offerSequence,
		Condition:       condition,
		Fulfillment:     fulfillment,
	}
}

// EscrowCancel returns the escrow (owner, offerSequence) to its owner.
func EscrowCancel(account, owner string, offerSequence uint32) *Transaction {
	return &Transaction{
		TransactionType: TxEscrowCancel,
		Account:         account,
		Owner:           owner,
		OfferSequence:   offerSequence,
	}
}

// TrustSet opens or updates the holder's line. For issuer-side
// authorization the issuer is the Account and limit.Issuer is the holder.
func TrustSet(account string, limit Amount, flags uint32) *Transaction {
	return &Transaction{
		TransactionType: TxTrustSet,
		Account:         account,
		LimitAmount:     &limit,
		Flags:           flags,
	}
}

// AccountSetFlag enables an account flag.
func AccountSetFlag(account string, flag uint32) *Transaction {
	return &Transaction{TransactionType: TxAccountSet, Account: account, SetFlag: flag}
}

// AccountClearFlag disables an account flag.
func AccountClearFlag(account string, flag uint32) *Transaction {
	return &Transaction{TransactionType: TxAccountSet, Account: account, ClearFlag: flag}
}

// Payment sends amount from account to destination.
func Payment(account, destination string, amount Amount) *Transaction {
	return &Transaction{
		TransactionType: TxPayment,
		Account:         account,
		Destination:     destination,
		Amount:          &amount,
	}
}

// AccountInfo is the validated root state of an account.
type AccountInfo struct {
	Account  string `json:"Account"`
	Balance  string `json:"Balance"` // drops
	Flags    uint32 `json:"Flags"`
	Sequence uint32 `json:"Sequence"`
}

// HasFlag reports whether the account has the given lsf flag set.
func (a *AccountInfo) HasFlag(flag uint32) bool { return a.Flags&flag != 0 }

// TrustLine is a line as seen from the holder. Account is the counterparty,
// so for a token line it is the issuer. PeerAuthorized means the issuer has
// authorized the holder.
type TrustLine struct {
	Account        string `json:"account"`
	Balance        string `json:"balance"`
	Currency       string `json:"currency"`
	Limit          string `json:"limit"`
	LimitPeer      string `json:"limit_peer"`
	Authorized     bool   `json:"authorized"`
	PeerAuthorized bool   `json:"peer_authorized"`
	Freeze         bool   `json:"freeze"`
	PeerFreeze     bool   `json:"peer_freeze"`
	NoRipple       bool   `json:"no_ripple"`
}

// Frozen reports whether either side has frozen the line.
func (l *TrustLine) Frozen() bool { return l.Freeze || l.PeerFreeze }

// FindLine returns the line to issuer for currency, or nil.
func FindLine(lines []TrustLine, issuer, currency string) *TrustLine {
	for i := range lines {
		if lines[i].Account == issuer && lines[i].Currency == currency {
			line := lines[i]
			return &line
		}
	}
	return nil
}

// LedgerInfo describes the latest validated ledger.
type LedgerInfo struct {
	Index     uint32
	CloseTime uint32 // ledger time
}

// ServerInfo is the subset of server_info the service reports on.
type ServerInfo struct {
	BuildVersion    string `json:"build_version"`
	CompleteLedgers string `json:"complete_ledgers"`
	ServerState     string `json:"server_state"`
}

// Prepared is a signed transaction ready for submission. Sequence is
// known before submission and is what later escrow transactions reference.
type Prepared struct {
	TransactionType    string
	Account            string
	Sequence           uint32
	LastLedgerSequence uint32
	Hash               string
	Blob               string
}

// TxResult is a validated, successful transaction.
type TxResult struct {
	Hash         string `json:"hash"`
	EngineResult string `json:"engineResult"`
	LedgerIndex  uint32 `json:"ledgerIndex"`
	Sequence     uint32 `json:"sequence"`
}

// OutcomeStatus classifies what the ledger knows about a transaction.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeExpired   OutcomeStatus = "expired"
)

// Outcome is the resolution of a transaction hash against the ledger.
type Outcome struct {
	Status       OutcomeStatus
	EngineResult string
	LedgerIndex  uint32
}

// Final reports whether the outcome can no longer change.
func (o *Outcome) Final() bool { return o.Status != OutcomePending }
