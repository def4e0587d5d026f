package apiclient

import "time"

// LoginResponse is returned by Login.
type LoginResponse struct {
	Token     string     `json:"token"`
	Principal string     `json:"principal"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Escrow is the public view of an escrow record.
type Escrow struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Destination   string     `json:"destination"`
	OfferSequence uint32     `json:"offerSequence"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Issuer        string     `json:"issuer"`
	Condition     string     `json:"condition"`
	State         string     `json:"state"`
	CreateTxID    string     `json:"createTxId"`
	FinishTxID    string     `json:"finishTxId,omitempty"`
	CancelTxID    string     `json:"cancelTxId,omitempty"`
	CancelAfter   time.Time  `json:"cancelAfter"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// ActionResponse is returned by create, finish and cancel. Done mirrors
// Finished or Canceled for the respective call.
type ActionResponse struct {
	EscrowID string  `json:"escrowId"`
	TxHash   string  `json:"txHash,omitempty"`
	Message  string  `json:"message"`
	Finished bool    `json:"finished,omitempty"`
	Canceled bool    `json:"canceled,omitempty"`
	Done     bool    `json:"-"`
	Escrow   *Escrow `json:"escrow"`
}

// DecisionResponse is returned by SubmitDecision.
type DecisionResponse struct {
	Decision string `json:"decision"`
	EscrowID string `json:"escrowId,omitempty"`
	Finished bool   `json:"finished"`
	TxHash   string `json:"txHash,omitempty"`
	Message  string `json:"message"`
}

// Balance reports XRP and token holdings. Amounts are decimal strings.
type Balance struct {
	Address  string `json:"address"`
	XRP      string `json:"xrp"`
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Token    string `json:"token"`
}
