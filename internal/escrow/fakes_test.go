package escrow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

const (
	ownerAddr    = "rOwnerInsurer1111111111111111111"
	issuerAddr   = "rIssuerGateway111111111111111111"
	clientAddr   = "rClientPolicyHolder1111111111111"
	strangerAddr = "rStranger11111111111111111111111"

	ownerToken    = "st_owner"
	clientToken   = "st_client"
	strangerToken = "st_stranger"
)

// fakeLedger hands out sequences from 100 and hashes of the form
// "<TransactionType>-<Sequence>". Submissions succeed unless an error is
// queued for the transaction type.
type fakeLedger struct {
	mu         sync.Mutex
	nextSeq    uint32
	index      uint32
	closeTime  uint32
	failures   map[string][]error
	outcomes   map[string]*xrpl.Outcome
	outcomeErr error
	prepared   []*xrpl.Transaction
	submitted  []*xrpl.Prepared
	onSubmit   func(p *xrpl.Prepared)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		nextSeq:   100,
		index:     5000,
		closeTime: 780000000,
		failures:  make(map[string][]error),
		outcomes:  make(map[string]*xrpl.Outcome),
	}
}

func (f *fakeLedger) failNext(txType string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[txType] = append(f.failures[txType], err)
}

func (f *fakeLedger) setOutcome(hash string, status xrpl.OutcomeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[hash] = &xrpl.Outcome{Status: status, EngineResult: "tesSUCCESS"}
	if status != xrpl.OutcomeSucceeded {
		f.outcomes[hash].EngineResult = "tecNO_PERMISSION"
	}
}

func (f *fakeLedger) submissions(txType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.submitted {
		if p.TransactionType == txType {
			n++
		}
	}
	return n
}

func (f *fakeLedger) lastPrepared() *xrpl.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prepared) == 0 {
		return nil
	}
	return f.prepared[len(f.prepared)-1]
}

func (f *fakeLedger) Prepare(_ context.Context, signer xrpl.Credential, tx *xrpl.Transaction) (*xrpl.Prepared, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.nextSeq
	f.nextSeq++
	cp := *tx
	cp.Sequence = seq
	cp.LastLedgerSequence = f.index + 20
	f.prepared = append(f.prepared, &cp)

	return &xrpl.Prepared{
		TransactionType:    tx.TransactionType,
		Account:            signer.Address,
		Sequence:           seq,
		LastLedgerSequence: f.index + 20,
		Hash:               fmt.Sprintf("%s-%d", tx.TransactionType, seq),
		Blob:               "BLOB",
	}, nil
}

func (f *fakeLedger) SubmitAndWait(_ context.Context, p *xrpl.Prepared) (*xrpl.TxResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, p)
	hook := f.onSubmit
	var err error
	if q := f.failures[p.TransactionType]; len(q) > 0 {
		err = q[0]
		f.failures[p.TransactionType] = q[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	if err != nil {
		return nil, err
	}
	return &xrpl.TxResult{Hash: p.Hash, EngineResult: "tesSUCCESS", LedgerIndex: f.index, Sequence: p.Sequence}, nil
}

func (f *fakeLedger) Outcome(_ context.Context, hash string, _ uint32) (*xrpl.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomeErr != nil {
		return nil, f.outcomeErr
	}
	if out, ok := f.outcomes[hash]; ok {
		return out, nil
	}
	return &xrpl.Outcome{Status: xrpl.OutcomePending}, nil
}

func (f *fakeLedger) ValidatedLedger(_ context.Context) (*xrpl.LedgerInfo, error) {
	return &xrpl.LedgerInfo{Index: f.index, CloseTime: f.closeTime}, nil
}

func timeoutErr(hash string) error {
	return &xrpl.TxError{Op: "confirm", TxHash: hash, Err: xrpl.ErrTimeout}
}

type fakePreflight struct {
	err   error
	calls int
}

func (f *fakePreflight) Preflight(_ context.Context, _ string, _ iou.Amount) (xrpl.Credential, xrpl.Credential, error) {
	f.calls++
	if f.err != nil {
		return xrpl.Credential{}, xrpl.Credential{}, f.err
	}
	return xrpl.Credential{Address: ownerAddr, Seed: "sOwner"}, xrpl.Credential{Address: issuerAddr, Seed: "sIssuer"}, nil
}

func (f *fakePreflight) Currency() string { return "USD" }

type fakeSessions map[string]string

func (f fakeSessions) Resolve(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", session.ErrNoSession
	}
	p, ok := f[token]
	if !ok {
		return "", session.ErrInvalidSession
	}
	return p, nil
}

type fakeSigners map[string]xrpl.Credential

func (f fakeSigners) Lookup(address string) (xrpl.Credential, error) {
	c, ok := f[address]
	if !ok {
		return xrpl.Credential{}, fmt.Errorf("unknown address %s", address)
	}
	return c, nil
}

type recordedEvent struct {
	Type string
	Data map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) BroadcastEscrow(eventType string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Type: eventType, Data: data})
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc       *Service
	registry  *MemoryRegistry
	ledger    *fakeLedger
	preflight *fakePreflight
	notifier  *fakeNotifier
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		registry:  NewMemoryRegistry(),
		ledger:    newFakeLedger(),
		preflight: &fakePreflight{},
		notifier:  &fakeNotifier{},
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	sessions := fakeSessions{
		ownerToken:    ownerAddr,
		clientToken:   clientAddr,
		strangerToken: strangerAddr,
	}
	signers := fakeSigners{
		ownerAddr: {Address: ownerAddr, Seed: "sOwner"},
	}
	h.svc = NewService(h.registry, h.ledger, h.preflight, sessions, signers).WithNotifier(h.notifier)
	h.svc.now = func() time.Time { return h.clock }
	h.registry.now = func() time.Time { return h.clock }
	return h
}

// tick advances the harness clock so created_at ordering is deterministic.
func (h *harness) tick() {
	h.clock = h.clock.Add(time.Second)
}

func (h *harness) create(t *testing.T, amount string) *Escrow {
	t.Helper()
	h.tick()
	res, err := h.svc.Create(context.Background(), clientToken, amount)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return res.Escrow
}
