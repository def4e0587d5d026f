// Package condition builds PREIMAGE-SHA-256 crypto-conditions for ledger escrows.
//
// A 32-byte random secret is the preimage. The fulfillment carries the
// preimage itself; the condition carries its SHA-256 fingerprint and cost.
// Both are DER encoded and rendered as uppercase hex, which is the form the
// ledger accepts in EscrowCreate.Condition and EscrowFinish.Fulfillment.
package condition

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SecretSize is the preimage length in bytes.
const SecretSize = 32

var (
	ErrInvalidSecret      = errors.New("condition: secret must be 32 bytes")
	ErrInvalidFulfillment = errors.New("condition: malformed fulfillment")
	ErrInvalidCondition   = errors.New("condition: malformed condition")
	ErrMismatch           = errors.New("condition: fulfillment does not satisfy condition")
	ErrEntropy            = errors.New("condition: randomness source failed")
)

// DER prefixes for type 0 (PREIMAGE-SHA-256).
var (
	fulfillmentPrefix = []byte{0xA0, 0x22, 0x80, 0x20}
	conditionPrefix   = []byte{0xA0, 0x25, 0x80, 0x20}
	costSuffix        = []byte{0x81, 0x01, SecretSize}
)

// Triple is a secret together with the condition and fulfillment derived from it.
type Triple struct {
	Secret      string `json:"-"`
	Condition   string `json:"condition"`
	Fulfillment string `json:"-"`
}

// Generate draws a fresh secret and derives its condition and fulfillment.
// A randomness failure is not retryable.
func Generate() (Triple, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return Triple{}, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return Derive(secret)
}

// Derive is a pure function of the secret.
func Derive(secret []byte) (Triple, error) {
	if len(secret) != SecretSize {
		return Triple{}, ErrInvalidSecret
	}
	fingerprint := sha256.Sum256(secret)

	fulfillment := make([]byte, 0, len(fulfillmentPrefix)+SecretSize)
	fulfillment = append(fulfillment, fulfillmentPrefix...)
	fulfillment = append(fulfillment, secret...)

	cond := make([]byte, 0, len(conditionPrefix)+sha256.Size+len(costSuffix))
	cond = append(cond, conditionPrefix...)
	cond = append(cond, fingerprint[:]...)
	cond = append(cond, costSuffix...)

	return Triple{
		Secret:      upperHex(secret),
		Condition:   upperHex(cond),
		Fulfillment: upperHex(fulfillment),
	}, nil
}

// DeriveHex re-derives a triple from a stored hex secret.
func DeriveHex(secretHex string) (Triple, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return Triple{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return Derive(secret)
}

// ParseFulfillment extracts the preimage from a hex-encoded fulfillment.
func ParseFulfillment(fulfillmentHex string) ([]byte, error) {
	raw, err := hex.DecodeString(fulfillmentHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFulfillment, err)
	}
	if len(raw) != len(fulfillmentPrefix)+SecretSize || !bytes.HasPrefix(raw, fulfillmentPrefix) {
		return nil, ErrInvalidFulfillment
	}
	return raw[len(fulfillmentPrefix):], nil
}

// Fingerprint extracts the SHA-256 fingerprint from a hex-encoded condition.
func Fingerprint(conditionHex string) ([]byte, error) {
	raw, err := hex.DecodeString(conditionHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	if len(raw) != len(conditionPrefix)+sha256.Size+len(costSuffix) ||
		!bytes.HasPrefix(raw, conditionPrefix) ||
		!bytes.HasSuffix(raw, costSuffix) {
		return nil, ErrInvalidCondition
	}
	return raw[len(conditionPrefix) : len(conditionPrefix)+sha256.Size], nil
}

// Verify reports whether the fulfillment satisfies the condition.
func Verify(conditionHex, fulfillmentHex string) error {
	fp, err := Fingerprint(conditionHex)
	if err != nil {
		return err
	}
	preimage, err := ParseFulfillment(fulfillmentHex)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(preimage)
	if !bytes.Equal(sum[:], fp) {
		return ErrMismatch
	}
	return nil
}

func upperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
