package gateway

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"paygate/crypto"
)

// ProgramID identifies the payment gateway program. Every session, merchant
// and payment intent record is owned by it.
var ProgramID = crypto.ProgramID("payment-gateway")

const (
	// MaxMerchantIDLen bounds the merchant identifier used as a seed.
	MaxMerchantIDLen = 32
	// MaxPaymentIDLen bounds the payment identifier used as a seed.
	MaxPaymentIDLen = 32
	// MaxMetadataLen bounds the free-form intent metadata.
	MaxMetadataLen = 200
)

// PaymentStatus enumerates the lifecycle of a payment intent. Only the
// Created to Completed transition is reachable; Failed and Refunded are
// accepted when decoding stored records.
type PaymentStatus uint8

const (
	StatusCreated PaymentStatus = iota
	StatusCompleted
	StatusFailed
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Session is a single fixed-amount token payment opened by a merchant.
// Payer stays zero until the session is paid.
type Session struct {
	Merchant  [20]byte
	Payer     [20]byte
	Amount    uint64
	TokenMint [20]byte
	Paid      bool
	Bump      uint8
}

// PaidBy returns the payer once the session has been settled.
func (s *Session) PaidBy() ([20]byte, bool) {
	if s == nil || !s.Paid {
		return [20]byte{}, false
	}
	return s.Payer, true
}

// Merchant is a registered payee with an immutable fee rate expressed in
// basis points and a running total of processed volume.
type Merchant struct {
	MerchantID     string
	Authority      [20]byte
	FeeRate        uint64
	TotalProcessed uint64
	Bump           uint8
}

// PaymentIntent is a request for payment against a merchant. A nil
// CurrencyMint denotes the native currency. ProcessedAt and Payer are set
// exactly when Status is StatusCompleted.
type PaymentIntent struct {
	PaymentID    string
	Merchant     [20]byte
	Amount       uint64
	CurrencyMint *[20]byte `rlp:"nil"`
	Status       PaymentStatus
	Metadata     string
	CreatedAt    uint64
	ProcessedAt  *uint64   `rlp:"nil"`
	Payer        *[20]byte `rlp:"nil"`
	Bump         uint8
}

// Native reports whether the intent settles in the native currency.
func (p *PaymentIntent) Native() bool { return p.CurrencyMint == nil }

func discriminator(name string) [8]byte {
	var out [8]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(out[:], sum[:8])
	return out
}

var (
	sessionDiscriminator  = discriminator("Session")
	merchantDiscriminator = discriminator("Merchant")
	intentDiscriminator   = discriminator("PaymentIntent")
)

func sessionSeeds(merchant, mint [20]byte, amount uint64) [][]byte {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], amount)
	return [][]byte{[]byte("session"), merchant[:], mint[:], le[:]}
}

func merchantSeeds(merchantID string) [][]byte {
	return [][]byte{[]byte("merchant"), []byte(merchantID)}
}

func intentSeeds(paymentID string) [][]byte {
	return [][]byte{[]byte("payment"), []byte(paymentID)}
}

// SessionAddress derives the session record address for a merchant, mint and
// amount triple.
func SessionAddress(merchant, mint [20]byte, amount uint64) ([20]byte, uint8, error) {
	return crypto.FindDerivedAddress(ProgramID, sessionSeeds(merchant, mint, amount)...)
}

// MerchantAddress derives the merchant record address for merchantID.
func MerchantAddress(merchantID string) ([20]byte, uint8, error) {
	if err := checkID(merchantID, MaxMerchantIDLen, ErrMerchantIDTooLong); err != nil {
		return [20]byte{}, 0, err
	}
	return crypto.FindDerivedAddress(ProgramID, merchantSeeds(merchantID)...)
}

// PaymentIntentAddress derives the intent record address for paymentID.
func PaymentIntentAddress(paymentID string) ([20]byte, uint8, error) {
	if err := checkID(paymentID, MaxPaymentIDLen, ErrPaymentIDTooLong); err != nil {
		return [20]byte{}, 0, err
	}
	return crypto.FindDerivedAddress(ProgramID, intentSeeds(paymentID)...)
}

func checkID(id string, max int, tooLong error) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(id) > max {
		return tooLong
	}
	return nil
}
