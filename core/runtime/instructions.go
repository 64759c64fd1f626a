package runtime

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"paygate/core/types"
	"paygate/crypto"
)

// Instruction payloads carried in Transaction.Data. Addresses are bech32
// strings with the pay prefix or 0x-prefixed hex.

type InitializeSessionPayload struct {
	TokenMint string `json:"tokenMint"`
	Amount    uint64 `json:"amount"`
}

type PayWithTokenPayload struct {
	Session              string `json:"session"`
	TokenMint            string `json:"tokenMint"`
	PayerTokenAccount    string `json:"payerTokenAccount"`
	MerchantTokenAccount string `json:"merchantTokenAccount"`
}

type InitializeMerchantPayload struct {
	MerchantID string `json:"merchantId"`
	FeeRate    uint64 `json:"feeRate"`
}

type CreatePaymentIntentPayload struct {
	Merchant     string `json:"merchant"`
	PaymentID    string `json:"paymentId"`
	Amount       uint64 `json:"amount"`
	CurrencyMint string `json:"currencyMint,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
}

type ProcessPaymentPayload struct {
	PaymentID           string `json:"paymentId"`
	Merchant            string `json:"merchant"`
	MerchantDestination string `json:"merchantDestination"`
	PlatformDestination string `json:"platformDestination"`
	PayerSource         string `json:"payerSource,omitempty"`
}

type CreateMintPayload struct {
	Seed     string `json:"seed"`
	Decimals uint8  `json:"decimals"`
}

type MintToPayload struct {
	Mint        string `json:"mint"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

// CreateTokenAccountPayload opens the associated account of Owner, or of the
// signer when Owner is empty.
type CreateTokenAccountPayload struct {
	Owner string `json:"owner,omitempty"`
	Mint  string `json:"mint"`
}

type TransferNativePayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// NewTransaction encodes payload as the instruction data of a transaction.
func NewTransaction(txType types.TxType, nonce uint64, payload interface{}) (*types.Transaction, error) {
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: type %d", ErrUnknownInstruction, txType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &types.Transaction{Type: txType, Nonce: nonce, Data: data}, nil
}

// NewSignedTransaction builds and signs a transaction in one step.
func NewSignedTransaction(key *ecdsa.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) (*types.Transaction, error) {
	tx, err := NewTransaction(txType, nonce, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}

func decodePayload(data json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return addr, nil
}

func parseOptionalAddress(field, raw string) (*[20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	addr, err := parseAddress(field, raw)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}
