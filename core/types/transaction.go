package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType identifies the instruction carried by a transaction.
type TxType byte

const (
	TxTypeInitializeSession   TxType = 0x01 // Merchant opens a fixed-amount token session
	TxTypePayWithToken        TxType = 0x02 // Payer settles a session
	TxTypeInitializeMerchant  TxType = 0x03 // Authority registers a merchant with a fee rate
	TxTypeCreatePaymentIntent TxType = 0x04 // Merchant authority opens an intent
	TxTypeProcessPayment      TxType = 0x05 // Payer settles an intent, fee split applied
	TxTypeCreateMint          TxType = 0x10
	TxTypeMintTo              TxType = 0x11
	TxTypeCreateTokenAccount  TxType = 0x12
	TxTypeTransferNative      TxType = 0x13
)

var txTypeNames = map[TxType]string{
	TxTypeInitializeSession:   "initialize_session",
	TxTypePayWithToken:        "pay_with_token",
	TxTypeInitializeMerchant:  "initialize_merchant",
	TxTypeCreatePaymentIntent: "create_payment_intent",
	TxTypeProcessPayment:      "process_payment",
	TxTypeCreateMint:          "create_mint",
	TxTypeMintTo:              "mint_to",
	TxTypeCreateTokenAccount:  "create_token_account",
	TxTypeTransferNative:      "transfer_native",
}

// String returns the snake_case instruction name, or "unknown".
func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the type names a supported instruction.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// ErrMissingSignature is returned when a transaction has not been signed.
var ErrMissingSignature = errors.New("transaction: missing signature")

// Transaction carries a single instruction together with the signer's nonce
// and a recoverable secp256k1 signature. Data holds the JSON instruction
// payload.
type Transaction struct {
	Type  TxType          `json:"type"`
	Nonce uint64          `json:"nonce"`
	Data  json.RawMessage `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every field except the signature.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		Data  json.RawMessage
	}{tx.Type, tx.Nonce, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// HashHex returns the 0x-prefixed transaction hash, or an empty string when
// the payload cannot be encoded.
func (tx *Transaction) HashHex() string {
	hash, err := tx.Hash()
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(hash)
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || tx.V.Uint64() < 27 {
		return nil, errors.New("transaction: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}

// Sender returns the recovered signer as a fixed size address.
func (tx *Transaction) Sender() ([20]byte, error) {
	var out [20]byte
	from, err := tx.From()
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}
