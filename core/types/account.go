package types

// Account is the native-currency view of an address: its replay nonce and
// spendable balance in base units.
type Account struct {
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// AccountRecord is the envelope stored at a program-owned derived address.
// Owner identifies the program allowed to mutate the record and
// Discriminator names the record type so a program never decodes a record of
// another type stored at an address it was handed.
type AccountRecord struct {
	Owner         [20]byte
	Discriminator [8]byte
	Data          []byte
}

// Clone returns a deep copy of the record.
func (r *AccountRecord) Clone() *AccountRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Data = append([]byte(nil), r.Data...)
	return &clone
}

// Mint describes a fungible token: the address allowed to mint new units,
// the display precision and the outstanding supply.
type Mint struct {
	Authority [20]byte `json:"authority"`
	Decimals  uint8    `json:"decimals"`
	Supply    uint64   `json:"supply"`
}

// TokenAccount holds a balance of a single mint on behalf of an owner.
type TokenAccount struct {
	Mint   [20]byte `json:"mint"`
	Owner  [20]byte `json:"owner"`
	Amount uint64   `json:"amount"`
}
