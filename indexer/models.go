package indexer

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Intent statuses mirrored from the gateway program.
const (
	IntentCreated   = "created"
	IntentCompleted = "completed"
)

// Amount converts v to the column representation.
func Amount(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Units converts a stored amount back to base units. Values outside the
// uint64 range read as zero with ok false.
func Units(d decimal.Decimal) (uint64, bool) {
	if !d.IsInteger() || d.Sign() < 0 {
		return 0, false
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// Merchant is the read model of a registered merchant. Amounts are stored
// as decimal strings because SQL integer columns are signed 64-bit.
type Merchant struct {
	Address        string          `gorm:"primaryKey;size:64"`
	MerchantID     string          `gorm:"uniqueIndex;size:32"`
	Authority      string          `gorm:"index;size:64"`
	FeeRate        decimal.Decimal `gorm:"type:varchar(20);not null"`
	TotalProcessed decimal.Decimal `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Intent is the read model of a payment intent.
type Intent struct {
	Address        string          `gorm:"primaryKey;size:64"`
	PaymentID      string          `gorm:"uniqueIndex;size:32"`
	Merchant       string          `gorm:"index;size:64"`
	Amount         decimal.Decimal `gorm:"type:varchar(20);not null"`
	CurrencyMint   string          `gorm:"size:64"`
	Status         string          `gorm:"index;size:16"`
	Metadata       string          `gorm:"size:200"`
	OpenedAt       uint64
	ProcessedAt    *uint64
	Payer          *string         `gorm:"size:64"`
	Fee            decimal.Decimal `gorm:"type:varchar(20);not null"`
	MerchantAmount decimal.Decimal `gorm:"type:varchar(20);not null"`
	UpdatedAt      time.Time
}

// Session is the read model of a fixed-amount token session.
type Session struct {
	Address   string          `gorm:"primaryKey;size:64"`
	Merchant  string          `gorm:"index;size:64"`
	TokenMint string          `gorm:"size:64"`
	Amount    decimal.Decimal `gorm:"type:varchar(20);not null"`
	Paid      bool
	Payer     *string `gorm:"size:64"`
	UpdatedAt time.Time
}

// EventLog stores every committed event verbatim.
type EventLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index;size:64"`
	Attributes string
	CreatedAt  time.Time `gorm:"index"`
}

// AutoMigrate creates or updates the read model tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Merchant{}, &Intent{}, &Session{}, &EventLog{})
}
