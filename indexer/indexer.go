package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"paygate/core/events"
	"paygate/core/types"
	"paygate/native/gateway"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("indexer: not found")

const maxPageSize = 200

// Indexer maintains a queryable copy of gateway records built from committed
// events. It implements events.Emitter so it can be attached to the runtime.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the configured database and migrates the schema. Driver is
// either "sqlite" or "postgres".
func Open(driver, dsn string) (*Indexer, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Indexer, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: slog.Default().With("component", "indexer"),
		now:    time.Now,
	}, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the chain state stays
// authoritative and the read model can be rebuilt.
func (i *Indexer) Emit(evt events.Event) {
	rendered := types.Rendered(evt)
	if rendered == nil {
		return
	}
	if err := i.Apply(context.Background(), rendered); err != nil {
		i.logger.Error("index event", slog.String("type", evt.EventType()), slog.String("error", err.Error()))
	}
}

// Apply folds a single event into the read model.
func (i *Indexer) Apply(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&EventLog{ID: uuid.New(), Type: evt.Type, Attributes: string(attrs), CreatedAt: i.now()}).Error; err != nil {
			return err
		}
		a := evt.Attributes
		switch evt.Type {
		case gateway.EventTypeMerchantInitialized:
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Merchant{
				Address:    a["merchant"],
				MerchantID: a["merchantId"],
				Authority:  a["authority"],
				FeeRate:    amountAttr(evt, "feeRate"),
			}).Error
		case gateway.EventTypeIntentCreated:
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Intent{
				Address:      a["intent"],
				PaymentID:    a["paymentId"],
				Merchant:     a["merchant"],
				Amount:       amountAttr(evt, "amount"),
				CurrencyMint: a["currencyMint"],
				Status:       IntentCreated,
				Metadata:     a["metadata"],
				OpenedAt:     uintAttr(evt, "createdAt"),
			}).Error
		case gateway.EventTypeIntentCompleted:
			processedAt := uintAttr(evt, "processedAt")
			payer := a["payer"]
			if err := tx.Model(&Intent{}).Where("address = ?", a["intent"]).Updates(map[string]interface{}{
				"status":          IntentCompleted,
				"processed_at":    processedAt,
				"payer":           payer,
				"fee":             amountAttr(evt, "fee"),
				"merchant_amount": amountAttr(evt, "merchantAmount"),
			}).Error; err != nil {
				return err
			}
			return tx.Model(&Merchant{}).Where("address = ?", a["merchant"]).
				Update("total_processed", amountAttr(evt, "totalProcessed")).Error
		case gateway.EventTypeSessionInitialized:
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Session{
				Address:   a["session"],
				Merchant:  a["merchant"],
				TokenMint: a["mint"],
				Amount:    amountAttr(evt, "amount"),
			}).Error
		case gateway.EventTypeSessionPaid:
			return tx.Model(&Session{}).Where("address = ?", a["session"]).Updates(map[string]interface{}{
				"paid":  true,
				"payer": a["payer"],
			}).Error
		}
		return nil
	})
}

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalise() Page {
	if p.Limit <= 0 || p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Merchants lists merchants ordered by identifier.
func (i *Indexer) Merchants(ctx context.Context, page Page) ([]Merchant, error) {
	page = page.normalise()
	var out []Merchant
	err := i.db.WithContext(ctx).Order("merchant_id").Limit(page.Limit).Offset(page.Offset).Find(&out).Error
	return out, err
}

// MerchantIntents lists the intents of a merchant, optionally filtered by
// status.
func (i *Indexer) MerchantIntents(ctx context.Context, merchant, status string, page Page) ([]Intent, error) {
	page = page.normalise()
	q := i.db.WithContext(ctx).Where("merchant = ?", merchant)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Intent
	err := q.Order("opened_at DESC, payment_id").Limit(page.Limit).Offset(page.Offset).Find(&out).Error
	return out, err
}

// Intent returns the indexed intent for paymentID.
func (i *Indexer) Intent(ctx context.Context, paymentID string) (*Intent, error) {
	var out Intent
	err := i.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentEvents returns the newest events first.
func (i *Indexer) RecentEvents(ctx context.Context, eventType string, limit int) ([]EventLog, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := i.db.WithContext(ctx)
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	var out []EventLog
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func uintAttr(evt *types.Event, key string) uint64 {
	v, _ := evt.Uint(key)
	return v
}

func amountAttr(evt *types.Event, key string) decimal.Decimal {
	return Amount(uintAttr(evt, key))
}
