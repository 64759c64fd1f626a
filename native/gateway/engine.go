package gateway

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/rlp"

	"paygate/core/events"
	"paygate/core/types"
	"paygate/crypto"
	"paygate/native/token"
)

type engineState interface {
	Record(addr [20]byte) (*types.AccountRecord, bool, error)
	CreateRecord(addr [20]byte, record *types.AccountRecord) error
	PutRecord(addr [20]byte, record *types.AccountRecord) error
}

// transferCapability is the token program surface the gateway invokes. Every
// call runs inside the enclosing transaction and is rolled back with it.
type transferCapability interface {
	Transfer(amount uint64, from, to, authority [20]byte) error
	TransferNative(amount uint64, from, to [20]byte) error
	LoadMint(addr [20]byte) (*types.Mint, error)
	LoadAccount(addr [20]byte) (*types.TokenAccount, error)
}

// Engine executes the payment gateway instructions against program-owned
// records. Preconditions are evaluated with reads only; state is written after
// every transfer has succeeded.
type Engine struct {
	state    engineState
	tokens   transferCapability
	emitter  events.Emitter
	platform *[20]byte
	nowFn    func() int64
}

// NewEngine creates a gateway engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the transfer capability.
func (e *Engine) SetTokens(tokens transferCapability) { e.tokens = tokens }

// SetPlatform configures the wallet that receives platform fees. Payments
// that carry a fee fail until one is set.
func (e *Engine) SetPlatform(addr [20]byte) {
	platform := addr
	e.platform = &platform
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(gatewayEvent{evt: event})
}

func (e *Engine) now() uint64 {
	ts := time.Now().Unix()
	if e != nil && e.nowFn != nil {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	return nil
}

func (e *Engine) loadRecord(addr [20]byte, disc [8]byte, out interface{}) error {
	record, ok, err := e.state.Record(addr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if record.Owner != ProgramID {
		return ErrAccountOwner
	}
	if record.Discriminator != disc {
		return ErrAccountDiscriminator
	}
	if err := rlp.DecodeBytes(record.Data, out); err != nil {
		return fmt.Errorf("gateway: decode record: %w", err)
	}
	return nil
}

func encodeRecord(disc [8]byte, value interface{}) (*types.AccountRecord, error) {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, err
	}
	return &types.AccountRecord{Owner: ProgramID, Discriminator: disc, Data: data}, nil
}

func (e *Engine) createRecord(addr [20]byte, disc [8]byte, value interface{}) error {
	record, err := encodeRecord(disc, value)
	if err != nil {
		return err
	}
	return e.state.CreateRecord(addr, record)
}

func (e *Engine) storeRecord(addr [20]byte, disc [8]byte, value interface{}) error {
	record, err := encodeRecord(disc, value)
	if err != nil {
		return err
	}
	return e.state.PutRecord(addr, record)
}

// Session loads the session stored at addr and verifies that the address
// matches the seeds recorded in it.
func (e *Engine) Session(addr [20]byte) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	session := new(Session)
	if err := e.loadRecord(addr, sessionDiscriminator, session); err != nil {
		return nil, err
	}
	if !crypto.VerifyDerivedAddress(addr, ProgramID, session.Bump, sessionSeeds(session.Merchant, session.TokenMint, session.Amount)...) {
		return nil, ErrConstraintSeeds
	}
	return session, nil
}

// Merchant loads the merchant registered under merchantID.
func (e *Engine) Merchant(merchantID string) (*Merchant, [20]byte, error) {
	addr, _, err := MerchantAddress(merchantID)
	if err != nil {
		return nil, addr, err
	}
	merchant, err := e.MerchantAt(addr)
	return merchant, addr, err
}

// MerchantAt loads the merchant stored at addr.
func (e *Engine) MerchantAt(addr [20]byte) (*Merchant, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	merchant := new(Merchant)
	if err := e.loadRecord(addr, merchantDiscriminator, merchant); err != nil {
		return nil, err
	}
	if !crypto.VerifyDerivedAddress(addr, ProgramID, merchant.Bump, merchantSeeds(merchant.MerchantID)...) {
		return nil, ErrConstraintSeeds
	}
	return merchant, nil
}

// PaymentIntent loads the intent registered under paymentID.
func (e *Engine) PaymentIntent(paymentID string) (*PaymentIntent, [20]byte, error) {
	addr, _, err := PaymentIntentAddress(paymentID)
	if err != nil {
		return nil, addr, err
	}
	intent, err := e.PaymentIntentAt(addr)
	return intent, addr, err
}

// PaymentIntentAt loads the intent stored at addr.
func (e *Engine) PaymentIntentAt(addr [20]byte) (*PaymentIntent, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	intent := new(PaymentIntent)
	if err := e.loadRecord(addr, intentDiscriminator, intent); err != nil {
		return nil, err
	}
	if !intent.Status.Valid() {
		return nil, fmt.Errorf("gateway: intent has unknown status %d", intent.Status)
	}
	if !crypto.VerifyDerivedAddress(addr, ProgramID, intent.Bump, intentSeeds(intent.PaymentID)...) {
		return nil, ErrConstraintSeeds
	}
	return intent, nil
}

// InitializeSession opens a fixed-amount session for merchant, payable in
// tokenMint. A second session with identical seeds is rejected by state.
func (e *Engine) InitializeSession(merchant, tokenMint [20]byte, amount uint64) ([20]byte, error) {
	var zero [20]byte
	if err := e.ready(); err != nil {
		return zero, err
	}
	if _, err := e.tokens.LoadMint(tokenMint); err != nil {
		return zero, err
	}
	addr, bump, err := SessionAddress(merchant, tokenMint, amount)
	if err != nil {
		return zero, err
	}
	session := &Session{Merchant: merchant, Amount: amount, TokenMint: tokenMint, Bump: bump}
	if err := e.createRecord(addr, sessionDiscriminator, session); err != nil {
		return zero, err
	}
	e.emit(NewSessionInitializedEvent(addr, session))
	return addr, nil
}

// PayWithTokenParams names the accounts of a session payment.
type PayWithTokenParams struct {
	Payer                [20]byte
	Session              [20]byte
	TokenMint            [20]byte
	PayerTokenAccount    [20]byte
	MerchantTokenAccount [20]byte
}

// PayWithToken settles a session by moving its amount from the payer's token
// account to the merchant's.
func (e *Engine) PayWithToken(p PayWithTokenParams) error {
	session, err := e.Session(p.Session)
	if err != nil {
		return err
	}
	if session.Paid {
		return ErrAlreadyPaid
	}
	if p.TokenMint != session.TokenMint {
		return ErrInvalidToken
	}
	if err := requireAssociated(p.PayerTokenAccount, p.Payer, session.TokenMint); err != nil {
		return fmt.Errorf("payer token account: %w", err)
	}
	if err := requireAssociated(p.MerchantTokenAccount, session.Merchant, session.TokenMint); err != nil {
		return fmt.Errorf("merchant token account: %w", err)
	}

	if err := e.tokens.Transfer(session.Amount, p.PayerTokenAccount, p.MerchantTokenAccount, p.Payer); err != nil {
		return err
	}

	session.Paid = true
	session.Payer = p.Payer
	if err := e.storeRecord(p.Session, sessionDiscriminator, session); err != nil {
		return err
	}
	e.emit(NewSessionPaidEvent(p.Session, session))
	return nil
}

// InitializeMerchant registers merchantID under authority. The fee rate is
// stored as given; a rate above BasisPointsDenominator makes every later
// payment fail with ErrInvalidAmount.
func (e *Engine) InitializeMerchant(authority [20]byte, merchantID string, feeRate uint64) ([20]byte, error) {
	var zero [20]byte
	if err := e.ready(); err != nil {
		return zero, err
	}
	addr, bump, err := MerchantAddress(merchantID)
	if err != nil {
		return zero, err
	}
	merchant := &Merchant{MerchantID: merchantID, Authority: authority, FeeRate: feeRate, Bump: bump}
	if err := e.createRecord(addr, merchantDiscriminator, merchant); err != nil {
		return zero, err
	}
	e.emit(NewMerchantInitializedEvent(addr, merchant))
	return addr, nil
}

// CreatePaymentIntentParams describes a new intent. A nil CurrencyMint opens
// an intent payable in the native currency.
type CreatePaymentIntentParams struct {
	Authority    [20]byte
	Merchant     [20]byte
	PaymentID    string
	Amount       uint64
	CurrencyMint *[20]byte
	Metadata     string
}

// CreatePaymentIntent opens an intent in StatusCreated. Only the merchant's
// authority may open intents against it.
func (e *Engine) CreatePaymentIntent(p CreatePaymentIntentParams) ([20]byte, error) {
	var zero [20]byte
	if err := e.ready(); err != nil {
		return zero, err
	}
	if len(p.Metadata) > MaxMetadataLen {
		return zero, ErrMetadataTooLong
	}
	addr, bump, err := PaymentIntentAddress(p.PaymentID)
	if err != nil {
		return zero, err
	}
	merchant, err := e.MerchantAt(p.Merchant)
	if err != nil {
		return zero, fmt.Errorf("merchant: %w", err)
	}
	if merchant.Authority != p.Authority {
		return zero, ErrInvalidAuthority
	}
	var mint *[20]byte
	if p.CurrencyMint != nil {
		if _, err := e.tokens.LoadMint(*p.CurrencyMint); err != nil {
			return zero, err
		}
		m := *p.CurrencyMint
		mint = &m
	}
	intent := &PaymentIntent{
		PaymentID:    p.PaymentID,
		Merchant:     p.Merchant,
		Amount:       p.Amount,
		CurrencyMint: mint,
		Status:       StatusCreated,
		Metadata:     p.Metadata,
		CreatedAt:    e.now(),
		Bump:         bump,
	}
	if err := e.createRecord(addr, intentDiscriminator, intent); err != nil {
		return zero, err
	}
	e.emit(NewIntentCreatedEvent(addr, intent))
	return addr, nil
}

// ProcessPaymentParams names the accounts of an intent settlement. For native
// intents the destinations are wallet addresses and PayerSource is ignored;
// for token intents all three are associated token accounts.
type ProcessPaymentParams struct {
	Payer               [20]byte
	PaymentID           string
	Merchant            [20]byte
	MerchantDestination [20]byte
	PlatformDestination [20]byte
	PayerSource         [20]byte
}

// ProcessPayment settles a created intent. The fee is withheld for the
// platform, the remainder is paid to the merchant and the merchant's total
// grows by the full amount.
func (e *Engine) ProcessPayment(p ProcessPaymentParams) error {
	intent, intentAddr, err := e.PaymentIntent(p.PaymentID)
	if err != nil {
		return err
	}
	if intent.Merchant != p.Merchant {
		return ErrInvalidMerchant
	}
	merchant, err := e.MerchantAt(p.Merchant)
	if err != nil {
		return fmt.Errorf("merchant: %w", err)
	}
	if intent.Status != StatusCreated {
		return ErrPaymentAlreadyProcessed
	}
	fee, merchantAmount, err := SplitFee(intent.Amount, merchant.FeeRate)
	if err != nil {
		return err
	}
	total, overflow := math.SafeAdd(merchant.TotalProcessed, intent.Amount)
	if overflow {
		return ErrInvalidAmount
	}
	if fee > 0 && e.platform == nil {
		return ErrPlatformNotConfigured
	}

	if intent.Native() {
		err = e.settleNative(p, merchant, fee, merchantAmount)
	} else {
		err = e.settleToken(p, merchant, *intent.CurrencyMint, fee, merchantAmount)
	}
	if err != nil {
		return err
	}

	processedAt := e.now()
	payer := p.Payer
	intent.Status = StatusCompleted
	intent.Payer = &payer
	intent.ProcessedAt = &processedAt
	merchant.TotalProcessed = total
	if err := e.storeRecord(intentAddr, intentDiscriminator, intent); err != nil {
		return err
	}
	if err := e.storeRecord(p.Merchant, merchantDiscriminator, merchant); err != nil {
		return err
	}
	e.emit(NewIntentCompletedEvent(intentAddr, intent, fee, merchantAmount, total))
	return nil
}

func (e *Engine) settleNative(p ProcessPaymentParams, merchant *Merchant, fee, merchantAmount uint64) error {
	if p.MerchantDestination != merchant.Authority {
		return ErrInvalidDestination
	}
	if e.platform != nil && p.PlatformDestination != *e.platform {
		return ErrInvalidPlatform
	}
	if fee > 0 {
		if err := e.tokens.TransferNative(fee, p.Payer, p.PlatformDestination); err != nil {
			return fmt.Errorf("platform fee: %w", err)
		}
	}
	if err := e.tokens.TransferNative(merchantAmount, p.Payer, p.MerchantDestination); err != nil {
		return fmt.Errorf("merchant payment: %w", err)
	}
	return nil
}

func (e *Engine) settleToken(p ProcessPaymentParams, merchant *Merchant, mint [20]byte, fee, merchantAmount uint64) error {
	if err := requireAssociated(p.PayerSource, p.Payer, mint); err != nil {
		return fmt.Errorf("payer token account: %w", err)
	}
	if err := requireAssociated(p.MerchantDestination, merchant.Authority, mint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if e.platform != nil {
		if err := requireAssociated(p.PlatformDestination, *e.platform, mint); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPlatform, err)
		}
	}
	if fee > 0 {
		if err := e.tokens.Transfer(fee, p.PayerSource, p.PlatformDestination, p.Payer); err != nil {
			return fmt.Errorf("platform fee: %w", err)
		}
	}
	if err := e.tokens.Transfer(merchantAmount, p.PayerSource, p.MerchantDestination, p.Payer); err != nil {
		return fmt.Errorf("merchant payment: %w", err)
	}
	return nil
}

func requireAssociated(account, owner, mint [20]byte) error {
	want, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return err
	}
	if account != want {
		return ErrConstraintAssociated
	}
	return nil
}
