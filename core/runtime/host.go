package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paygate/core/events"
	"paygate/core/genesis"
	"paygate/core/state"
	"paygate/core/types"
	"paygate/crypto"
	"paygate/native/gateway"
	"paygate/native/token"
	"paygate/observability/metrics"
)

// Host executes signed transactions against the chain state. Each
// transaction runs on a private copy of the state that is adopted only when
// the instruction succeeds, so a failed transaction leaves the state root and
// every balance untouched. Transactions are applied one at a time.
type Host struct {
	mu       sync.Mutex
	state    *state.Manager
	emitter  events.Emitter
	platform *[20]byte
	nowFn    func() int64
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.GatewayMetrics
}

// NewHost creates a host over the provided state.
func NewHost(st *state.Manager) *Host {
	return &Host{
		state:   st,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default().With("component", "runtime"),
		tracer:  otel.Tracer("paygate/runtime"),
		metrics: metrics.Gateway(),
	}
}

// SetEmitter configures the emitter that receives events of committed
// transactions. Passing nil resets the emitter to a no-op implementation.
func (h *Host) SetEmitter(emitter events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

// SetPlatform configures the wallet that must receive platform fees.
func (h *Host) SetPlatform(addr [20]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	platform := addr
	h.platform = &platform
}

// Platform returns the configured platform wallet.
func (h *Host) Platform() ([20]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.platform == nil {
		return [20]byte{}, false
	}
	return *h.platform, true
}

// SetNowFunc overrides the clock handed to programs.
func (h *Host) SetNowFunc(now func() int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		h.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	h.nowFn = now
}

// SetLogger replaces the host logger.
func (h *Host) SetLogger(logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger.With("component", "runtime")
}

// Root returns the state root including applied but uncommitted
// transactions.
func (h *Host) Root() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Root()
}

// Commit persists every applied transaction.
func (h *Host) Commit(height uint64) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Commit(height)
}

// ApplyGenesis writes the genesis allocation. It is atomic like any other
// transaction.
func (h *Host) ApplyGenesis(spec *genesis.GenesisSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	working := h.state.Copy()
	if err := genesis.Apply(spec, working); err != nil {
		return err
	}
	h.state = working
	return nil
}

// bufferedEmitter holds events until the transaction that produced them
// commits.
type bufferedEmitter struct {
	events []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// programs binds fresh engines to st. Events go to emitter.
func (h *Host) programs(st *state.Manager, emitter events.Emitter) (*token.Engine, *gateway.Engine) {
	tokens := token.NewEngine()
	tokens.SetState(st)
	tokens.SetEmitter(emitter)

	gw := gateway.NewEngine()
	gw.SetState(st)
	gw.SetTokens(tokens)
	gw.SetEmitter(emitter)
	gw.SetNowFunc(h.nowFn)
	if h.platform != nil {
		gw.SetPlatform(*h.platform)
	}
	return tokens, gw
}

// ApplyTransaction verifies and executes tx. The returned receipt describes
// the outcome; the error is non-nil exactly when the receipt reports failure.
func (h *Host) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, errNilTransaction
	}
	start := time.Now()
	_, span := h.tracer.Start(ctx, "runtime.apply_transaction",
		trace.WithAttributes(attribute.String("tx.type", tx.Type.String())))
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	receipt := &types.Receipt{TxHash: tx.HashHex(), Type: tx.Type, Status: types.ReceiptStatusFailed}
	err := h.apply(tx, receipt)
	h.metrics.ObserveTransaction(tx.Type.String(), err, time.Since(start))
	if err != nil {
		receipt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("transaction rejected",
			slog.String("tx", receipt.TxHash),
			slog.String("type", tx.Type.String()),
			slog.String("error", err.Error()))
		return receipt, err
	}
	span.SetStatus(codes.Ok, "applied")
	h.logger.Debug("transaction applied",
		slog.String("tx", receipt.TxHash),
		slog.String("type", tx.Type.String()),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (h *Host) apply(tx *types.Transaction, receipt *types.Receipt) error {
	signer, err := tx.Sender()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	receipt.Signer = crypto.FormatAddress(signer)
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: type %d", ErrUnknownInstruction, tx.Type)
	}
	account, err := h.state.Account(signer)
	if err != nil {
		return err
	}
	if tx.Nonce != account.Nonce {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, account.Nonce, tx.Nonce)
	}

	working := h.state.Copy()
	buffer := &bufferedEmitter{}
	if err := h.dispatch(working, buffer, signer, tx); err != nil {
		return err
	}
	account, err = working.Account(signer)
	if err != nil {
		return err
	}
	account.Nonce++
	if err := working.PutAccount(signer, account); err != nil {
		return err
	}

	h.state = working
	receipt.Status = types.ReceiptStatusSuccess
	for _, evt := range buffer.events {
		if rendered := types.Rendered(evt); rendered != nil {
			receipt.Events = append(receipt.Events, *rendered)
		}
		h.emitter.Emit(evt)
	}
	return nil
}

func (h *Host) dispatch(st *state.Manager, emitter events.Emitter, signer [20]byte, tx *types.Transaction) error {
	tokens, gw := h.programs(st, emitter)
	switch tx.Type {
	case types.TxTypeInitializeSession:
		var p InitializeSessionPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		mint, err := parseAddress("tokenMint", p.TokenMint)
		if err != nil {
			return err
		}
		_, err = gw.InitializeSession(signer, mint, p.Amount)
		return err

	case types.TxTypePayWithToken:
		var p PayWithTokenPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		params := gateway.PayWithTokenParams{Payer: signer}
		if err := parseAll(
			field{"session", p.Session, &params.Session},
			field{"tokenMint", p.TokenMint, &params.TokenMint},
			field{"payerTokenAccount", p.PayerTokenAccount, &params.PayerTokenAccount},
			field{"merchantTokenAccount", p.MerchantTokenAccount, &params.MerchantTokenAccount},
		); err != nil {
			return err
		}
		return gw.PayWithToken(params)

	case types.TxTypeInitializeMerchant:
		var p InitializeMerchantPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		_, err := gw.InitializeMerchant(signer, p.MerchantID, p.FeeRate)
		return err

	case types.TxTypeCreatePaymentIntent:
		var p CreatePaymentIntentPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		merchant, err := parseAddress("merchant", p.Merchant)
		if err != nil {
			return err
		}
		mint, err := parseOptionalAddress("currencyMint", p.CurrencyMint)
		if err != nil {
			return err
		}
		_, err = gw.CreatePaymentIntent(gateway.CreatePaymentIntentParams{
			Authority:    signer,
			Merchant:     merchant,
			PaymentID:    p.PaymentID,
			Amount:       p.Amount,
			CurrencyMint: mint,
			Metadata:     p.Metadata,
		})
		return err

	case types.TxTypeProcessPayment:
		var p ProcessPaymentPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		params := gateway.ProcessPaymentParams{Payer: signer, PaymentID: p.PaymentID}
		if err := parseAll(
			field{"merchant", p.Merchant, &params.Merchant},
			field{"merchantDestination", p.MerchantDestination, &params.MerchantDestination},
			field{"platformDestination", p.PlatformDestination, &params.PlatformDestination},
		); err != nil {
			return err
		}
		source, err := parseOptionalAddress("payerSource", p.PayerSource)
		if err != nil {
			return err
		}
		if source != nil {
			params.PayerSource = *source
		}
		return gw.ProcessPayment(params)

	case types.TxTypeCreateMint:
		var p CreateMintPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		_, err := tokens.CreateMint(signer, p.Seed, p.Decimals)
		return err

	case types.TxTypeMintTo:
		var p MintToPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		var mint, dest [20]byte
		if err := parseAll(field{"mint", p.Mint, &mint}, field{"destination", p.Destination, &dest}); err != nil {
			return err
		}
		return tokens.MintTo(mint, dest, signer, p.Amount)

	case types.TxTypeCreateTokenAccount:
		var p CreateTokenAccountPayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		mint, err := parseAddress("mint", p.Mint)
		if err != nil {
			return err
		}
		owner := signer
		if explicit, err := parseOptionalAddress("owner", p.Owner); err != nil {
			return err
		} else if explicit != nil {
			owner = *explicit
		}
		_, err = tokens.CreateAssociatedAccount(owner, mint)
		return err

	case types.TxTypeTransferNative:
		var p TransferNativePayload
		if err := decodePayload(tx.Data, &p); err != nil {
			return err
		}
		to, err := parseAddress("to", p.To)
		if err != nil {
			return err
		}
		return tokens.TransferNative(p.Amount, signer, to)

	default:
		return fmt.Errorf("%w: type %d", ErrUnknownInstruction, tx.Type)
	}
}

type field struct {
	name string
	raw  string
	dst  *[20]byte
}

func parseAll(fields ...field) error {
	for _, f := range fields {
		addr, err := parseAddress(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = addr
	}
	return nil
}
