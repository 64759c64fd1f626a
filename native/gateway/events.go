package gateway

import (
	"strconv"

	"paygate/core/types"
	"paygate/crypto"
)

const (
	EventTypeSessionInitialized  = "gateway.session.initialized"
	EventTypeSessionPaid         = "gateway.session.paid"
	EventTypeMerchantInitialized = "gateway.merchant.initialized"
	EventTypeIntentCreated       = "gateway.intent.created"
	EventTypeIntentCompleted     = "gateway.intent.completed"
)

type gatewayEvent struct {
	evt *types.Event
}

func (e gatewayEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e gatewayEvent) Event() *types.Event { return e.evt }

func formatAddress(addr [20]byte) string { return crypto.FormatAddress(addr) }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// NewSessionInitializedEvent returns the payload emitted when a merchant opens
// a session.
func NewSessionInitializedEvent(addr [20]byte, s *Session) *types.Event {
	return &types.Event{
		Type: EventTypeSessionInitialized,
		Attributes: map[string]string{
			"session":  formatAddress(addr),
			"merchant": formatAddress(s.Merchant),
			"mint":     formatAddress(s.TokenMint),
			"amount":   formatUint(s.Amount),
		},
	}
}

// NewSessionPaidEvent returns the payload emitted when a session is settled.
func NewSessionPaidEvent(addr [20]byte, s *Session) *types.Event {
	return &types.Event{
		Type: EventTypeSessionPaid,
		Attributes: map[string]string{
			"session":  formatAddress(addr),
			"merchant": formatAddress(s.Merchant),
			"payer":    formatAddress(s.Payer),
			"mint":     formatAddress(s.TokenMint),
			"amount":   formatUint(s.Amount),
		},
	}
}

// NewMerchantInitializedEvent returns the payload emitted on merchant
// registration.
func NewMerchantInitializedEvent(addr [20]byte, m *Merchant) *types.Event {
	return &types.Event{
		Type: EventTypeMerchantInitialized,
		Attributes: map[string]string{
			"merchant":   formatAddress(addr),
			"merchantId": m.MerchantID,
			"authority":  formatAddress(m.Authority),
			"feeRate":    formatUint(m.FeeRate),
		},
	}
}

// NewIntentCreatedEvent returns the payload emitted when an intent is opened.
func NewIntentCreatedEvent(addr [20]byte, p *PaymentIntent) *types.Event {
	attrs := map[string]string{
		"intent":    formatAddress(addr),
		"paymentId": p.PaymentID,
		"merchant":  formatAddress(p.Merchant),
		"amount":    formatUint(p.Amount),
		"metadata":  p.Metadata,
		"createdAt": formatUint(p.CreatedAt),
	}
	if p.CurrencyMint != nil {
		attrs["currencyMint"] = formatAddress(*p.CurrencyMint)
	}
	return &types.Event{Type: EventTypeIntentCreated, Attributes: attrs}
}

// NewIntentCompletedEvent returns the payload emitted when an intent is
// processed. The fee split and the merchant's new running total are included
// so read models can stay in sync without reloading state.
func NewIntentCompletedEvent(addr [20]byte, p *PaymentIntent, fee, merchantAmount, totalProcessed uint64) *types.Event {
	attrs := map[string]string{
		"intent":         formatAddress(addr),
		"paymentId":      p.PaymentID,
		"merchant":       formatAddress(p.Merchant),
		"amount":         formatUint(p.Amount),
		"fee":            formatUint(fee),
		"merchantAmount": formatUint(merchantAmount),
		"totalProcessed": formatUint(totalProcessed),
	}
	if p.Payer != nil {
		attrs["payer"] = formatAddress(*p.Payer)
	}
	if p.ProcessedAt != nil {
		attrs["processedAt"] = formatUint(*p.ProcessedAt)
	}
	if p.CurrencyMint != nil {
		attrs["currencyMint"] = formatAddress(*p.CurrencyMint)
	}
	return &types.Event{Type: EventTypeIntentCompleted, Attributes: attrs}
}
