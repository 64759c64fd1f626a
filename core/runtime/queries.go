package runtime

import (
	"paygate/core/events"
	"paygate/core/types"
	"paygate/native/gateway"
)

// Read-only views over the latest applied state.

func (h *Host) Account(addr [20]byte) (*types.Account, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Account(addr)
}

func (h *Host) Session(addr [20]byte) (*gateway.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, gw := h.programs(h.state, events.NoopEmitter{})
	return gw.Session(addr)
}

func (h *Host) Merchant(merchantID string) (*gateway.Merchant, [20]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, gw := h.programs(h.state, events.NoopEmitter{})
	return gw.Merchant(merchantID)
}

func (h *Host) PaymentIntent(paymentID string) (*gateway.PaymentIntent, [20]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, gw := h.programs(h.state, events.NoopEmitter{})
	return gw.PaymentIntent(paymentID)
}

func (h *Host) TokenAccount(addr [20]byte) (*types.TokenAccount, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tokens, _ := h.programs(h.state, events.NoopEmitter{})
	return tokens.LoadAccount(addr)
}

func (h *Host) Mint(addr [20]byte) (*types.Mint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tokens, _ := h.programs(h.state, events.NoopEmitter{})
	return tokens.LoadMint(addr)
}
