package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"paygate/core/types"
	"paygate/crypto"
	"paygate/indexer"
	"paygate/native/gateway"
)

var errReadModelUnavailable = errors.New("rpc: read model unavailable")

type submitTransactionRequest struct {
	Type  uint8           `json:"type" validate:"required"`
	Nonce uint64          `json:"nonce"`
	Data  json.RawMessage `json:"data" validate:"required"`
	R     *big.Int        `json:"r" validate:"required"`
	S     *big.Int        `json:"s" validate:"required"`
	V     *big.Int        `json:"v" validate:"required"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	var req submitTransactionRequest
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode transaction: %w", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid transaction: %w", err))
		return
	}
	tx := &types.Transaction{
		Type:  types.TxType(req.Type),
		Nonce: req.Nonce,
		Data:  req.Data,
		R:     req.R,
		S:     req.S,
		V:     req.V,
	}
	receipt, err := s.chain.ApplyTransaction(r.Context(), tx)
	if receipt == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, statusFor(err), receipt)
}

type accountView struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	acc, err := s.chain.Account(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView{Address: crypto.FormatAddress(addr), Nonce: acc.Nonce, Balance: acc.Balance})
}

type tokenAccountView struct {
	Address  string `json:"address"`
	Mint     string `json:"mint"`
	Owner    string `json:"owner"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
	UIAmount string `json:"uiAmount"`
}

func (s *Server) handleTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	acc, err := s.chain.TokenAccount(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	mint, err := s.chain.Mint(acc.Mint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenAccountView{
		Address:  crypto.FormatAddress(addr),
		Mint:     crypto.FormatAddress(acc.Mint),
		Owner:    crypto.FormatAddress(acc.Owner),
		Amount:   acc.Amount,
		Decimals: mint.Decimals,
		UIAmount: uiAmount(acc.Amount, mint.Decimals),
	})
}

type mintView struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	Decimals  uint8  `json:"decimals"`
	Supply    uint64 `json:"supply"`
	UISupply  string `json:"uiSupply"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	mint, err := s.chain.Mint(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mintView{
		Address:   crypto.FormatAddress(addr),
		Authority: crypto.FormatAddress(mint.Authority),
		Decimals:  mint.Decimals,
		Supply:    mint.Supply,
		UISupply:  uiAmount(mint.Supply, mint.Decimals),
	})
}

type sessionView struct {
	Address   string `json:"address"`
	Merchant  string `json:"merchant"`
	TokenMint string `json:"tokenMint"`
	Amount    uint64 `json:"amount"`
	Paid      bool   `json:"paid"`
	Payer     string `json:"payer,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	session, err := s.chain.Session(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	view := sessionView{
		Address:   crypto.FormatAddress(addr),
		Merchant:  crypto.FormatAddress(session.Merchant),
		TokenMint: crypto.FormatAddress(session.TokenMint),
		Amount:    session.Amount,
		Paid:      session.Paid,
	}
	if payer, ok := session.PaidBy(); ok {
		view.Payer = crypto.FormatAddress(payer)
	}
	writeJSON(w, http.StatusOK, view)
}

type merchantView struct {
	Address        string `json:"address"`
	MerchantID     string `json:"merchantId"`
	Authority      string `json:"authority"`
	FeeRate        uint64 `json:"feeRate"`
	TotalProcessed uint64 `json:"totalProcessed"`
}

func (s *Server) handleMerchant(w http.ResponseWriter, r *http.Request) {
	merchant, addr, err := s.chain.Merchant(chi.URLParam(r, "merchantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merchantView{
		Address:        crypto.FormatAddress(addr),
		MerchantID:     merchant.MerchantID,
		Authority:      crypto.FormatAddress(merchant.Authority),
		FeeRate:        merchant.FeeRate,
		TotalProcessed: merchant.TotalProcessed,
	})
}

type intentView struct {
	Address      string  `json:"address"`
	PaymentID    string  `json:"paymentId"`
	Merchant     string  `json:"merchant"`
	Amount       uint64  `json:"amount"`
	CurrencyMint string  `json:"currencyMint,omitempty"`
	Status       string  `json:"status"`
	Metadata     string  `json:"metadata"`
	CreatedAt    uint64  `json:"createdAt"`
	ProcessedAt  *uint64 `json:"processedAt,omitempty"`
	Payer        string  `json:"payer,omitempty"`
}

func newIntentView(addr [20]byte, p *gateway.PaymentIntent) intentView {
	view := intentView{
		Address:     crypto.FormatAddress(addr),
		PaymentID:   p.PaymentID,
		Merchant:    crypto.FormatAddress(p.Merchant),
		Amount:      p.Amount,
		Status:      p.Status.String(),
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		ProcessedAt: p.ProcessedAt,
	}
	if p.CurrencyMint != nil {
		view.CurrencyMint = crypto.FormatAddress(*p.CurrencyMint)
	}
	if p.Payer != nil {
		view.Payer = crypto.FormatAddress(*p.Payer)
	}
	return view
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	intent, addr, err := s.chain.PaymentIntent(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentView(addr, intent))
}

func (s *Server) handleListMerchants(w http.ResponseWriter, r *http.Request) {
	if s.reads == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errReadModelUnavailable)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	merchants, err := s.reads.Merchants(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]merchantView, 0, len(merchants))
	for _, m := range merchants {
		out = append(out, merchantView{
			Address:        m.Address,
			MerchantID:     m.MerchantID,
			Authority:      m.Authority,
			FeeRate:        units(m.FeeRate),
			TotalProcessed: units(m.TotalProcessed),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"merchants": out})
}

type indexedIntentView struct {
	Address        string  `json:"address"`
	PaymentID      string  `json:"paymentId"`
	Merchant       string  `json:"merchant"`
	Amount         uint64  `json:"amount"`
	CurrencyMint   string  `json:"currencyMint,omitempty"`
	Status         string  `json:"status"`
	Metadata       string  `json:"metadata"`
	CreatedAt      uint64  `json:"createdAt"`
	ProcessedAt    *uint64 `json:"processedAt,omitempty"`
	Payer          *string `json:"payer,omitempty"`
	Fee            uint64  `json:"fee"`
	MerchantAmount uint64  `json:"merchantAmount"`
}

func (s *Server) handleMerchantIntents(w http.ResponseWriter, r *http.Request) {
	if s.reads == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errReadModelUnavailable)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && status != indexer.IntentCreated && status != indexer.IntentCompleted {
		writeBadRequest(w, fmt.Errorf("unsupported status %q", status))
		return
	}
	_, addr, err := s.chain.Merchant(chi.URLParam(r, "merchantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	intents, err := s.reads.MerchantIntents(r.Context(), crypto.FormatAddress(addr), status, page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]indexedIntentView, 0, len(intents))
	for _, in := range intents {
		out = append(out, indexedIntentView{
			Address:        in.Address,
			PaymentID:      in.PaymentID,
			Merchant:       in.Merchant,
			Amount:         units(in.Amount),
			CurrencyMint:   in.CurrencyMint,
			Status:         in.Status,
			Metadata:       in.Metadata,
			CreatedAt:      in.OpenedAt,
			ProcessedAt:    in.ProcessedAt,
			Payer:          in.Payer,
			Fee:            units(in.Fee),
			MerchantAmount: units(in.MerchantAmount),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"intents": out})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.reads == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errReadModelUnavailable)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	logs, err := s.reads.RecentEvents(r.Context(), r.URL.Query().Get("type"), page.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]types.Event, 0, len(logs))
	for _, l := range logs {
		evt := types.Event{Type: l.Type, Attributes: map[string]string{}}
		if l.Attributes != "" {
			if err := json.Unmarshal([]byte(l.Attributes), &evt.Attributes); err != nil {
				writeError(w, fmt.Errorf("decode event %s: %w", l.ID, err))
				return
			}
		}
		out = append(out, evt)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) ([20]byte, bool) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid %s: %w", name, err))
		return [20]byte{}, false
	}
	return addr, true
}

func pageParams(r *http.Request) (indexer.Page, error) {
	var page indexer.Page
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, fmt.Errorf("invalid limit %q", raw)
		}
		page.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, fmt.Errorf("invalid offset %q", raw)
		}
		page.Offset = v
	}
	return page, nil
}

func units(d decimal.Decimal) uint64 {
	v, _ := indexer.Units(d)
	return v
}

// uiAmount renders base units as a decimal string scaled by the mint
// precision.
func uiAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}
