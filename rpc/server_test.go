package rpc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"paygate/core/events"
	"paygate/core/genesis"
	"paygate/core/runtime"
	"paygate/core/state"
	"paygate/core/types"
	"paygate/crypto"
	"paygate/indexer"
	"paygate/native/gateway"
	"paygate/native/token"
	"paygate/storage"
	"paygate/storage/trie"
)

type actor struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newActor(t *testing.T) actor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return actor{key: key.PrivateKey, addr: key.PubKey().Address().Array()}
}

func (a actor) String() string { return crypto.FormatAddress(a.addr) }

type testEnv struct {
	host     *runtime.Host
	hub      *EventHub
	server   *httptest.Server
	platform [20]byte
	nonces   map[[20]byte]uint64
}

func newTestEnv(t *testing.T, genesisYAML string, limit RateLimit) *testEnv {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	require.NoError(t, err)
	host := runtime.NewHost(state.NewManager(tr))
	host.SetNowFunc(func() int64 { return 1_700_000_000 })
	platform := [20]byte{0xF0, 0x0D}
	host.SetPlatform(platform)
	if genesisYAML != "" {
		spec, err := genesis.ParseGenesisSpec([]byte(genesisYAML))
		require.NoError(t, err)
		require.NoError(t, host.ApplyGenesis(spec))
	}

	idx, err := indexer.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	hub := NewEventHub()
	host.SetEmitter(events.MultiEmitter{idx, hub})

	srv, err := New(Config{RateLimit: limit}, host, idx, hub)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{host: host, hub: hub, server: ts, platform: platform, nonces: map[[20]byte]uint64{}}
}

func (e *testEnv) submit(t *testing.T, from actor, txType types.TxType, payload interface{}) (int, types.Receipt) {
	t.Helper()
	tx, err := runtime.NewSignedTransaction(from.key, txType, e.nonces[from.addr], payload)
	require.NoError(t, err)
	body, err := json.Marshal(tx)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/v1/transactions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var receipt types.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	if receipt.Succeeded() {
		e.nonces[from.addr]++
	}
	return resp.StatusCode, receipt
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) openIntent(t *testing.T, authority actor, amount uint64) string {
	t.Helper()
	status, _ := e.submit(t, authority, types.TxTypeInitializeMerchant, runtime.InitializeMerchantPayload{MerchantID: "acme", FeeRate: 250})
	require.Equal(t, http.StatusOK, status)
	_, merchantAddr, err := e.host.Merchant("acme")
	require.NoError(t, err)
	merchant := crypto.FormatAddress(merchantAddr)
	status, _ = e.submit(t, authority, types.TxTypeCreatePaymentIntent, runtime.CreatePaymentIntentPayload{
		Merchant:  merchant,
		PaymentID: "order-1",
		Amount:    amount,
		Metadata:  "two coffees",
	})
	require.Equal(t, http.StatusOK, status)
	return merchant
}

func TestSubmitAndQueryNativePayment(t *testing.T) {
	payer := newActor(t)
	authority := newActor(t)
	env := newTestEnv(t, fmt.Sprintf("native:\n  %s: 20000\n", payer), RateLimit{})
	merchant := env.openIntent(t, authority, 10_000)

	status, receipt := env.submit(t, payer, types.TxTypeProcessPayment, runtime.ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            merchant,
		MerchantDestination: authority.String(),
		PlatformDestination: crypto.FormatAddress(env.platform),
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, types.ReceiptStatusSuccess, receipt.Status)
	require.Equal(t, payer.String(), receipt.Signer)

	var intent intentView
	require.Equal(t, http.StatusOK, env.get(t, "/v1/intents/order-1", &intent))
	require.Equal(t, "completed", intent.Status)
	require.Equal(t, payer.String(), intent.Payer)
	require.Empty(t, intent.CurrencyMint)

	var m merchantView
	require.Equal(t, http.StatusOK, env.get(t, "/v1/merchants/acme", &m))
	require.Equal(t, uint64(10_000), m.TotalProcessed)
	require.Equal(t, merchant, m.Address)

	var acc accountView
	require.Equal(t, http.StatusOK, env.get(t, "/v1/accounts/"+authority.String(), &acc))
	require.Equal(t, uint64(9_750), acc.Balance)
	require.Equal(t, uint64(2), acc.Nonce)

	var listed struct {
		Intents []indexedIntentView `json:"intents"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/v1/merchants/acme/intents?status=completed", &listed))
	require.Len(t, listed.Intents, 1)
	require.Equal(t, uint64(250), listed.Intents[0].Fee)
	require.Equal(t, uint64(9_750), listed.Intents[0].MerchantAmount)

	var merchants struct {
		Merchants []merchantView `json:"merchants"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/v1/merchants", &merchants))
	require.Len(t, merchants.Merchants, 1)
	require.Equal(t, uint64(10_000), merchants.Merchants[0].TotalProcessed)

	var recent struct {
		Events []types.Event `json:"events"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/v1/events?type="+gateway.EventTypeIntentCompleted, &recent))
	require.Len(t, recent.Events, 1)
	require.Equal(t, "250", recent.Events[0].Attributes["fee"])

	status, receipt = env.submit(t, payer, types.TxTypeProcessPayment, runtime.ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            merchant,
		MerchantDestination: authority.String(),
		PlatformDestination: crypto.FormatAddress(env.platform),
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	require.Contains(t, receipt.Error, "already processed")
}

func TestSubmitMapsFailures(t *testing.T) {
	payer := newActor(t)
	authority := newActor(t)
	env := newTestEnv(t, fmt.Sprintf("native:\n  %s: 300\n", payer), RateLimit{})
	merchant := env.openIntent(t, authority, 10_000)

	status, receipt := env.submit(t, payer, types.TxTypeProcessPayment, runtime.ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            merchant,
		MerchantDestination: authority.String(),
		PlatformDestination: crypto.FormatAddress(env.platform),
	})
	require.Equal(t, http.StatusPaymentRequired, status)
	require.Empty(t, receipt.Events)

	status, _ = env.submit(t, payer, types.TxTypeProcessPayment, runtime.ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            merchant,
		MerchantDestination: payer.String(),
		PlatformDestination: crypto.FormatAddress(env.platform),
	})
	require.Equal(t, http.StatusBadRequest, status)

	env.nonces[authority.addr] = 7
	status, _ = env.submit(t, authority, types.TxTypeInitializeMerchant, runtime.InitializeMerchantPayload{MerchantID: "other", FeeRate: 1})
	require.Equal(t, http.StatusConflict, status)
}

func TestSubmitRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, "", RateLimit{})

	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "unknown field", body: `{"type":3,"nonce":0,"data":{},"r":1,"s":1,"v":27,"extra":true}`},
		{name: "missing signature", body: `{"type":3,"nonce":0,"data":{"merchantId":"acme","feeRate":1}}`},
		{name: "missing type", body: `{"nonce":0,"data":{},"r":1,"s":1,"v":27}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(env.server.URL+"/v1/transactions", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.NotEmpty(t, resp.Header.Get(requestIDHeader))
		})
	}
}

func TestQueryErrors(t *testing.T) {
	env := newTestEnv(t, "", RateLimit{})

	var body map[string]string
	require.Equal(t, http.StatusNotFound, env.get(t, "/v1/intents/missing", &body))
	require.Contains(t, body["error"], "not found")
	require.Equal(t, http.StatusNotFound, env.get(t, "/v1/merchants/missing", nil))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/v1/accounts/not-an-address", nil))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/v1/intents/"+strings.Repeat("x", gateway.MaxPaymentIDLen+1), nil))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/v1/merchants?limit=-1", nil))
	require.Equal(t, http.StatusNotFound, env.get(t, "/v1/token-accounts/"+crypto.FormatAddress([20]byte{9}), nil))
}

func TestTokenAccountReportsUIAmount(t *testing.T) {
	authority := newActor(t)
	env := newTestEnv(t, "", RateLimit{})

	status, _ := env.submit(t, authority, types.TxTypeCreateMint, runtime.CreateMintPayload{Seed: "usdc", Decimals: 6})
	require.Equal(t, http.StatusOK, status)
	mintAddr, _, err := token.MintAddress(authority.addr, "usdc")
	require.NoError(t, err)
	mint := crypto.FormatAddress(mintAddr)

	status, _ = env.submit(t, authority, types.TxTypeCreateTokenAccount, runtime.CreateTokenAccountPayload{Mint: mint})
	require.Equal(t, http.StatusOK, status)
	ata, err := token.AssociatedAddress(authority.addr, mintAddr)
	require.NoError(t, err)
	status, _ = env.submit(t, authority, types.TxTypeMintTo, runtime.MintToPayload{Mint: mint, Destination: crypto.FormatAddress(ata), Amount: 1_500_000})
	require.Equal(t, http.StatusOK, status)

	var view tokenAccountView
	require.Equal(t, http.StatusOK, env.get(t, "/v1/token-accounts/"+crypto.FormatAddress(ata), &view))
	require.Equal(t, uint64(1_500_000), view.Amount)
	require.Equal(t, uint8(6), view.Decimals)
	require.Equal(t, "1.5", view.UIAmount)
	require.Equal(t, authority.String(), view.Owner)

	var mv mintView
	require.Equal(t, http.StatusOK, env.get(t, "/v1/mints/"+mint, &mv))
	require.Equal(t, "1.5", mv.UISupply)
}

func TestSubmitIsRateLimited(t *testing.T) {
	env := newTestEnv(t, "", RateLimit{RequestsPerMinute: 1, Burst: 1})

	post := func() int {
		resp, err := http.Post(env.server.URL+"/v1/transactions", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusBadRequest, post())
	require.Equal(t, http.StatusTooManyRequests, post())

	require.Equal(t, http.StatusNotFound, env.get(t, "/v1/intents/missing", nil))
}

func TestRotatingForwardedHeadersShareOneBucket(t *testing.T) {
	env := newTestEnv(t, "", RateLimit{RequestsPerMinute: 1, Burst: 1})

	var accepted int
	for i := 0; i < 50; i++ {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/transactions", strings.NewReader("{"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode != http.StatusTooManyRequests {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
}

func TestEventStream(t *testing.T) {
	authority := newActor(t)
	env := newTestEnv(t, "", RateLimit{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/ws/events?types=" + gateway.EventTypeMerchantInitialized
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	status, _ := env.submit(t, authority, types.TxTypeInitializeMerchant, runtime.InitializeMerchantPayload{MerchantID: "acme", FeeRate: 100})
	require.Equal(t, http.StatusOK, status)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, gateway.EventTypeMerchantInitialized, evt.Type)
	require.Equal(t, "acme", evt.Attributes["merchantId"])
	require.Equal(t, authority.String(), evt.Attributes["authority"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "", RateLimit{})

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusNotFound, env.get(t, "/v1/intents/missing", nil))
	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "paygate_rpc_requests_total")
}
