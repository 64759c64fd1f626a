package runtime

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"paygate/core/events"
	"paygate/core/genesis"
	"paygate/core/state"
	"paygate/core/types"
	"paygate/crypto"
	"paygate/native/gateway"
	"paygate/native/token"
	"paygate/storage"
	"paygate/storage/trie"
)

const fixedNow = int64(1_700_000_000)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

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

type harness struct {
	host     *Host
	emitter  *recordingEmitter
	platform [20]byte
	nonces   map[[20]byte]uint64
}

func newHarness(t *testing.T, genesisYAML string) *harness {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	require.NoError(t, err)
	host := NewHost(state.NewManager(tr))
	rec := &recordingEmitter{}
	host.SetEmitter(rec)
	host.SetNowFunc(func() int64 { return fixedNow })
	platform := [20]byte{0xF0, 0x0D}
	host.SetPlatform(platform)
	if genesisYAML != "" {
		spec, err := genesis.ParseGenesisSpec([]byte(genesisYAML))
		require.NoError(t, err)
		require.NoError(t, host.ApplyGenesis(spec))
	}
	return &harness{host: host, emitter: rec, platform: platform, nonces: map[[20]byte]uint64{}}
}

func (h *harness) send(t *testing.T, from actor, txType types.TxType, payload interface{}) (*types.Receipt, error) {
	t.Helper()
	tx, err := NewSignedTransaction(from.key, txType, h.nonces[from.addr], payload)
	require.NoError(t, err)
	receipt, err := h.host.ApplyTransaction(context.Background(), tx)
	if err == nil {
		h.nonces[from.addr]++
	}
	return receipt, err
}

func (h *harness) mustSend(t *testing.T, from actor, txType types.TxType, payload interface{}) *types.Receipt {
	t.Helper()
	receipt, err := h.send(t, from, txType, payload)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())
	return receipt
}

func (h *harness) balance(t *testing.T, addr [20]byte) uint64 {
	t.Helper()
	acc, err := h.host.Account(addr)
	require.NoError(t, err)
	return acc.Balance
}

func setupNativeIntent(t *testing.T, h *harness, authority actor, amount uint64) [20]byte {
	t.Helper()
	h.mustSend(t, authority, types.TxTypeInitializeMerchant, InitializeMerchantPayload{MerchantID: "acme", FeeRate: 250})
	_, merchantAddr, err := h.host.Merchant("acme")
	require.NoError(t, err)
	h.mustSend(t, authority, types.TxTypeCreatePaymentIntent, CreatePaymentIntentPayload{
		Merchant:  crypto.FormatAddress(merchantAddr),
		PaymentID: "order-1",
		Amount:    amount,
		Metadata:  "two coffees",
	})
	return merchantAddr
}

func TestNativePaymentLifecycle(t *testing.T) {
	payer := newActor(t)
	authority := newActor(t)
	h := newHarness(t, fmt.Sprintf("native:\n  %s: 20000\n", payer))
	merchantAddr := setupNativeIntent(t, h, authority, 10_000)

	payload := ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            crypto.FormatAddress(merchantAddr),
		MerchantDestination: authority.String(),
		PlatformDestination: crypto.FormatAddress(h.platform),
	}
	receipt := h.mustSend(t, payer, types.TxTypeProcessPayment, payload)

	require.Equal(t, payer.String(), receipt.Signer)
	require.Equal(t, uint64(10_000), h.balance(t, payer.addr))
	require.Equal(t, uint64(9_750), h.balance(t, authority.addr))
	require.Equal(t, uint64(250), h.balance(t, h.platform))

	var got []string
	for _, evt := range receipt.Events {
		got = append(got, evt.Type)
	}
	require.Equal(t, []string{events.TypeNativeTransfer, events.TypeNativeTransfer, gateway.EventTypeIntentCompleted}, got)
	require.Equal(t, "250", receipt.Events[2].Attributes["fee"])

	merchant, storedAt, err := h.host.Merchant("acme")
	require.NoError(t, err)
	require.Equal(t, merchantAddr, storedAt)
	require.Equal(t, uint64(10_000), merchant.TotalProcessed)
	intent, _, err := h.host.PaymentIntent("order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusCompleted, intent.Status)
	require.Equal(t, uint64(fixedNow), *intent.ProcessedAt)

	root := h.host.Root()
	emitted := len(h.emitter.events)
	receipt, err = h.send(t, payer, types.TxTypeProcessPayment, payload)
	require.ErrorIs(t, err, gateway.ErrPaymentAlreadyProcessed)
	require.False(t, receipt.Succeeded())
	require.Empty(t, receipt.Events)
	require.Equal(t, root, h.host.Root())
	require.Len(t, h.emitter.events, emitted)
}

func TestFailedTransferRollsBackFee(t *testing.T) {
	payer := newActor(t)
	authority := newActor(t)
	h := newHarness(t, fmt.Sprintf("native:\n  %s: 300\n", payer))
	merchantAddr := setupNativeIntent(t, h, authority, 10_000)
	root := h.host.Root()

	_, err := h.send(t, payer, types.TxTypeProcessPayment, ProcessPaymentPayload{
		PaymentID:           "order-1",
		Merchant:            crypto.FormatAddress(merchantAddr),
		MerchantDestination: authority.String(),
		PlatformDestination: crypto.FormatAddress(h.platform),
	})
	require.ErrorIs(t, err, token.ErrInsufficientFunds)

	require.Equal(t, root, h.host.Root())
	require.Equal(t, uint64(300), h.balance(t, payer.addr))
	require.Zero(t, h.balance(t, h.platform))
	intent, _, err := h.host.PaymentIntent("order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusCreated, intent.Status)
	require.Nil(t, intent.Payer)
	acc, err := h.host.Account(payer.addr)
	require.NoError(t, err)
	require.Zero(t, acc.Nonce)
}

func TestNonceReplayIsRejected(t *testing.T) {
	authority := newActor(t)
	h := newHarness(t, "")

	tx, err := NewSignedTransaction(authority.key, types.TxTypeInitializeMerchant, 0, InitializeMerchantPayload{MerchantID: "acme", FeeRate: 10})
	require.NoError(t, err)
	_, err = h.host.ApplyTransaction(context.Background(), tx)
	require.NoError(t, err)

	_, err = h.host.ApplyTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrNonceMismatch)

	acc, err := h.host.Account(authority.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc.Nonce)
}

func TestRejectsUnsignedAndMalformedTransactions(t *testing.T) {
	authority := newActor(t)
	h := newHarness(t, "")

	unsigned, err := NewTransaction(types.TxTypeInitializeMerchant, 0, InitializeMerchantPayload{MerchantID: "acme"})
	require.NoError(t, err)
	_, err = h.host.ApplyTransaction(context.Background(), unsigned)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = h.send(t, authority, types.TxTypeInitializeMerchant, map[string]interface{}{"merchantId": "acme", "bogus": 1})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = h.send(t, authority, types.TxTypeTransferNative, TransferNativePayload{To: "not-an-address", Amount: 1})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewTransaction(types.TxType(0x7F), 0, struct{}{})
	require.ErrorIs(t, err, ErrUnknownInstruction)
}

func TestTokenSessionLifecycle(t *testing.T) {
	mintAuthority := newActor(t)
	merchant := newActor(t)
	payer := newActor(t)
	h := newHarness(t, "")

	h.mustSend(t, mintAuthority, types.TxTypeCreateMint, CreateMintPayload{Seed: "usdc", Decimals: 6})
	mint, _, err := token.MintAddress(mintAuthority.addr, "usdc")
	require.NoError(t, err)
	mintStr := crypto.FormatAddress(mint)

	h.mustSend(t, payer, types.TxTypeCreateTokenAccount, CreateTokenAccountPayload{Mint: mintStr})
	h.mustSend(t, payer, types.TxTypeCreateTokenAccount, CreateTokenAccountPayload{Owner: merchant.String(), Mint: mintStr})
	payerATA, err := token.AssociatedAddress(payer.addr, mint)
	require.NoError(t, err)
	merchantATA, err := token.AssociatedAddress(merchant.addr, mint)
	require.NoError(t, err)

	h.mustSend(t, mintAuthority, types.TxTypeMintTo, MintToPayload{Mint: mintStr, Destination: crypto.FormatAddress(payerATA), Amount: 5_000})
	h.mustSend(t, merchant, types.TxTypeInitializeSession, InitializeSessionPayload{TokenMint: mintStr, Amount: 1_200})
	sessionAddr, _, err := gateway.SessionAddress(merchant.addr, mint, 1_200)
	require.NoError(t, err)

	_, err = h.send(t, merchant, types.TxTypeInitializeSession, InitializeSessionPayload{TokenMint: mintStr, Amount: 1_200})
	require.ErrorIs(t, err, state.ErrAccountAlreadyInitialized)

	pay := PayWithTokenPayload{
		Session:              crypto.FormatAddress(sessionAddr),
		TokenMint:            mintStr,
		PayerTokenAccount:    crypto.FormatAddress(payerATA),
		MerchantTokenAccount: crypto.FormatAddress(merchantATA),
	}
	h.mustSend(t, payer, types.TxTypePayWithToken, pay)

	session, err := h.host.Session(sessionAddr)
	require.NoError(t, err)
	paidBy, paid := session.PaidBy()
	require.True(t, paid)
	require.Equal(t, payer.addr, paidBy)

	payerHolding, err := h.host.TokenAccount(payerATA)
	require.NoError(t, err)
	merchantHolding, err := h.host.TokenAccount(merchantATA)
	require.NoError(t, err)
	require.Equal(t, uint64(3_800), payerHolding.Amount)
	require.Equal(t, uint64(1_200), merchantHolding.Amount)

	_, err = h.send(t, payer, types.TxTypePayWithToken, pay)
	require.ErrorIs(t, err, gateway.ErrAlreadyPaid)
	payerHolding, err = h.host.TokenAccount(payerATA)
	require.NoError(t, err)
	require.Equal(t, uint64(3_800), payerHolding.Amount)
}

func TestTokenIntentPaysPlatformFee(t *testing.T) {
	mintAuthority := newActor(t)
	authority := newActor(t)
	payer := newActor(t)
	h := newHarness(t, "")

	h.mustSend(t, mintAuthority, types.TxTypeCreateMint, CreateMintPayload{Seed: "usdc", Decimals: 6})
	mint, _, err := token.MintAddress(mintAuthority.addr, "usdc")
	require.NoError(t, err)
	mintStr := crypto.FormatAddress(mint)
	for _, owner := range [][20]byte{payer.addr, authority.addr, h.platform} {
		h.mustSend(t, mintAuthority, types.TxTypeCreateTokenAccount, CreateTokenAccountPayload{Owner: crypto.FormatAddress(owner), Mint: mintStr})
	}
	ata := func(owner [20]byte) [20]byte {
		addr, err := token.AssociatedAddress(owner, mint)
		require.NoError(t, err)
		return addr
	}
	h.mustSend(t, mintAuthority, types.TxTypeMintTo, MintToPayload{Mint: mintStr, Destination: crypto.FormatAddress(ata(payer.addr)), Amount: 10_000})

	h.mustSend(t, authority, types.TxTypeInitializeMerchant, InitializeMerchantPayload{MerchantID: "acme", FeeRate: 250})
	_, merchantAddr, err := h.host.Merchant("acme")
	require.NoError(t, err)

	_, err = h.send(t, payer, types.TxTypeCreatePaymentIntent, CreatePaymentIntentPayload{
		Merchant:     crypto.FormatAddress(merchantAddr),
		PaymentID:    "inv-9",
		Amount:       10_000,
		CurrencyMint: mintStr,
	})
	require.ErrorIs(t, err, gateway.ErrInvalidAuthority)

	h.mustSend(t, authority, types.TxTypeCreatePaymentIntent, CreatePaymentIntentPayload{
		Merchant:     crypto.FormatAddress(merchantAddr),
		PaymentID:    "inv-9",
		Amount:       10_000,
		CurrencyMint: mintStr,
	})
	h.mustSend(t, payer, types.TxTypeProcessPayment, ProcessPaymentPayload{
		PaymentID:           "inv-9",
		Merchant:            crypto.FormatAddress(merchantAddr),
		MerchantDestination: crypto.FormatAddress(ata(authority.addr)),
		PlatformDestination: crypto.FormatAddress(ata(h.platform)),
		PayerSource:         crypto.FormatAddress(ata(payer.addr)),
	})

	for owner, want := range map[[20]byte]uint64{payer.addr: 0, authority.addr: 9_750, h.platform: 250} {
		holding, err := h.host.TokenAccount(ata(owner))
		require.NoError(t, err)
		require.Equal(t, want, holding.Amount)
	}
}

func TestCommitPersistsAppliedState(t *testing.T) {
	authority := newActor(t)
	h := newHarness(t, "")
	h.mustSend(t, authority, types.TxTypeInitializeMerchant, InitializeMerchantPayload{MerchantID: "acme", FeeRate: 10})
	pending := h.host.Root()
	committed, err := h.host.Commit(1)
	require.NoError(t, err)
	require.Equal(t, pending, committed)
	_, _, err = h.host.Merchant("acme")
	require.NoError(t, err)
}

func TestCommitHeadResumesAfterRestart(t *testing.T) {
	authority := newActor(t)
	dir := t.TempDir()

	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	_, ok, err := LoadHead(db)
	require.NoError(t, err)
	require.False(t, ok)

	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	host := NewHost(state.NewManager(tr))
	host.SetNowFunc(func() int64 { return fixedNow })
	tx, err := NewSignedTransaction(authority.key, types.TxTypeInitializeMerchant, 0, InitializeMerchantPayload{MerchantID: "acme", FeeRate: 10})
	require.NoError(t, err)
	_, err = host.ApplyTransaction(context.Background(), tx)
	require.NoError(t, err)
	head, err := host.CommitHead(db, 1)
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	loaded, ok, err := LoadHead(db)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, head, loaded)

	tr, err = trie.NewTrie(db, loaded.Root.Bytes())
	require.NoError(t, err)
	restarted := NewHost(state.NewManager(tr))
	merchant, _, err := restarted.Merchant("acme")
	require.NoError(t, err)
	require.Equal(t, authority.addr, merchant.Authority)
	acc, err := restarted.Account(authority.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc.Nonce)
}

type unreadableDB struct {
	*storage.MemDB
}

func (unreadableDB) Get([]byte) ([]byte, error) { return nil, errors.New("read failure") }

func TestLoadHeadSurfacesReadFailures(t *testing.T) {
	_, ok, err := LoadHead(unreadableDB{MemDB: storage.NewMemDB()})
	require.ErrorContains(t, err, "read failure")
	require.False(t, ok)

	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, StoreHead(db, Head{Height: 3}))
	db.Close()
	_, _, err = LoadHead(db)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)
}
