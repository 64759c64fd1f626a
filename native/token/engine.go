package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"

	"paygate/core/events"
	"paygate/core/types"
	"paygate/crypto"
)

var (
	// ProgramID identifies the token program. Mints are derived under it.
	ProgramID = crypto.ProgramID("token")
	// AssociatedProgramID identifies the program under which associated token
	// accounts are derived.
	AssociatedProgramID = crypto.ProgramID("associated-token")
)

var (
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrOwnerMismatch     = errors.New("token: authority does not own source account")
	ErrMintMismatch      = errors.New("token: account mint mismatch")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrMintExists        = errors.New("token: mint already exists")
	ErrMintAuthority     = errors.New("token: signer is not the mint authority")
	ErrAccountNotFound   = errors.New("token: token account not found")
	ErrSupplyOverflow    = errors.New("token: supply overflow")
	ErrBalanceOverflow   = errors.New("token: balance overflow")
	errNilState          = errors.New("token engine: state not configured")
)

type engineState interface {
	Account(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	Mint(addr [20]byte) (*types.Mint, bool, error)
	PutMint(addr [20]byte, mint *types.Mint) error
	TokenAccount(addr [20]byte) (*types.TokenAccount, bool, error)
	PutTokenAccount(addr [20]byte, account *types.TokenAccount) error
}

// Engine moves native currency and token units between accounts. It is the
// transfer capability invoked by the payment program and by the runtime's
// token setup instructions.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a token engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// MintAddress derives the address of the mint created by authority under the
// provided seed.
func MintAddress(authority [20]byte, seed string) ([20]byte, uint8, error) {
	return crypto.FindDerivedAddress(ProgramID, []byte("mint"), authority[:], []byte(seed))
}

// AssociatedAddress derives the canonical token account for owner and mint.
func AssociatedAddress(owner, mint [20]byte) ([20]byte, error) {
	addr, _, err := crypto.FindDerivedAddress(AssociatedProgramID, owner[:], ProgramID[:], mint[:])
	return addr, err
}

// CreateMint registers a new mint controlled by authority and returns its
// address.
func (e *Engine) CreateMint(authority [20]byte, seed string, decimals uint8) ([20]byte, error) {
	var zero [20]byte
	if err := e.ready(); err != nil {
		return zero, err
	}
	addr, _, err := MintAddress(authority, seed)
	if err != nil {
		return zero, err
	}
	_, exists, err := e.state.Mint(addr)
	if err != nil {
		return zero, err
	}
	if exists {
		return zero, ErrMintExists
	}
	if err := e.state.PutMint(addr, &types.Mint{Authority: authority, Decimals: decimals}); err != nil {
		return zero, err
	}
	return addr, nil
}

// LoadMint returns the mint stored at addr.
func (e *Engine) LoadMint(addr [20]byte) (*types.Mint, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	mint, ok, err := e.state.Mint(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintNotFound
	}
	return mint, nil
}

// LoadAccount returns the token account stored at addr.
func (e *Engine) LoadAccount(addr [20]byte) (*types.TokenAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, ok, err := e.state.TokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// CreateAssociatedAccount opens the associated token account of owner for
// mint. Calling it for an account that already exists is a no-op.
func (e *Engine) CreateAssociatedAccount(owner, mint [20]byte) ([20]byte, error) {
	var zero [20]byte
	if _, err := e.LoadMint(mint); err != nil {
		return zero, err
	}
	addr, err := AssociatedAddress(owner, mint)
	if err != nil {
		return zero, err
	}
	existing, ok, err := e.state.TokenAccount(addr)
	if err != nil {
		return zero, err
	}
	if ok {
		if existing.Mint != mint || existing.Owner != owner {
			return zero, fmt.Errorf("%w: associated account holds foreign data", ErrMintMismatch)
		}
		return addr, nil
	}
	if err := e.state.PutTokenAccount(addr, &types.TokenAccount{Mint: mint, Owner: owner}); err != nil {
		return zero, err
	}
	return addr, nil
}

// MintTo issues amount new units of mint into destination. Only the mint
// authority may issue.
func (e *Engine) MintTo(mintAddr, destination, authority [20]byte, amount uint64) error {
	mint, err := e.LoadMint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return ErrMintAuthority
	}
	dest, err := e.LoadAccount(destination)
	if err != nil {
		return err
	}
	if dest.Mint != mintAddr {
		return ErrMintMismatch
	}
	supply, overflow := math.SafeAdd(mint.Supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	balance, overflow := math.SafeAdd(dest.Amount, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	mint.Supply = supply
	dest.Amount = balance
	if err := e.state.PutMint(mintAddr, mint); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(destination, dest); err != nil {
		return err
	}
	e.emit(events.TokenMinted{Mint: mintAddr, Destination: destination, Amount: amount, Supply: supply})
	return nil
}

// Transfer moves amount units from one token account to another. The
// authority must own the source account and both accounts must hold the same
// mint. A zero amount succeeds without touching state.
func (e *Engine) Transfer(amount uint64, from, to, authority [20]byte) error {
	src, err := e.LoadAccount(from)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dst, err := e.LoadAccount(to)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Owner != authority {
		return ErrOwnerMismatch
	}
	if amount == 0 {
		return nil
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if from != to {
		credited, overflow := math.SafeAdd(dst.Amount, amount)
		if overflow {
			return ErrBalanceOverflow
		}
		src.Amount -= amount
		dst.Amount = credited
		if err := e.state.PutTokenAccount(from, src); err != nil {
			return err
		}
		if err := e.state.PutTokenAccount(to, dst); err != nil {
			return err
		}
	}
	e.emit(events.TokenTransfer{Mint: src.Mint, From: from, To: to, Authority: authority, Amount: amount})
	return nil
}

// TransferNative moves amount of the native currency between two accounts.
func (e *Engine) TransferNative(amount uint64, from, to [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	src, err := e.state.Account(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return ErrInsufficientFunds
	}
	if from != to {
		dst, err := e.state.Account(to)
		if err != nil {
			return err
		}
		credited, overflow := math.SafeAdd(dst.Balance, amount)
		if overflow {
			return ErrBalanceOverflow
		}
		src.Balance -= amount
		dst.Balance = credited
		if err := e.state.PutAccount(from, src); err != nil {
			return err
		}
		if err := e.state.PutAccount(to, dst); err != nil {
			return err
		}
	}
	e.emit(events.NativeTransfer{From: from, To: to, Amount: amount})
	return nil
}

// Balance returns the amount held by the token account at addr.
func (e *Engine) Balance(addr [20]byte) (uint64, error) {
	account, err := e.LoadAccount(addr)
	if err != nil {
		return 0, err
	}
	return account.Amount, nil
}

// Credit adds amount to the native balance of addr. It is reserved for genesis
// allocation.
func (e *Engine) Credit(addr [20]byte, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	account, err := e.state.Account(addr)
	if err != nil {
		return err
	}
	balance, overflow := math.SafeAdd(account.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	account.Balance = balance
	return e.state.PutAccount(addr, account)
}
