package state

import (
	"fmt"

	"paygate/core/types"
)

// Mint loads the mint stored at addr.
func (m *Manager) Mint(addr [20]byte) (*types.Mint, bool, error) {
	mint := new(types.Mint)
	ok, err := m.KVGet(prefixedKey(mintPrefix, addr), mint)
	if err != nil || !ok {
		return nil, ok, err
	}
	return mint, true, nil
}

// PutMint persists the mint definition at addr.
func (m *Manager) PutMint(addr [20]byte, mint *types.Mint) error {
	if mint == nil {
		return fmt.Errorf("state: nil mint")
	}
	return m.KVPut(prefixedKey(mintPrefix, addr), mint)
}

// TokenAccount loads the token account stored at addr.
func (m *Manager) TokenAccount(addr [20]byte) (*types.TokenAccount, bool, error) {
	account := new(types.TokenAccount)
	ok, err := m.KVGet(prefixedKey(tokenAccountPrefix, addr), account)
	if err != nil || !ok {
		return nil, ok, err
	}
	return account, true, nil
}

// PutTokenAccount persists the token account at addr.
func (m *Manager) PutTokenAccount(addr [20]byte, account *types.TokenAccount) error {
	if account == nil {
		return fmt.Errorf("state: nil token account")
	}
	return m.KVPut(prefixedKey(tokenAccountPrefix, addr), account)
}
