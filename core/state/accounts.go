package state

import (
	"paygate/core/types"
)

// Account loads the native account stored under addr. Unknown addresses yield
// a zero account so callers can credit fresh addresses.
func (m *Manager) Account(addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	if _, err := m.KVGet(prefixedKey(accountPrefix, addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount persists the native account for addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		account = &types.Account{}
	}
	return m.KVPut(prefixedKey(accountPrefix, addr), account)
}
