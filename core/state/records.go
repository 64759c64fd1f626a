package state

import (
	"errors"
	"fmt"

	"paygate/core/types"
)

var (
	// ErrAccountAlreadyInitialized is returned when a program attempts to
	// allocate a record at an address that already holds one.
	ErrAccountAlreadyInitialized = errors.New("state: account already initialized")
	// ErrAccountNotInitialized is returned when a record update targets an
	// empty address.
	ErrAccountNotInitialized = errors.New("state: account not initialized")
)

// Record loads the program record stored at addr.
func (m *Manager) Record(addr [20]byte) (*types.AccountRecord, bool, error) {
	record := new(types.AccountRecord)
	ok, err := m.KVGet(prefixedKey(recordPrefix, addr), record)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return record, true, nil
}

// CreateRecord allocates a new record at addr. Allocation fails if any record
// already lives at the address.
func (m *Manager) CreateRecord(addr [20]byte, record *types.AccountRecord) error {
	if record == nil {
		return fmt.Errorf("state: nil record")
	}
	_, exists, err := m.Record(addr)
	if err != nil {
		return err
	}
	if exists {
		return ErrAccountAlreadyInitialized
	}
	return m.KVPut(prefixedKey(recordPrefix, addr), record)
}

// PutRecord overwrites an existing record. The owner of the stored record must
// match the owner of the replacement.
func (m *Manager) PutRecord(addr [20]byte, record *types.AccountRecord) error {
	if record == nil {
		return fmt.Errorf("state: nil record")
	}
	existing, exists, err := m.Record(addr)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotInitialized
	}
	if existing.Owner != record.Owner {
		return fmt.Errorf("state: record owner cannot change")
	}
	return m.KVPut(prefixedKey(recordPrefix, addr), record)
}
