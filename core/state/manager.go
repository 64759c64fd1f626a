package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"paygate/storage/trie"
)

// Manager reads and writes typed state on top of the Merkle trie. Every key is
// a namespaced byte string hashed with keccak256 and every value is RLP
// encoded.
//
// A Manager is not safe for concurrent use; the runtime serialises access.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Copy returns a manager over an independent copy of the trie. Mutations made
// through the copy are invisible to the receiver until the caller adopts the
// copy.
func (m *Manager) Copy() *Manager {
	return &Manager{trie: m.trie.Copy()}
}

// Root returns the state root including uncommitted mutations.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}

// CommittedRoot returns the root of the last commit.
func (m *Manager) CommittedRoot() common.Hash {
	return m.trie.Root()
}

// Commit flushes pending mutations to the backing store.
func (m *Manager) Commit(height uint64) (common.Hash, error) {
	return m.trie.Commit(height)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
