package runtime

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"paygate/storage"
)

var headKey = []byte("paygate/head")

// Head records the last committed state root so a restarted node resumes
// from it.
type Head struct {
	Root   common.Hash
	Height uint64
}

// LoadHead returns the stored head. ok is false on a fresh database; read
// failures are returned rather than treated as a fresh start.
func LoadHead(db storage.Database) (Head, bool, error) {
	var head Head
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return head, false, nil
	}
	if err != nil {
		return head, false, fmt.Errorf("read head: %w", err)
	}
	if len(raw) == 0 {
		return head, false, nil
	}
	if err := rlp.DecodeBytes(raw, &head); err != nil {
		return head, false, fmt.Errorf("decode head: %w", err)
	}
	return head, true, nil
}

// StoreHead persists head.
func StoreHead(db storage.Database, head Head) error {
	encoded, err := rlp.EncodeToBytes(&head)
	if err != nil {
		return err
	}
	return db.Put(headKey, encoded)
}

// CommitHead commits applied state at height and records the new head.
func (h *Host) CommitHead(db storage.Database, height uint64) (Head, error) {
	root, err := h.Commit(height)
	if err != nil {
		return Head{}, err
	}
	head := Head{Root: root, Height: height}
	if err := StoreHead(db, head); err != nil {
		return Head{}, fmt.Errorf("store head: %w", err)
	}
	return head, nil
}
