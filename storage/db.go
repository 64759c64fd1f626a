package storage

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent. Any other error is a
// genuine read failure.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the chain to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	// Get returns ErrNotFound for missing keys.
	Get(key []byte) ([]byte, error)
	// TrieDB returns the node database shared by every trie opened on the store.
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// trieBacking lazily wraps an ethdb handle in a single triedb instance so
// tries, copies and commits all observe the same dirty node cache.
type trieBacking struct {
	once   sync.Once
	disk   ethdb.Database
	trieDB *triedb.Database
}

func (b *trieBacking) get() *triedb.Database {
	b.once.Do(func() {
		b.trieDB = triedb.NewDatabase(b.disk, triedb.HashDefaults)
	})
	return b.trieDB
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	db      ethdb.Database
	backing *trieBacking
}

func NewMemDB() *MemDB {
	db := rawdb.NewMemoryDatabase()
	return &MemDB{db: db, backing: &trieBacking{disk: db}}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.db.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	return get(db.db, key)
}

// TrieDB satisfies the Database interface for MemDB.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.backing.get()
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

const (
	levelDBNamespace      = "paygate/db/"
	levelDBCacheMiB       = 32
	levelDBOpenFilesLimit = 128
)

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kv      *gethleveldb.Database
	backing *trieBacking
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := gethleveldb.NewCustom(path, levelDBNamespace, func(options *opt.Options) {
		options.OpenFilesCacheCapacity = levelDBOpenFilesLimit
		options.BlockCacheCapacity = levelDBCacheMiB / 2 * opt.MiB
		options.WriteBuffer = levelDBCacheMiB / 4 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kv: kv, backing: &trieBacking{disk: rawdb.NewDatabase(kv)}}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.kv.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return get(ldb.kv, key)
}

// TrieDB exposes the node database backed by this LevelDB instance.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.backing.get()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	if ldb.backing.trieDB != nil {
		_ = ldb.backing.trieDB.Close()
	}
	_ = ldb.kv.Close()
}

// get separates missing keys from read failures. ethdb backends do not share
// a not-found sentinel, so a failed Get is confirmed with Has.
func get(kv ethdb.KeyValueReader, key []byte) ([]byte, error) {
	value, err := kv.Get(key)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if ok, hasErr := kv.Has(key); hasErr == nil && !ok {
		return nil, ErrNotFound
	}
	return nil, err
}
