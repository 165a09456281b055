package database

// DBType names a storage engine backing a Database.
type DBType string

const (
	LevelDB  DBType = "leveldb"
	BadgerDB DBType = "badger"
	MemDB    DBType = "memorydb"
)

// Putter is the write-half of Database, shared with Batch so callers can
// accumulate writes against either a live database or a pending batch.
type Putter interface {
	Put(key, value []byte) error
}

// Batch accumulates writes for a single atomic commit.
type Batch interface {
	Putter
	Write() error
	ValueSize() int
	Reset()
}

// Database is the narrow key/value contract every storage engine in this
// package (and the in-memory stand-in used by tests) satisfies. Grounded on
// the teacher's storage/database package, trimmed to the point-lookup subset
// the ledger, compute swarm and wasm module registry actually need — the
// teacher's range-iteration surface (NewIterator/NewIteratorWithPrefix) goes
// unused by every SPEC_FULL.md component, so it is dropped from the shared
// interface rather than carried as dead API (leveldB keeps its own
// NewIterator as an engine-specific extra, badgerDB has no equivalent).
type Database interface {
	Type() DBType
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	NewBatch() Batch
	Close()
}
