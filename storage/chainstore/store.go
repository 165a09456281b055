// Package chainstore persists the Mining Ledger's blocks and miner
// accounts, the Teleport Bridge's transfer log, and exported wallet key
// blobs to a storage/database.Database. Grounded on the teacher's
// storage/database accessors (prefix-namespaced keys over a flat KV engine)
// generalized from chain headers/bodies/receipts to this protocol's own
// block/miner/teleport/wallet schema.
package chainstore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/mining"
	"github.com/hanzoai/compute/storage/database"
)

var storeLogger = log.NewModuleLogger(log.Storage)

var (
	blockByHeightPrefix = []byte("b-h-")
	minerPrefix         = []byte("m-")
	teleportPrefix      = []byte("t-")
	walletKeyPrefix     = []byte("w-")
)

// Store is the persisted-state façade the ledger, bridge and CLI share.
type Store struct {
	db database.Database
}

// New wraps db with the chainstore key layout.
func New(db database.Database) *Store {
	return &Store{db: db}
}

func heightKey(height uint64) []byte {
	buf := make([]byte, 8+len(blockByHeightPrefix))
	copy(buf, blockByHeightPrefix)
	binary.BigEndian.PutUint64(buf[len(blockByHeightPrefix):], height)
	return buf
}

// PutBlock persists a mining block, indexed by height.
func (s *Store) PutBlock(b *mining.Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return common.Wrap(err, common.KindSerializationError, "marshal block %d", b.Height)
	}
	if err := s.db.Put(heightKey(b.Height), raw); err != nil {
		return common.Wrap(err, common.KindStorageError, "put block %d", b.Height)
	}
	storeLogger.Debug("block persisted", "height", b.Height, "hash", b.Hash.String())
	return nil
}

// GetBlock loads the block at height, if present.
func (s *Store) GetBlock(height uint64) (*mining.Block, bool, error) {
	raw, err := s.db.Get(heightKey(height))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, false, nil
		}
		return nil, false, common.Wrap(err, common.KindStorageError, "get block %d", height)
	}
	var b mining.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, common.Wrap(err, common.KindSerializationError, "unmarshal block %d", height)
	}
	return &b, true, nil
}

// PutMiner persists a miner account snapshot keyed by address.
func (s *Store) PutMiner(acct *mining.MinerAccount) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return common.Wrap(err, common.KindSerializationError, "marshal miner %s", acct.Address)
	}
	if err := s.db.Put(append(append([]byte{}, minerPrefix...), acct.Address...), raw); err != nil {
		return common.Wrap(err, common.KindStorageError, "put miner %s", acct.Address)
	}
	return nil
}

// GetMiner loads a miner account by address.
func (s *Store) GetMiner(address string) (*mining.MinerAccount, bool, error) {
	raw, err := s.db.Get(append(append([]byte{}, minerPrefix...), address...))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, false, nil
		}
		return nil, false, common.Wrap(err, common.KindStorageError, "get miner %s", address)
	}
	var acct mining.MinerAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, false, common.Wrap(err, common.KindSerializationError, "unmarshal miner %s", address)
	}
	return &acct, true, nil
}

// PutTeleport persists a teleport transfer keyed by its teleport ID.
func (s *Store) PutTeleport(t *mining.TeleportTransfer) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return common.Wrap(err, common.KindSerializationError, "marshal teleport")
	}
	if err := s.db.Put(append(append([]byte{}, teleportPrefix...), t.ID[:]...), raw); err != nil {
		return common.Wrap(err, common.KindStorageError, "put teleport")
	}
	return nil
}

// GetTeleport loads a teleport transfer by ID.
func (s *Store) GetTeleport(id [16]byte) (*mining.TeleportTransfer, bool, error) {
	raw, err := s.db.Get(append(append([]byte{}, teleportPrefix...), id[:]...))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, false, nil
		}
		return nil, false, common.Wrap(err, common.KindStorageError, "get teleport")
	}
	var t mining.TeleportTransfer
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, common.Wrap(err, common.KindSerializationError, "unmarshal teleport")
	}
	return &t, true, nil
}

// SaveWalletExport writes an ExportToBytes blob under name (e.g. the
// wallet's address), for the CLI's `wallet export`/`wallet import` flow.
func (s *Store) SaveWalletExport(name string, blob []byte) error {
	if err := s.db.Put(append(append([]byte{}, walletKeyPrefix...), name...), blob); err != nil {
		return common.Wrap(err, common.KindStorageError, "save wallet export %s", name)
	}
	return nil
}

// LoadWalletExport reads back a blob written by SaveWalletExport.
func (s *Store) LoadWalletExport(name string) ([]byte, bool, error) {
	raw, err := s.db.Get(append(append([]byte{}, walletKeyPrefix...), name...))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, false, nil
		}
		return nil, false, common.Wrap(err, common.KindStorageError, "load wallet export %s", name)
	}
	return raw, true, nil
}
