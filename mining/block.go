package mining

import (
	"encoding/binary"

	"github.com/hanzoai/compute/common"
)

// Block is the Mining Ledger's unit of finality (spec §3).
type Block struct {
	Height     uint64
	ParentHash common.Hash
	Hash       common.Hash
	Timestamp  int64
	ProposerPK []byte
	TxRoot     common.Hash
	StateRoot  common.Hash
	Txs        []*Tx
}

// NewBlock assembles a block header from its transactions, computing
// tx_root = Blake3(concat(tx_bytes)) and hash = Blake3(header||tx_root)
// (spec §3).
func NewBlock(height uint64, parentHash common.Hash, timestamp int64, proposerPK []byte, stateRoot common.Hash, txs []*Tx) *Block {
	b := &Block{
		Height:     height,
		ParentHash: parentHash,
		Timestamp:  timestamp,
		ProposerPK: proposerPK,
		StateRoot:  stateRoot,
		Txs:        txs,
	}
	parts := make([][]byte, len(txs))
	for i, tx := range txs {
		parts[i] = tx.CanonicalBytes()
	}
	b.TxRoot = common.Blake3Concat(parts...)
	b.Hash = common.Blake3Concat(b.headerBytes(), b.TxRoot.Bytes())
	return b
}

func (b *Block) headerBytes() []byte {
	buf := make([]byte, 8+32+8)
	binary.LittleEndian.PutUint64(buf[0:8], b.Height)
	copy(buf[8:40], b.ParentHash.Bytes())
	binary.LittleEndian.PutUint64(buf[40:48], uint64(b.Timestamp))
	return append(buf, b.ProposerPK...)
}

// TxCount returns the number of transactions in the block.
func (b *Block) TxCount() int { return len(b.Txs) }
