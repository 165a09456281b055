package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Hash is a 32-byte Blake3-256 digest, used pack-wide for input/result
// hashes, block hashes and tx roots per spec §6's "all hashes Blake3-256".
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) Bytes() []byte { return h[:] }

// BytesToHash truncates or zero-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(h[32-len(b):], b)
	return h
}

// Blake3Hash hashes data with Blake3-256, the protocol-wide hash function
// for input chunks, results, block headers and tx roots.
func Blake3Hash(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Blake3Concat hashes the concatenation of parts, used for tx_root =
// Blake3(concat(tx_bytes)).
func Blake3Concat(parts ...[]byte) Hash {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PeerID is an opaque peer identifier, compared lexicographically for the
// scheduler's tie-break rules.
type PeerID string

// TaskID is an opaque 128-bit task identifier per spec §3.
type TaskID [16]byte

func (t TaskID) String() string { return hex.EncodeToString(t[:]) }

// NewTaskID generates a random 128-bit task id.
func NewTaskID() TaskID {
	var id TaskID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

// PieceID is the stringified "<task_id>:<index>" key from spec §3.
type PieceID string

func NewPieceID(task TaskID, index int) PieceID {
	return PieceID(fmt.Sprintf("%s:%d", task, index))
}

// DeriveEVMAddress computes recipient = hex(Blake3(pk)[12..32]), the
// protocol-defined (not Keccak) address derivation from spec §4.7/§9 open
// question (i): preserved bit-exact per the spec's explicit instruction
// not to substitute Keccak.
func DeriveEVMAddress(pubKey []byte) string {
	h := blake3.Sum256(pubKey)
	return "0x" + hex.EncodeToString(h[12:32])
}
