// Package mining implements the BFT-ordered Mining Ledger, the Teleport
// Bridge, and the Quantum-Safe Wallet. Grounded on the teacher's
// consensus/istanbul/backend (validator set, round-robin proposer,
// commit/preference voting), node/sc/bridge_manager.go (journal/subscription
// pattern) and contracts/reward/reward.go (pure reward computation
// separated from custody).
package mining

import (
	"encoding/json"

	"github.com/hanzoai/compute/common"
)

// TxType tags the closed Mining Transaction variant set (spec §3, §9).
type TxType int

const (
	TxRegisterMiner TxType = iota
	TxSubmitProof
	TxClaimReward
	TxTeleportOut
	TxTeleportIn
	TxUpdateMiner
	TxVote
)

func (t TxType) String() string {
	switch t {
	case TxRegisterMiner:
		return "RegisterMiner"
	case TxSubmitProof:
		return "SubmitProof"
	case TxClaimReward:
		return "ClaimReward"
	case TxTeleportOut:
		return "TeleportOut"
	case TxTeleportIn:
		return "TeleportIn"
	case TxUpdateMiner:
		return "UpdateMiner"
	case TxVote:
		return "Vote"
	default:
		return "Unknown"
	}
}

// MiningRewardType is the closed sum type driving reward.go's pure
// coefficient functions (spec §4.6, §9).
type MiningRewardType int

const (
	RewardDataSharing MiningRewardType = iota
	RewardComputeProvision
	RewardModelHosting
	RewardInferenceServing
	RewardModelRegistration
)

// SubmitProofPayload carries the metric a SubmitProof tx attributes reward
// against (spec §4.6).
type SubmitProofPayload struct {
	Type           MiningRewardType `json:"type"`
	BytesShared    uint64           `json:"bytes_shared,omitempty"`
	ComputeUnits   uint64           `json:"compute_units,omitempty"`
	HostingHours   float64          `json:"hosting_hours,omitempty"`
	TokensServed   uint64           `json:"tokens_served,omitempty"`
}

// VoteKind is the ballot cast by a validator on a proposed block (spec §4.6).
type VoteKind int

const (
	VotePreference VoteKind = iota
	VoteCommit
	VoteCancel
)

// Tx is a Mining Transaction: a signer public key and a signature over the
// canonical serialization of every other field (spec §3 invariant).
type Tx struct {
	Type      TxType
	Nonce     uint64
	SignerPK  []byte
	Signature []byte

	// Payload — exactly one set of fields is populated depending on Type.
	SubmitProof  *SubmitProofPayload `json:"submit_proof,omitempty"`
	ClaimAmount  uint64              `json:"claim_amount,omitempty"`
	Teleport     *TeleportPayload    `json:"teleport,omitempty"`
	MinerUpdate  *MinerUpdatePayload `json:"miner_update,omitempty"`
	Vote         *VotePayload        `json:"vote,omitempty"`
}

// TeleportPayload carries the fields of a TeleportOut/TeleportIn tx.
type TeleportPayload struct {
	TeleportID  [16]byte `json:"teleport_id"`
	Destination uint32   `json:"destination"`
	Amount      uint64   `json:"amount"`
	Recipient   string   `json:"recipient"`
}

// MinerUpdatePayload carries an UpdateMiner tx's changed fields.
type MinerUpdatePayload struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// VotePayload carries a Vote tx's ballot.
type VotePayload struct {
	BlockHash common.Hash `json:"block_hash"`
	Kind      VoteKind    `json:"kind"`
}

// CanonicalBytes returns the deterministic encoding signed over: every
// field except Signature itself.
func (tx *Tx) CanonicalBytes() []byte {
	b, _ := json.Marshal(struct {
		Type        TxType              `json:"type"`
		Nonce       uint64              `json:"nonce"`
		SignerPK    []byte              `json:"signer_pk"`
		SubmitProof *SubmitProofPayload `json:"submit_proof,omitempty"`
		ClaimAmount uint64              `json:"claim_amount,omitempty"`
		Teleport    *TeleportPayload    `json:"teleport,omitempty"`
		MinerUpdate *MinerUpdatePayload `json:"miner_update,omitempty"`
		Vote        *VotePayload        `json:"vote,omitempty"`
	}{tx.Type, tx.Nonce, tx.SignerPK, tx.SubmitProof, tx.ClaimAmount, tx.Teleport, tx.MinerUpdate, tx.Vote})
	return b
}

// Hash returns the Blake3-256 digest of the tx's canonical bytes, used as
// its identity in the mempool and block tx_root.
func (tx *Tx) Hash() common.Hash {
	return common.Blake3Hash(tx.CanonicalBytes())
}
