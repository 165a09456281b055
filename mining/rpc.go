package mining

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json2"

	"github.com/hanzoai/compute/common"
)

// LedgerService exposes the Mining Ledger over JSON-RPC 2.0 (spec §6):
// getHeight, getBlock, getMiner, getPendingRewards, submitTransaction,
// getTeleportStatus, getTransactionStatus. Grounded on networks/rpc's
// http.Handler server and the gorilla/rpc json2 codec the teacher's
// go.mod already pulls in for its JSON-RPC surface.
type LedgerService struct {
	ledger  *Ledger
	bridge  *Bridge
	mempool map[common.Hash]*Tx
}

// NewLedgerService wraps a Ledger and Bridge for RPC dispatch.
func NewLedgerService(ledger *Ledger, bridge *Bridge) *LedgerService {
	return &LedgerService{ledger: ledger, bridge: bridge, mempool: make(map[common.Hash]*Tx)}
}

// NewHTTPHandler builds the http.Handler serving this service at /rpc,
// registered against the json2 codec the way gorilla/rpc services are
// conventionally wired.
func NewHTTPHandler(svc *LedgerService) http.Handler {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	_ = server.RegisterService(svc, "ledger")
	return server
}

type GetHeightArgs struct{}
type GetHeightReply struct {
	Height uint64 `json:"height"`
}

func (s *LedgerService) GetHeight(r *http.Request, args *GetHeightArgs, reply *GetHeightReply) error {
	reply.Height = s.ledger.Height()
	return nil
}

type GetBlockArgs struct {
	Height uint64 `json:"height"`
}
type GetBlockReply struct {
	Block *Block `json:"block"`
}

func (s *LedgerService) GetBlock(r *http.Request, args *GetBlockArgs, reply *GetBlockReply) error {
	b, ok := s.ledger.BlockAt(args.Height)
	if !ok {
		return rpcError(common.New(common.KindNotFound, "no block at height %d", args.Height))
	}
	reply.Block = b
	return nil
}

type GetMinerArgs struct {
	Address string `json:"address"`
}
type GetMinerReply struct {
	Miner MinerAccount `json:"miner"`
}

func (s *LedgerService) GetMiner(r *http.Request, args *GetMinerArgs, reply *GetMinerReply) error {
	m, ok := s.ledger.Miner(args.Address)
	if !ok {
		return rpcError(common.New(common.KindNotFound, "no miner at address %s", args.Address))
	}
	reply.Miner = m
	return nil
}

type GetPendingRewardsArgs struct {
	Address string `json:"address"`
}
type GetPendingRewardsReply struct {
	PendingRewards uint64 `json:"pending_rewards"`
}

func (s *LedgerService) GetPendingRewards(r *http.Request, args *GetPendingRewardsArgs, reply *GetPendingRewardsReply) error {
	m, ok := s.ledger.Miner(args.Address)
	if !ok {
		return rpcError(common.New(common.KindNotFound, "no miner at address %s", args.Address))
	}
	reply.PendingRewards = m.PendingRewards
	return nil
}

type SubmitTransactionArgs struct {
	Tx string `json:"tx"`
}
type SubmitTransactionReply struct {
	Hash string `json:"hash"`
}

// SubmitTransaction decodes a hex-encoded JSON transaction and submits it
// to the ledger mempool.
func (s *LedgerService) SubmitTransaction(r *http.Request, args *SubmitTransactionArgs, reply *SubmitTransactionReply) error {
	raw, err := hex.DecodeString(args.Tx)
	if err != nil {
		return rpcError(common.Wrap(err, common.KindSerializationError, "decode tx hex"))
	}
	tx, err := unmarshalTx(raw)
	if err != nil {
		return rpcError(err)
	}
	if err := s.ledger.SubmitTx(tx); err != nil {
		return rpcError(err)
	}
	hash := tx.Hash()
	s.mempool[hash] = tx
	reply.Hash = hash.String()
	return nil
}

type GetTeleportStatusArgs struct {
	ID string `json:"id"`
}
type GetTeleportStatusReply struct {
	Status string `json:"status"`
}

func (s *LedgerService) GetTeleportStatus(r *http.Request, args *GetTeleportStatusArgs, reply *GetTeleportStatusReply) error {
	id, err := decodeTeleportID(args.ID)
	if err != nil {
		return rpcError(err)
	}
	status, ok := s.bridge.GetTeleportStatus(id)
	if !ok {
		return rpcError(common.New(common.KindNotFound, "unknown teleport %s", args.ID))
	}
	reply.Status = status.String()
	return nil
}

type GetTransactionStatusArgs struct {
	Hash string `json:"hash"`
}
type GetTransactionStatusReply struct {
	Known   bool `json:"known"`
	Pending bool `json:"pending"`
}

func (s *LedgerService) GetTransactionStatus(r *http.Request, args *GetTransactionStatusArgs, reply *GetTransactionStatusReply) error {
	var h common.Hash
	raw, err := hex.DecodeString(args.Hash)
	if err != nil || len(raw) != len(h) {
		return rpcError(common.New(common.KindInvalidData, "malformed transaction hash"))
	}
	h = common.BytesToHash(raw)
	_, ok := s.mempool[h]
	reply.Known = ok
	reply.Pending = ok
	return nil
}

func decodeTeleportID(s string) ([16]byte, error) {
	var id [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return id, common.New(common.KindInvalidData, "malformed teleport id")
	}
	copy(id[:], raw)
	return id, nil
}

// unmarshalTx decodes the wire format produced by a signing client. Left as
// a narrow seam: the wire layout mirrors Tx.CanonicalBytes with Signature
// appended, decoded via encoding/json.
func unmarshalTx(raw []byte) (*Tx, error) {
	var wire struct {
		Type        TxType              `json:"type"`
		Nonce       uint64              `json:"nonce"`
		SignerPK    []byte              `json:"signer_pk"`
		Signature   []byte              `json:"signature"`
		SubmitProof *SubmitProofPayload `json:"submit_proof,omitempty"`
		ClaimAmount uint64              `json:"claim_amount,omitempty"`
		Teleport    *TeleportPayload    `json:"teleport,omitempty"`
		MinerUpdate *MinerUpdatePayload `json:"miner_update,omitempty"`
		Vote        *VotePayload        `json:"vote,omitempty"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, common.Wrap(err, common.KindSerializationError, "decode transaction")
	}
	return &Tx{
		Type:        wire.Type,
		Nonce:       wire.Nonce,
		SignerPK:    wire.SignerPK,
		Signature:   wire.Signature,
		SubmitProof: wire.SubmitProof,
		ClaimAmount: wire.ClaimAmount,
		Teleport:    wire.Teleport,
		MinerUpdate: wire.MinerUpdate,
		Vote:        wire.Vote,
	}, nil
}

// rpcError maps a *common.Error onto the -32000-range JSON-RPC code the
// json2 codec surfaces to clients, via Kind.RPCCode().
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	return &json2.Error{Code: json2.ErrorCode(common.KindOf(err).RPCCode()), Message: err.Error()}
}
