package mining

import (
	"sync"
	"time"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/event"
	"github.com/hanzoai/compute/params"
)

// MinerAccount is the ledger's view of one registered miner: its reputation
// within the mining ledger (distinct from compute.Peer reputation), its
// accrued-but-unclaimed reward, and whether it is active in the validator
// rotation (spec §4.6).
type MinerAccount struct {
	Address        string
	PublicKey      []byte
	SecurityLevel  int
	Active         bool
	PendingRewards uint64
	Claimed        uint64
	Nonce          uint64
}

// LedgerEventKind tags events emitted on the ledger's feed.
type LedgerEventKind int

const (
	EventBlockProposed LedgerEventKind = iota
	EventBlockAccepted
	EventBlockRejected
	EventTxAccepted
	EventTxRejected
	EventRewardClaimed
)

// LedgerEvent is posted to Ledger's event.Feed for every block and tx
// lifecycle transition (grounded on node/sc/bridge_manager.go's
// journal/subscription pattern).
type LedgerEvent struct {
	Kind   LedgerEventKind
	Height uint64
	Hash   common.Hash
	Tx     *Tx
	Reason string
}

// Ledger ties the Tx mempool, periodic Block production, and the Consensus
// voting backend into the BFT-ordered Mining Ledger (spec §3, §4.6).
type Ledger struct {
	mu sync.Mutex

	self       ValidatorID
	consensus  *Consensus
	miners     map[string]*MinerAccount
	mempool    []*Tx
	blocks     []*Block
	blockTime  time.Duration
	seed       uint64
	feed       event.Feed
	scope      event.SubscriptionScope
	stopCh     chan struct{}
	running    bool
}

// NewLedger constructs a Ledger whose validator set and quorum are driven by
// consensus, proposing blocks as self.
func NewLedger(self ValidatorID, consensus *Consensus, seed uint64) *Ledger {
	genesis := NewBlock(0, common.Hash{}, 0, nil, common.Hash{}, nil)
	return &Ledger{
		self:      self,
		consensus: consensus,
		miners:    make(map[string]*MinerAccount),
		blocks:    []*Block{genesis},
		blockTime: params.BlockTimeDefault,
		seed:      seed,
	}
}

func (l *Ledger) Subscribe() (<-chan *LedgerEvent, event.Subscription) {
	ch := make(chan *LedgerEvent, 256)
	sub := l.scope.Track(l.feed.Subscribe(ch))
	return ch, sub
}

func (l *Ledger) emit(ev *LedgerEvent) {
	l.feed.Send(ev)
}

// SubmitTx validates and queues a transaction into the mempool (spec §4.6).
// Validation: signature over CanonicalBytes() must verify under SignerPK,
// and the nonce must be the signer's next expected nonce once registered.
func (l *Ledger) SubmitTx(tx *Tx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := VerifyWithPublicKey(securityLevelOf(tx.SignerPK), tx.SignerPK, tx.CanonicalBytes(), tx.Signature)
	if err != nil {
		return err
	}
	if !ok {
		l.emit(&LedgerEvent{Kind: EventTxRejected, Tx: tx, Reason: "invalid signature"})
		return common.New(common.KindInvalidSignature, "transaction signature does not verify")
	}

	addr := common.DeriveEVMAddress(tx.SignerPK)
	if acct, exists := l.miners[addr]; exists && tx.Type != TxRegisterMiner {
		if tx.Nonce != acct.Nonce+1 {
			l.emit(&LedgerEvent{Kind: EventTxRejected, Tx: tx, Reason: "nonce mismatch"})
			return common.New(common.KindInvalidData, "expected nonce %d, got %d", acct.Nonce+1, tx.Nonce)
		}
	}
	l.mempool = append(l.mempool, tx)
	l.emit(&LedgerEvent{Kind: EventTxAccepted, Tx: tx})
	return nil
}

// securityLevelOf infers a Dilithium security level from an encoded public
// key's length. Mode2/3/5 public keys have distinct, fixed sizes, so this is
// a deterministic lookup rather than a guess.
func securityLevelOf(pubKey []byte) int {
	switch len(pubKey) {
	case 1312:
		return 2
	case 1952:
		return 3
	case 2592:
		return 5
	default:
		return 2
	}
}

// ProposeBlock drains the mempool into a new block if self is the proposer
// for the next height. Side effects on miner state are applied once the
// block is finalized via AcceptBlock, not at proposal time (spec §3, §4.6).
func (l *Ledger) ProposeBlock(now int64) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	height := uint64(len(l.blocks))
	proposer := l.consensus.ProposerFor(height, l.seed)
	if proposer != l.self {
		return nil, nil
	}

	parent := l.blocks[len(l.blocks)-1]
	txs := l.mempool
	l.mempool = nil

	block := NewBlock(height, parent.Hash, now, []byte(proposer), common.Hash{}, txs)
	l.consensus.NoteProposed(height, proposer)
	l.emit(&LedgerEvent{Kind: EventBlockProposed, Height: height, Hash: block.Hash})
	return block, nil
}

// applyTx updates miner accounts for a single transaction's effects. Must be
// called with l.mu held.
func (l *Ledger) applyTx(tx *Tx) {
	addr := common.DeriveEVMAddress(tx.SignerPK)
	switch tx.Type {
	case TxRegisterMiner:
		if _, exists := l.miners[addr]; !exists {
			l.miners[addr] = &MinerAccount{
				Address:       addr,
				PublicKey:     tx.SignerPK,
				SecurityLevel: securityLevelOf(tx.SignerPK),
				Active:        true,
			}
		}
	case TxSubmitProof:
		acct := l.miners[addr]
		if acct == nil {
			return
		}
		acct.PendingRewards += ComputeReward(tx.SubmitProof)
		acct.Nonce = tx.Nonce
	case TxClaimReward:
		acct := l.miners[addr]
		if acct == nil || acct.PendingRewards < tx.ClaimAmount {
			return
		}
		acct.PendingRewards -= tx.ClaimAmount
		acct.Claimed += tx.ClaimAmount
		acct.Nonce = tx.Nonce
		l.emit(&LedgerEvent{Kind: EventRewardClaimed, Tx: tx})
	case TxUpdateMiner:
		acct := l.miners[addr]
		if acct == nil {
			return
		}
		acct.Active = tx.MinerUpdate.Active
		acct.Nonce = tx.Nonce
	default:
		if acct := l.miners[addr]; acct != nil {
			acct.Nonce = tx.Nonce
		}
	}
}

// AcceptBlock appends an externally-finalized block (proposed by another
// validator) to the local chain once Consensus reports Accepted, enforcing
// the append-only parent-hash chain invariant (spec P9).
func (l *Ledger) AcceptBlock(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	parent := l.blocks[len(l.blocks)-1]
	if b.Height != parent.Height+1 {
		return common.New(common.KindInvalidData, "block height %d does not follow %d", b.Height, parent.Height)
	}
	if b.ParentHash != parent.Hash {
		return common.New(common.KindInvalidData, "block parent_hash mismatch")
	}
	for _, tx := range b.Txs {
		l.applyTx(tx)
	}
	l.blocks = append(l.blocks, b)
	l.emit(&LedgerEvent{Kind: EventBlockAccepted, Height: b.Height, Hash: b.Hash})
	return nil
}

// RejectBlock discards a proposal that Consensus marked Rejected, leaving
// its transactions in the mempool for the next proposer (spec §4.6).
func (l *Ledger) RejectBlock(b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mempool = append(b.Txs, l.mempool...)
	l.emit(&LedgerEvent{Kind: EventBlockRejected, Height: b.Height, Hash: b.Hash, Reason: "consensus rejected"})
}

// Height returns the current chain height (the genesis block is height 0).
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocks[len(l.blocks)-1].Height
}

// BlockAt returns the block at the given height, if present.
func (l *Ledger) BlockAt(height uint64) (*Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if height >= uint64(len(l.blocks)) {
		return nil, false
	}
	return l.blocks[height], true
}

// Miner returns a miner account snapshot by address.
func (l *Ledger) Miner(address string) (MinerAccount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.miners[address]
	if !ok {
		return MinerAccount{}, false
	}
	return *acct, true
}

// Run drives block production on a params.BlockTimeDefault ticker until
// Stop is called, the way node/cn's miner loop schedules sealing work.
func (l *Ledger) Run() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	ticker := time.NewTicker(l.blockTime)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case t := <-ticker.C:
			if _, err := l.ProposeBlock(t.UnixNano()); err != nil {
				logger.Warn("propose block failed", "err", err)
			}
		}
	}
}

// Stop halts the Run loop.
func (l *Ledger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stopCh)
	l.scope.Close()
}
