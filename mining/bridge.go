package mining

import (
	"context"
	"math/big"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/params"
)

var bridgeLogger = log.NewModuleLogger(log.Bridge)

// TeleportStatus is the bridge's monotonic status progression (spec §4.7,
// "Teleport Bridge"): it only ever moves forward, never backward, except
// into the terminal Failed state.
type TeleportStatus int

const (
	TeleportInitiated TeleportStatus = iota
	TeleportPendingConfirmation
	TeleportProcessing
	TeleportMinting
	TeleportCompleted
	TeleportFailed
)

func (s TeleportStatus) String() string {
	switch s {
	case TeleportInitiated:
		return "Initiated"
	case TeleportPendingConfirmation:
		return "PendingConfirmation"
	case TeleportProcessing:
		return "Processing"
	case TeleportMinting:
		return "Minting"
	case TeleportCompleted:
		return "Completed"
	case TeleportFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// terminal reports whether s can no longer advance.
func (s TeleportStatus) terminal() bool {
	return s == TeleportCompleted || s == TeleportFailed
}

// rank gives each status its position in the monotonic progression, used to
// reject attempts to move a transfer backward.
func (s TeleportStatus) rank() int { return int(s) }

// TeleportTransfer is one protocol-coin-to-EVM-chain teleport (spec §4.7).
// Fee is the TeleportFeeBps deduction applied before minting; the recipient
// receives Amount-Fee (original_source supplement).
type TeleportTransfer struct {
	ID          [16]byte
	Destination params.ChainTag
	Amount      uint64
	Fee         uint64
	Recipient   string
	Sender      string
	Status      TeleportStatus
	TxHash      common.Hash
}

// DestinationClient is the minimal EVM read surface the bridge needs to
// observe a mint. A stub implementation backs spec §8 scenario 4's test; the
// production implementation wraps ethclient.Client.
type DestinationClient interface {
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// EthDestinationClient adapts a real go-ethereum JSON-RPC endpoint to
// DestinationClient.
type EthDestinationClient struct {
	client *ethclient.Client
}

func DialDestination(rawurl string) (*EthDestinationClient, error) {
	c, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, common.Wrap(err, common.KindNetwork, "dial destination chain %s", rawurl)
	}
	return &EthDestinationClient{client: c}, nil
}

func (e *EthDestinationClient) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	bal, err := e.client.BalanceAt(ctx, gethcommon.HexToAddress(address), nil)
	if err != nil {
		return nil, common.Wrap(err, common.KindRpcError, "query balance at %s", address)
	}
	return bal, nil
}

// Bridge is the Teleport Bridge (C7): a journal of outbound transfers with a
// monotonic status machine, grounded on node/sc/bridge_manager.go's journal
// of paired local/remote addresses and subscription-driven status updates.
type Bridge struct {
	mu          sync.Mutex
	ledger      *Ledger
	clients     map[params.ChainTag]DestinationClient
	transfers   map[[16]byte]*TeleportTransfer
	baselines   map[[16]byte]*big.Int
	submitTx    func(tx *Tx) error
}

// NewBridge constructs a Bridge backed by the given ledger tx submission
// function and a set of per-chain destination clients.
func NewBridge(submitTx func(tx *Tx) error, clients map[params.ChainTag]DestinationClient) *Bridge {
	return &Bridge{
		clients:   clients,
		transfers: make(map[[16]byte]*TeleportTransfer),
		baselines: make(map[[16]byte]*big.Int),
		submitTx:  submitTx,
	}
}

// TeleportOut builds and submits a TeleportOut tx, recording the transfer
// locally in Initiated. Idempotent on teleportID: resubmitting an existing
// id is a no-op returning the existing transfer (spec §4.7). claimed is the
// sender's total claimed balance (spec §4.6's ClaimReward accrual); the
// teleport is rejected with InsufficientBalance if amount exceeds
// AvailableBalance(claimed, sender) (spec §4.7's "amount ≤ available_balance
// = claimed - Σ teleported" precondition).
func (b *Bridge) TeleportOut(teleportID [16]byte, destination params.ChainTag, amount uint64, recipient string, sender *Wallet, nonce uint64, claimed uint64) (*TeleportTransfer, error) {
	b.mu.Lock()
	if existing, ok := b.transfers[teleportID]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.mu.Unlock()

	if _, ok := b.clients[destination]; !ok {
		return nil, common.New(common.KindUnsupportedChain, "unknown destination chain %s", destination)
	}

	if available := b.AvailableBalance(claimed, sender.Address()); amount > available {
		return nil, common.InsufficientBalance(available, amount)
	}

	fee := (amount * params.TeleportFeeBps) / 10000
	payload := &TeleportPayload{TeleportID: teleportID, Destination: uint32(destination), Amount: amount, Recipient: recipient}
	tx := &Tx{Type: TxTeleportOut, Nonce: nonce, SignerPK: sender.PublicKey(), Teleport: payload}
	sig, err := sender.Sign(tx.CanonicalBytes())
	if err != nil {
		return nil, err
	}
	tx.Signature = sig

	if err := b.submitTx(tx); err != nil {
		return nil, err
	}

	transfer := &TeleportTransfer{
		ID:          teleportID,
		Destination: destination,
		Amount:      amount,
		Fee:         fee,
		Recipient:   recipient,
		Sender:      sender.Address(),
		Status:      TeleportInitiated,
	}

	b.mu.Lock()
	b.transfers[teleportID] = transfer
	b.mu.Unlock()
	bridgeLogger.Info("teleport initiated", "id", teleportID, "destination", destination, "amount", amount)
	return transfer, nil
}

// OnTeleportFinalized is called once the TeleportOut tx reaches ledger
// finality, advancing Initiated -> PendingConfirmation and recording the
// baseline destination-chain balance a completed mint must exceed.
func (b *Bridge) OnTeleportFinalized(teleportID [16]byte, txHash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.transfers[teleportID]
	if !ok {
		return common.New(common.KindNotFound, "unknown teleport %x", teleportID)
	}
	if t.Status != TeleportInitiated {
		return nil
	}
	t.TxHash = txHash
	t.Status = TeleportPendingConfirmation

	client := b.clients[t.Destination]
	baseline, err := client.BalanceAt(context.Background(), t.Recipient)
	if err != nil {
		baseline = big.NewInt(0)
	}
	b.baselines[teleportID] = baseline
	t.Status = TeleportProcessing
	return nil
}

// VerifyTeleportCompletion queries the destination chain and, if the
// recipient's balance has increased by at least amount-fee since initiation,
// transitions the transfer to Completed (spec §4.7).
func (b *Bridge) VerifyTeleportCompletion(teleportID [16]byte) (TeleportStatus, error) {
	b.mu.Lock()
	t, ok := b.transfers[teleportID]
	if !ok {
		b.mu.Unlock()
		return TeleportFailed, common.New(common.KindNotFound, "unknown teleport %x", teleportID)
	}
	if t.Status.terminal() {
		status := t.Status
		b.mu.Unlock()
		return status, nil
	}
	client, ok := b.clients[t.Destination]
	baseline := b.baselines[teleportID]
	b.mu.Unlock()
	if !ok {
		return TeleportFailed, common.New(common.KindUnsupportedChain, "unknown destination chain %s", t.Destination)
	}

	t.Status = TeleportMinting
	current, err := client.BalanceAt(context.Background(), t.Recipient)
	if err != nil {
		return TeleportProcessing, common.Wrap(err, common.KindRpcError, "observe destination balance")
	}
	if baseline == nil {
		baseline = big.NewInt(0)
	}
	expected := new(big.Int).SetUint64(t.Amount - t.Fee)
	delta := new(big.Int).Sub(current, baseline)
	if delta.Sign() >= 0 && delta.Cmp(expected) >= 0 {
		b.mu.Lock()
		t.Status = TeleportCompleted
		b.mu.Unlock()
		bridgeLogger.Info("teleport completed", "id", teleportID, "amount", t.Amount, "fee", t.Fee)
		return TeleportCompleted, nil
	}
	return TeleportProcessing, nil
}

// GetTeleportStatus reads the locally cached status without touching the
// destination chain.
func (b *Bridge) GetTeleportStatus(teleportID [16]byte) (TeleportStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.transfers[teleportID]
	if !ok {
		return TeleportFailed, false
	}
	return t.Status, true
}

// PendingTeleports returns every transfer not yet Completed or Failed.
func (b *Bridge) PendingTeleports() []*TeleportTransfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*TeleportTransfer, 0, len(b.transfers))
	for _, t := range b.transfers {
		if !t.Status.terminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// AvailableBalance returns claimed minus the sum of amounts already
// teleported (any non-Failed transfer) for sender, per spec §4.7's
// teleport_out precondition.
func (b *Bridge) AvailableBalance(claimed uint64, sender string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var teleported uint64
	for _, t := range b.transfers {
		if t.Sender == sender && t.Status != TeleportFailed {
			teleported += t.Amount
		}
	}
	if teleported >= claimed {
		return 0
	}
	return claimed - teleported
}

// MarkFailed transitions a transfer to the terminal Failed state, e.g. after
// the relayer network reports the mint could not be completed.
func (b *Bridge) MarkFailed(teleportID [16]byte, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.transfers[teleportID]; ok && !t.Status.terminal() {
		t.Status = TeleportFailed
		bridgeLogger.Warn("teleport failed", "id", teleportID, "reason", reason)
	}
}
