package mining

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/params"
)

// stubDestinationClient simulates an EVM chain whose recipient balance
// jumps once "minting" is simulated, for spec §8 scenario 4.
type stubDestinationClient struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

func newStubDestinationClient() *stubDestinationClient {
	return &stubDestinationClient{balances: make(map[string]*big.Int)}
}

func (s *stubDestinationClient) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (s *stubDestinationClient) setBalance(address string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[address] = amount
}

// TestBridge_TeleportCompletion is spec §8 scenario 4: teleport 5e8 to
// HanzoEvm; destination balance observation returns 5e8; verification
// transitions the transfer to Completed.
func TestBridge_TeleportCompletion(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)
	stub := newStubDestinationClient()
	bridge := NewBridge(ledger.SubmitTx, map[params.ChainTag]DestinationClient{
		params.HanzoEvm: stub,
	})

	w, err := Generate(2)
	require.NoError(t, err)
	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{Type: TxRegisterMiner, Nonce: 1})))
	block1, err := ledger.ProposeBlock(1000)
	require.NoError(t, err)
	require.NoError(t, ledger.AcceptBlock(block1))

	var teleportID [16]byte
	copy(teleportID[:], []byte("teleport-scen-04"))
	recipient := "0xabc0000000000000000000000000000000000a"

	transfer, err := bridge.TeleportOut(teleportID, params.HanzoEvm, 500_000_000, recipient, w, 1, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, TeleportInitiated, transfer.Status)

	again, err := bridge.TeleportOut(teleportID, params.HanzoEvm, 500_000_000, recipient, w, 1, 1_000_000_000)
	require.NoError(t, err)
	require.Same(t, transfer, again)

	require.NoError(t, bridge.OnTeleportFinalized(teleportID, block1.Hash))

	pending := bridge.PendingTeleports()
	require.Len(t, pending, 1)

	stub.setBalance(recipient, big.NewInt(500_000_000))

	status, err := bridge.VerifyTeleportCompletion(teleportID)
	require.NoError(t, err)
	require.Equal(t, TeleportCompleted, status)

	require.Empty(t, bridge.PendingTeleports())
}

func TestBridge_UnknownChainRejected(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)
	bridge := NewBridge(ledger.SubmitTx, map[params.ChainTag]DestinationClient{})

	w, err := Generate(2)
	require.NoError(t, err)
	var teleportID [16]byte
	_, err = bridge.TeleportOut(teleportID, params.LuxCChain, 100, "0xabc", w, 1, 1000)
	require.Error(t, err)
}

// TestBridge_TeleportRejectsInsufficientBalance is spec §4.7's
// "amount ≤ available_balance = claimed - Σ teleported" precondition: a
// teleport exceeding what the sender has claimed is rejected before any tx
// is submitted.
func TestBridge_TeleportRejectsInsufficientBalance(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)
	bridge := NewBridge(ledger.SubmitTx, map[params.ChainTag]DestinationClient{
		params.HanzoEvm: newStubDestinationClient(),
	})

	w, err := Generate(2)
	require.NoError(t, err)

	var teleportID [16]byte
	copy(teleportID[:], []byte("teleport-insuff0"))

	_, err = bridge.TeleportOut(teleportID, params.HanzoEvm, 100, "0xabc", w, 1, 50)
	require.Error(t, err)
	ce, ok := err.(*common.Error)
	require.True(t, ok)
	require.Equal(t, common.KindInsufficientBalance, ce.Kind)

	require.Empty(t, bridge.PendingTeleports())
}
