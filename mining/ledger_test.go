package mining

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func signedTx(t *testing.T, w *Wallet, tx *Tx) *Tx {
	t.Helper()
	sig, err := w.Sign(tx.CanonicalBytes())
	require.NoError(t, err)
	tx.SignerPK = w.PublicKey()
	tx.Signature = sig
	return tx
}

// TestLedger_BlockChainInvariant is spec P9: block i+1's parent_hash equals
// block i's hash, and height increases by exactly 1 each block.
func TestLedger_BlockChainInvariant(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)

	w, err := Generate(2)
	require.NoError(t, err)

	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{Type: TxRegisterMiner, Nonce: 1})))
	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{
		Type:  TxSubmitProof,
		Nonce: 1,
		SubmitProof: &SubmitProofPayload{
			Type:         RewardComputeProvision,
			ComputeUnits: 1_000_000,
		},
	})))

	genesis, ok := ledger.BlockAt(0)
	require.True(t, ok)

	block1, err := ledger.ProposeBlock(1000)
	require.NoError(t, err)
	require.NotNil(t, block1)
	require.Equal(t, uint64(1), block1.Height)
	require.Equal(t, genesis.Hash, block1.ParentHash)
	require.NoError(t, ledger.AcceptBlock(block1))

	acct, ok := ledger.Miner(w.Address())
	require.True(t, ok)
	require.True(t, acct.Active)
	require.Greater(t, acct.PendingRewards, uint64(0))

	block2, err := ledger.ProposeBlock(1500)
	require.NoError(t, err)
	require.NotNil(t, block2)
	require.Equal(t, uint64(2), block2.Height)
	require.Equal(t, block1.Hash, block2.ParentHash)
	require.NoError(t, ledger.AcceptBlock(block2))

	require.Equal(t, uint64(2), ledger.Height())
}

func TestLedger_RejectsInvalidSignature(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)

	w, err := Generate(2)
	require.NoError(t, err)
	tx := signedTx(t, w, &Tx{Type: TxRegisterMiner, Nonce: 1})
	tx.Signature[0] ^= 0xFF

	err = ledger.SubmitTx(tx)
	require.Error(t, err)
}

func TestLedger_ClaimReward(t *testing.T) {
	consensus := NewConsensus([]ValidatorID{"v1"})
	ledger := NewLedger("v1", consensus, 0)

	w, err := Generate(2)
	require.NoError(t, err)
	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{Type: TxRegisterMiner, Nonce: 1})))
	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{
		Type: TxSubmitProof, Nonce: 1,
		SubmitProof: &SubmitProofPayload{Type: RewardModelRegistration},
	})))
	block1, err := ledger.ProposeBlock(1000)
	require.NoError(t, err)
	require.NoError(t, ledger.AcceptBlock(block1))

	acct, _ := ledger.Miner(w.Address())
	require.Equal(t, uint64(1), acct.PendingRewards)

	require.NoError(t, ledger.SubmitTx(signedTx(t, w, &Tx{Type: TxClaimReward, Nonce: 2, ClaimAmount: 1})))
	block2, err := ledger.ProposeBlock(1500)
	require.NoError(t, err)
	require.NoError(t, ledger.AcceptBlock(block2))

	acct, _ = ledger.Miner(w.Address())
	require.Equal(t, uint64(0), acct.PendingRewards)
}
