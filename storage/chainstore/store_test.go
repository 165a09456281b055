package chainstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/mining"
	"github.com/hanzoai/compute/params"
	"github.com/hanzoai/compute/storage/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(database.NewMemDatabase())
}

func TestStore_BlockRoundTrip(t *testing.T) {
	s := newTestStore(t)
	b := mining.NewBlock(1, common.Hash{}, 1000, []byte("proposer"), common.Hash{}, nil)

	require.NoError(t, s.PutBlock(b))

	got, ok, err := s.GetBlock(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.Hash, got.Hash)
	require.Equal(t, b.Height, got.Height)

	_, ok, err = s.GetBlock(2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_MinerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	acct := &mining.MinerAccount{Address: "0xabc", SecurityLevel: 3, Active: true, PendingRewards: 42}

	require.NoError(t, s.PutMiner(acct))

	got, ok, err := s.GetMiner("0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got.PendingRewards)

	_, ok, err = s.GetMiner("0xdoesnotexist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_TeleportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	transfer := &mining.TeleportTransfer{
		ID:          [16]byte{1, 2, 3},
		Destination: params.HanzoEvm,
		Amount:      1000,
		Fee:         1,
		Recipient:   "0xrecipient",
		Sender:      "0xsender",
	}
	require.NoError(t, s.PutTeleport(transfer))

	got, ok, err := s.GetTeleport(transfer.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, transfer.Amount, got.Amount)
	require.Equal(t, transfer.Destination, got.Destination)
}

func TestStore_WalletExportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	blob := []byte("encrypted-key-material")

	require.NoError(t, s.SaveWalletExport("0xaddr", blob))

	got, ok, err := s.LoadWalletExport("0xaddr")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blob, got)

	_, ok, err = s.LoadWalletExport("0xmissing")
	require.NoError(t, err)
	require.False(t, ok)
}
