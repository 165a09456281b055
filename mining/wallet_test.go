package mining

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWallet_SignVerify(t *testing.T) {
	w, err := Generate(2)
	require.NoError(t, err)

	msg := []byte("submit_proof:compute_units=100")
	sig, err := w.Sign(msg)
	require.NoError(t, err)
	require.True(t, w.Verify(msg, sig))
	require.False(t, w.Verify([]byte("tampered"), sig))
}

// TestWallet_ExportImportRoundTrip is spec P8: importing an exported wallet
// under the same passphrase yields an identical public key and address.
func TestWallet_ExportImportRoundTrip(t *testing.T) {
	w, err := Generate(2)
	require.NoError(t, err)

	blob, err := w.ExportToBytes("correct horse battery staple")
	require.NoError(t, err)

	restored, err := ImportFromBytes(blob, "correct horse battery staple")
	require.NoError(t, err)

	require.Equal(t, w.PublicKey(), restored.PublicKey())
	require.Equal(t, w.Address(), restored.Address())

	msg := []byte("round-trip-message")
	sig, err := restored.Sign(msg)
	require.NoError(t, err)
	require.True(t, w.Verify(msg, sig))
}

func TestWallet_ImportWrongPassphraseFails(t *testing.T) {
	w, err := Generate(2)
	require.NoError(t, err)

	blob, err := w.ExportToBytes("right-passphrase")
	require.NoError(t, err)

	_, err = ImportFromBytes(blob, "wrong-passphrase")
	require.Error(t, err)
}

func TestWallet_AddressDeterministic(t *testing.T) {
	w, err := Generate(2)
	require.NoError(t, err)
	require.Equal(t, w.Address(), w.Address())
	require.Len(t, w.Address(), 42) // "0x" + 40 hex chars
}

func TestWallet_Rotate(t *testing.T) {
	w, err := Generate(2)
	require.NoError(t, err)

	next, attestation, err := w.Rotate(3)
	require.NoError(t, err)
	require.NotEqual(t, w.Address(), next.Address())
	require.Equal(t, 3, next.SecurityLevel)
	require.NotEmpty(t, attestation)
}
