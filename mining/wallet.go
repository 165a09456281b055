package mining

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
)

var walletLogger = log.NewModuleLogger(log.Wallet)

// exportVersion is the 4-byte format tag prefixed to every exported wallet
// blob (spec §6: "4-byte version + 16-byte salt + 12-byte nonce").
const exportVersion uint32 = 1

const (
	saltSize  = 16
	nonceSize = 12
)

func schemeName(level int) (string, error) {
	switch level {
	case 2:
		return "Dilithium2", nil
	case 3:
		return "Dilithium3", nil
	case 5:
		return "Dilithium5", nil
	default:
		return "", common.New(common.KindInvalidData, "unsupported security level %d", level)
	}
}

func schemeFor(level int) (sign.Scheme, error) {
	name, err := schemeName(level)
	if err != nil {
		return nil, err
	}
	scheme := schemes.ByName(name)
	if scheme == nil {
		return nil, common.New(common.KindInvalidData, "dilithium scheme %s unavailable", name)
	}
	return scheme, nil
}

// Wallet holds an ML-DSA/Dilithium keypair in memory for signing, and the
// passphrase-derived-key export/import format for persistence (spec §4.8).
// Grounded on accounts/keystore's encrypted-export-at-rest shape, with
// circl/dilithium replacing ECDSA/secp256k1.
type Wallet struct {
	scheme        sign.Scheme
	SecurityLevel int
	pub           sign.PublicKey
	priv          sign.PrivateKey
}

// Generate creates a fresh keypair at the given NIST security level
// (2, 3 or 5) (spec §4.8).
func Generate(securityLevel int) (*Wallet, error) {
	scheme, err := schemeFor(securityLevel)
	if err != nil {
		return nil, err
	}
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "generate keypair")
	}
	return &Wallet{scheme: scheme, SecurityLevel: securityLevel, pub: pub, priv: priv}, nil
}

// PublicKey returns the raw encoded public key.
func (w *Wallet) PublicKey() []byte {
	b, _ := w.pub.MarshalBinary()
	return b
}

// Address returns hex(Blake3(pk)[12..32]), the protocol-defined derivation
// (spec §4.7, §9 open question (i) — preserved bit-exact, not Keccak).
func (w *Wallet) Address() string {
	return common.DeriveEVMAddress(w.PublicKey())
}

// Sign signs message under the in-memory private key (spec §4.8). The
// private key is never written to disk in this form; only ExportToBytes
// produces an at-rest representation.
func (w *Wallet) Sign(message []byte) ([]byte, error) {
	sig := w.scheme.Sign(w.priv, message, nil)
	return sig, nil
}

// Verify checks a signature under this wallet's public key.
func (w *Wallet) Verify(message, sig []byte) bool {
	return w.scheme.Verify(w.pub, message, sig, nil)
}

// VerifyWithPublicKey checks a signature under an arbitrary encoded public
// key and security level, used by the ledger to authenticate incoming txs
// without holding the signer's wallet.
func VerifyWithPublicKey(securityLevel int, pubKey, message, sig []byte) (bool, error) {
	scheme, err := schemeFor(securityLevel)
	if err != nil {
		return false, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(pubKey)
	if err != nil {
		return false, common.Wrap(err, common.KindInvalidData, "unmarshal public key")
	}
	return scheme.Verify(pub, message, sig, nil), nil
}

// deriveExportKey runs the passphrase through an argon2id KDF, the
// argon2-class function spec §4.8 requires for export encryption.
func deriveExportKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// ExportToBytes authenticates-and-encrypts the private key under a
// passphrase-derived key, laid out as version(4) || salt(16) || nonce(12) ||
// ciphertext, matching the persisted wallet key file format (spec §6).
func (w *Wallet) ExportToBytes(passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	key := deriveExportKey(passphrase, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "build aead")
	}
	privBytes, err := w.priv.MarshalBinary()
	if err != nil {
		return nil, common.Wrap(err, common.KindSerializationError, "marshal private key")
	}
	plain := append([]byte{byte(w.SecurityLevel)}, privBytes...)
	ciphertext := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 4+saltSize+nonceSize+len(ciphertext))
	binary.LittleEndian.PutUint32(out[0:4], exportVersion)
	copy(out[4:4+saltSize], salt)
	copy(out[4+saltSize:4+saltSize+nonceSize], nonce)
	copy(out[4+saltSize+nonceSize:], ciphertext)
	walletLogger.Info("wallet exported", "address", w.Address())
	return out, nil
}

// ImportFromBytes reverses ExportToBytes, reconstructing a usable Wallet
// (P8: import(export(w,s),s).public_key == w.public_key).
func ImportFromBytes(data []byte, passphrase string) (*Wallet, error) {
	if len(data) < 4+saltSize+nonceSize {
		return nil, common.New(common.KindInvalidData, "export blob too short")
	}
	version := binary.LittleEndian.Uint32(data[0:4])
	if version != exportVersion {
		return nil, common.New(common.KindInvalidData, "unsupported export version %d", version)
	}
	salt := data[4 : 4+saltSize]
	nonce := data[4+saltSize : 4+saltSize+nonceSize]
	ciphertext := data[4+saltSize+nonceSize:]

	key := deriveExportKey(passphrase, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "build aead")
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidSignature, "decrypt export blob: wrong passphrase or corrupted data")
	}
	if len(plain) < 1 {
		return nil, common.New(common.KindInvalidData, "empty decrypted payload")
	}
	securityLevel := int(plain[0])
	scheme, err := schemeFor(securityLevel)
	if err != nil {
		return nil, err
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(plain[1:])
	if err != nil {
		return nil, common.Wrap(err, common.KindInvalidData, "unmarshal private key")
	}
	pub := priv.Public().(sign.PublicKey)
	return &Wallet{scheme: scheme, SecurityLevel: securityLevel, pub: pub, priv: priv}, nil
}

// rotationAttestation is signed by the old key over the new key's encoded
// bytes, so observers can verify a rotation was authorized by the prior
// identity (original_source supplement: wallet.rotate).
type rotationAttestation struct {
	OldAddress string
	NewPubKey  []byte
}

// Rotate re-signs a rotation attestation with the old key before switching
// to a freshly generated key at newSecurityLevel, returning the new wallet
// and the attestation signature (original_source hanzo-mining supplement —
// not present in the distilled spec, additive only).
func (w *Wallet) Rotate(newSecurityLevel int) (*Wallet, []byte, error) {
	next, err := Generate(newSecurityLevel)
	if err != nil {
		return nil, nil, err
	}
	attestation := fmt.Sprintf("rotate:%s:%x", w.Address(), next.PublicKey())
	sig, err := w.Sign([]byte(attestation))
	if err != nil {
		return nil, nil, err
	}
	walletLogger.Info("wallet rotated", "old", w.Address(), "new", next.Address())
	return next, sig, nil
}
