package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// PublicKeyLength is the size of an account identity in bytes.
const PublicKeyLength = 32

// SignatureLength is the size of an ed25519 signature in bytes.
const SignatureLength = ed25519.SignatureSize

var errInvalidPublicKey = errors.New("crypto: invalid public key")

// PublicKey identifies an account on the ledger. It is either the ed25519
// public key of a keypair or a program-derived address with no private key.
type PublicKey [PublicKeyLength]byte

// Signature is a detached ed25519 signature.
type Signature [SignatureLength]byte

// ParsePublicKey decodes the base58 text form of an account identity.
func ParsePublicKey(s string) (PublicKey, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return PublicKey{}, errInvalidPublicKey
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) != PublicKeyLength {
		return PublicKey{}, fmt.Errorf("%w: %q decodes to %d bytes", errInvalidPublicKey, s, len(decoded))
	}
	var pk PublicKey
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePublicKey is ParsePublicKey for compile-time constants.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies a 32-byte slice into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeyLength {
		return PublicKey{}, errInvalidPublicKey
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

// DecodeBase58 decodes arbitrary base58 text, rejecting empty or invalid input.
func DecodeBase58(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errors.New("crypto: empty base58 string")
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) == 0 {
		return nil, fmt.Errorf("crypto: invalid base58 string %q", s)
	}
	return decoded, nil
}

func (pk PublicKey) String() string { return base58.Encode(pk[:]) }

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte { return append([]byte(nil), pk[:]...) }

// IsZero reports whether the key is the all-zero identity.
func (pk PublicKey) IsZero() bool { return pk == PublicKey{} }

// Equal reports whether both keys hold the same bytes.
func (pk PublicKey) Equal(other PublicKey) bool { return bytes.Equal(pk[:], other[:]) }

// MarshalText implements encoding.TextMarshaler using base58.
func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Verify checks sig against msg for this key. Program-derived addresses are not
// valid curve points and never verify.
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}

func (s Signature) String() string { return base58.Encode(s[:]) }

// MarshalJSON encodes the signature as a base58 string.
func (s Signature) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes a base58 signature string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := ParseSignature(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignature decodes the base58 text form of a signature.
func ParseSignature(text string) (Signature, error) {
	decoded := base58.Decode(strings.TrimSpace(text))
	if len(decoded) != SignatureLength {
		return Signature{}, fmt.Errorf("crypto: invalid signature length %d", len(decoded))
	}
	var sig Signature
	copy(sig[:], decoded)
	return sig, nil
}

// --- Key Management ---

// Keypair holds an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSeed derives the keypair for a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeypairFromSecret accepts either a 32-byte seed or the 64-byte seed||public
// encoding used by most wallets, verifying the embedded public half.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	switch len(secret) {
	case ed25519.SeedSize:
		return KeypairFromSeed(secret)
	case ed25519.PrivateKeySize:
		kp, err := KeypairFromSeed(secret[:ed25519.SeedSize])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(kp.private[ed25519.SeedSize:], secret[ed25519.SeedSize:]) {
			return nil, errors.New("crypto: secret key public half mismatch")
		}
		return kp, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported secret key length %d", len(secret))
	}
}

// PublicKey returns the account identity of the keypair.
func (k *Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.private.Public().(ed25519.PublicKey))
	return pk
}

// SecretString returns the base58 seed||public encoding accepted by
// KeypairFromSecret.
func (k *Keypair) SecretString() string { return base58.Encode(k.private) }

// Seed returns the 32-byte private seed.
func (k *Keypair) Seed() []byte { return append([]byte(nil), k.private.Seed()...) }

// Sign produces a detached signature over msg.
func (k *Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, msg))
	return sig
}
