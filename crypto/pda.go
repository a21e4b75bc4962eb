package crypto

import (
	"errors"

	"filippo.io/edwards25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds accepted by a derivation.
	MaxSeeds = 16
	// MaxSeedLength bounds the length of a single seed.
	MaxSeedLength = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrInvalidSeeds = errors.New("crypto: invalid derivation seeds")
	ErrOnCurve      = errors.New("crypto: derived address lies on the ed25519 curve")
	ErrNoViableBump = errors.New("crypto: unable to find a viable derivation bump")
)

// IsOnCurve reports whether b decodes to a valid ed25519 point, i.e. whether a
// private key could exist for it.
func IsOnCurve(b PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// CreateProgramAddress hashes seeds, the bump and the owning program into an
// address. Addresses that land on the curve are rejected so that no keypair can
// ever sign for them.
func CreateProgramAddress(seeds [][]byte, bump uint8, program PublicKey) (PublicKey, error) {
	if len(seeds) >= MaxSeeds {
		return PublicKey{}, ErrInvalidSeeds
	}
	parts := make([][]byte, 0, len(seeds)+3)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, ErrInvalidSeeds
		}
		parts = append(parts, seed)
	}
	parts = append(parts, []byte{bump}, program[:], pdaMarker)
	var addr PublicKey
	copy(addr[:], ethcrypto.Keccak256(parts...))
	if IsOnCurve(addr) {
		return PublicKey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with its bump. The result is a pure function of
// its inputs and can be re-derived by any verifier.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(seeds, uint8(bump), program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}
