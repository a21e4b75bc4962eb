package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestFindProgramAddressIsDeterministicAndOffCurve(t *testing.T) {
	program := MustParsePublicKey("8b4U8WX2SNJ1p53m2w6GcMjCooo7KTGdWZiFBmcZ4MwK")
	seeds := [][]byte{[]byte("session"), bytes.Repeat([]byte{7}, 32)}

	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	again, bumpAgain, err := FindProgramAddress(seeds, program)
	if err != nil || again != addr || bumpAgain != bump {
		t.Fatalf("derivation not deterministic")
	}
	if IsOnCurve(addr) {
		t.Fatalf("derived address must be off curve")
	}
	direct, err := CreateProgramAddress(seeds, bump, program)
	if err != nil || direct != addr {
		t.Fatalf("CreateProgramAddress disagrees: %v", err)
	}
	other, _, err := FindProgramAddress([][]byte{[]byte("session"), bytes.Repeat([]byte{8}, 32)}, program)
	if err != nil || other == addr {
		t.Fatalf("different seeds must derive a different address")
	}
}

func TestCreateProgramAddressRejectsBadSeeds(t *testing.T) {
	program := PublicKey{1}
	if _, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLength+1)}, 0, program); !errors.Is(err, ErrInvalidSeeds) {
		t.Fatalf("expected ErrInvalidSeeds, got %v", err)
	}
	seeds := make([][]byte, MaxSeeds)
	if _, err := CreateProgramAddress(seeds, 0, program); !errors.Is(err, ErrInvalidSeeds) {
		t.Fatalf("expected ErrInvalidSeeds, got %v", err)
	}
}

func TestKeypairsAreOnCurve(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !IsOnCurve(kp.PublicKey()) {
		t.Fatalf("ed25519 public keys lie on the curve")
	}
}
