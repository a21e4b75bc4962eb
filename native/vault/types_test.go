package vault

import (
	"errors"
	"math"
	"testing"
)

func TestTierAmount(t *testing.T) {
	want := map[uint8]uint64{1: 1_000_000_000, 5: 5_000_000_000, 20: 20_000_000_000}
	for tier, amount := range want {
		got, err := TierAmount(tier)
		if err != nil || got != amount {
			t.Fatalf("tier %d: got %d err %v", tier, got, err)
		}
	}
	for _, tier := range []uint8{0, 2, 10, 21, 255} {
		if _, err := TierAmount(tier); !errors.Is(err, ErrInvalidTier) {
			t.Fatalf("tier %d: expected ErrInvalidTier, got %v", tier, err)
		}
	}
}

func TestComputeFee(t *testing.T) {
	cases := []struct {
		amount, fee, payout uint64
	}{
		{1, 0, 1},
		{9, 0, 9},
		{10, 1, 9},
		{11, 1, 10},
		{500_000_000, 50_000_000, 450_000_000},
		{1_000_000_000, 100_000_000, 900_000_000},
	}
	for _, tc := range cases {
		fee, payout, err := ComputeFee(tc.amount)
		if err != nil {
			t.Fatalf("amount %d: %v", tc.amount, err)
		}
		if fee != tc.fee || payout != tc.payout {
			t.Fatalf("amount %d: fee %d payout %d, want %d/%d", tc.amount, fee, payout, tc.fee, tc.payout)
		}
		if fee+payout != tc.amount {
			t.Fatalf("amount %d: split does not sum", tc.amount)
		}
	}
	if _, _, err := ComputeFee(math.MaxUint64); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
}

func TestBumpNonceSkipsZero(t *testing.T) {
	s := &Session{Nonce: math.MaxUint64}
	s.bumpNonce()
	if s.Nonce != 1 {
		t.Fatalf("expected wrap to 1, got %d", s.Nonce)
	}
	s.bumpNonce()
	if s.Nonce != 2 {
		t.Fatalf("expected 2, got %d", s.Nonce)
	}
}

func TestSessionRecordRoundTrip(t *testing.T) {
	in := &Session{
		Player:        fixedKey(5),
		DepositTier:   20,
		DepositAmount: 20_000_000_000,
		Status:        StatusClosed,
		MaxClaimable:  3,
		StartedAt:     -1,
		Nonce:         9,
		LastAuthHash:  [32]byte{1, 2, 3},
		AuthExpiry:    1_700_000_000,
		Bump:          254,
	}
	encoded, err := EncodeSession(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSession(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
	if _, err := DecodeConfig(encoded); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("session bytes must not decode as config, got %v", err)
	}
}

func TestCodeStable(t *testing.T) {
	code, name, ok := Code(ErrInvalidTier)
	if !ok || code != 6000 || name != "InvalidTier" {
		t.Fatalf("unexpected code %d %q %v", code, name, ok)
	}
	code, name, ok = Code(ErrInvalidTreasury)
	if !ok || code != 6015 || name != "InvalidTreasury" {
		t.Fatalf("unexpected code %d %q %v", code, name, ok)
	}
	if err, ok := ErrorForCode(6013); !ok || !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("code 6013 should map to ErrReplayDetected")
	}
	if _, _, ok := Code(errors.New("other")); ok {
		t.Fatalf("foreign errors must not map to a code")
	}
}
