package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"sessionvault/crypto"
)

// Status is the lifecycle state of a player's session slot.
type Status uint8

const (
	StatusInactive Status = iota
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool { return s <= StatusClosed }

// BaseUnitsPerCoin converts whole coins into ledger base units.
const BaseUnitsPerCoin uint64 = 1_000_000_000

const (
	// FeeBps is the treasury share of every cashout in basis points.
	FeeBps uint64 = 1_000
	// BpsDenominator is the basis point scale.
	BpsDenominator uint64 = 10_000
)

// Tiers lists the accepted deposit tiers in whole coins.
var Tiers = []uint8{1, 5, 20}

// TierAmount returns the deposit for tier in base units.
func TierAmount(tier uint8) (uint64, error) {
	switch tier {
	case 1, 5, 20:
		return uint64(tier) * BaseUnitsPerCoin, nil
	default:
		return 0, ErrInvalidTier
	}
}

// Config is the program-wide singleton written once by bootstrap.
type Config struct {
	Treasury   crypto.PublicKey
	Authority  crypto.PublicKey
	VaultBump  uint8
	ConfigBump uint8
}

// Session is the per-player slot. It is created by the first deposit and
// reused by every later one.
type Session struct {
	Player        crypto.PublicKey
	DepositTier   uint8
	DepositAmount uint64
	Status        Status
	MaxClaimable  uint64
	StartedAt     int64
	Nonce         uint64
	LastAuthHash  [32]byte
	AuthExpiry    int64
	Bump          uint8
}

// Clone returns a copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// bumpNonce advances the nonce, wrapping to 1 so that 0 is never reissued.
func (s *Session) bumpNonce() {
	if s.Nonce == ^uint64(0) {
		s.Nonce = 1
		return
	}
	s.Nonce++
}

// Record tags keep a config from ever decoding as a session and vice versa.
const (
	recordConfig  uint8 = 1
	recordSession uint8 = 2
)

type storedConfig struct {
	Kind       uint8
	Treasury   [32]byte
	Authority  [32]byte
	VaultBump  uint8
	ConfigBump uint8
}

// RLP has no signed integers; timestamps round-trip through uint64.
type storedSession struct {
	Kind          uint8
	Player        [32]byte
	DepositTier   uint8
	DepositAmount uint64
	Status        uint8
	MaxClaimable  uint64
	StartedAt     uint64
	Nonce         uint64
	LastAuthHash  [32]byte
	AuthExpiry    uint64
	Bump          uint8
}

// EncodeConfig serialises cfg for account storage.
func EncodeConfig(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault: nil config")
	}
	return rlp.EncodeToBytes(&storedConfig{
		Kind:       recordConfig,
		Treasury:   cfg.Treasury,
		Authority:  cfg.Authority,
		VaultBump:  cfg.VaultBump,
		ConfigBump: cfg.ConfigBump,
	})
}

// DecodeConfig parses account data written by EncodeConfig.
func DecodeConfig(data []byte) (*Config, error) {
	var stored storedConfig
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if stored.Kind != recordConfig {
		return nil, fmt.Errorf("%w: record kind %d is not a config", ErrCorruptRecord, stored.Kind)
	}
	return &Config{
		Treasury:   stored.Treasury,
		Authority:  stored.Authority,
		VaultBump:  stored.VaultBump,
		ConfigBump: stored.ConfigBump,
	}, nil
}

// EncodeSession serialises s for account storage.
func EncodeSession(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("vault: nil session")
	}
	return rlp.EncodeToBytes(&storedSession{
		Kind:          recordSession,
		Player:        s.Player,
		DepositTier:   s.DepositTier,
		DepositAmount: s.DepositAmount,
		Status:        uint8(s.Status),
		MaxClaimable:  s.MaxClaimable,
		StartedAt:     uint64(s.StartedAt),
		Nonce:         s.Nonce,
		LastAuthHash:  s.LastAuthHash,
		AuthExpiry:    uint64(s.AuthExpiry),
		Bump:          s.Bump,
	})
}

// DecodeSession parses account data written by EncodeSession.
func DecodeSession(data []byte) (*Session, error) {
	var stored storedSession
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if stored.Kind != recordSession {
		return nil, fmt.Errorf("%w: record kind %d is not a session", ErrCorruptRecord, stored.Kind)
	}
	status := Status(stored.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid session status %d", ErrCorruptRecord, stored.Status)
	}
	return &Session{
		Player:        stored.Player,
		DepositTier:   stored.DepositTier,
		DepositAmount: stored.DepositAmount,
		Status:        status,
		MaxClaimable:  stored.MaxClaimable,
		StartedAt:     int64(stored.StartedAt),
		Nonce:         stored.Nonce,
		LastAuthHash:  stored.LastAuthHash,
		AuthExpiry:    int64(stored.AuthExpiry),
		Bump:          stored.Bump,
	}, nil
}
