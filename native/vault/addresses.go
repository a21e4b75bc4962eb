package vault

import (
	"fmt"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

var (
	seedConfig  = []byte("config")
	seedVault   = []byte("vault")
	seedSession = []byte("session")
)

// DefaultProgramID is the address the vault program is registered under
// unless a node is configured otherwise.
var DefaultProgramID = crypto.MustParsePublicKey("8b4U8WX2SNJ1p53m2w6GcMjCooo7KTGdWZiFBmcZ4MwK")

func configSeeds() [][]byte { return [][]byte{seedConfig} }

func vaultSeeds() [][]byte { return [][]byte{seedVault} }

func sessionSeeds(player crypto.PublicKey) [][]byte {
	return [][]byte{seedSession, player.Bytes()}
}

// ConfigAddress derives the singleton config record address.
func ConfigAddress(program crypto.PublicKey) (crypto.PublicKey, uint8, error) {
	return crypto.FindProgramAddress(configSeeds(), program)
}

// VaultAddress derives the pooled custody account.
func VaultAddress(program crypto.PublicKey) (crypto.PublicKey, uint8, error) {
	return crypto.FindProgramAddress(vaultSeeds(), program)
}

// SessionAddress derives the session slot of player.
func SessionAddress(program, player crypto.PublicKey) (crypto.PublicKey, uint8, error) {
	return crypto.FindProgramAddress(sessionSeeds(player), program)
}

// Addresses bundles the program-wide derived accounts.
type Addresses struct {
	Program    crypto.PublicKey `json:"program"`
	Config     crypto.PublicKey `json:"config"`
	ConfigBump uint8            `json:"configBump"`
	Vault      crypto.PublicKey `json:"vault"`
	VaultBump  uint8            `json:"vaultBump"`
}

// DeriveAddresses computes the config and custody addresses of program.
func DeriveAddresses(program crypto.PublicKey) (Addresses, error) {
	cfg, cfgBump, err := ConfigAddress(program)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive config address: %w", err)
	}
	vault, vaultBump, err := VaultAddress(program)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive vault address: %w", err)
	}
	return Addresses{
		Program:    program,
		Config:     cfg,
		ConfigBump: cfgBump,
		Vault:      vault,
		VaultBump:  vaultBump,
	}, nil
}

// AccountReader is satisfied by the runtime and by invocation contexts.
type AccountReader interface {
	Account(addr crypto.PublicKey) (*types.Account, bool, error)
}

// LoadConfig reads the config record of program. ok is false before bootstrap.
func LoadConfig(reader AccountReader, program crypto.PublicKey) (*Config, bool, error) {
	addr, _, err := ConfigAddress(program)
	if err != nil {
		return nil, false, err
	}
	return loadConfigAt(reader, program, addr)
}

func loadConfigAt(reader AccountReader, program, addr crypto.PublicKey) (*Config, bool, error) {
	acc, ok, err := reader.Account(addr)
	if err != nil || !ok || len(acc.Data) == 0 {
		return nil, false, err
	}
	if acc.Owner != program {
		return nil, false, fmt.Errorf("%w: config %s owned by %s", ErrInvalidAccount, addr, acc.Owner)
	}
	cfg, err := DecodeConfig(acc.Data)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// LoadSession reads the session slot of player. ok is false until the
// player's first deposit.
func LoadSession(reader AccountReader, program, player crypto.PublicKey) (*Session, bool, error) {
	addr, _, err := SessionAddress(program, player)
	if err != nil {
		return nil, false, err
	}
	return loadSessionAt(reader, program, addr)
}

func loadSessionAt(reader AccountReader, program, addr crypto.PublicKey) (*Session, bool, error) {
	acc, ok, err := reader.Account(addr)
	if err != nil || !ok || len(acc.Data) == 0 {
		return nil, false, err
	}
	if acc.Owner != program {
		return nil, false, fmt.Errorf("%w: session %s owned by %s", ErrInvalidAccount, addr, acc.Owner)
	}
	session, err := DecodeSession(acc.Data)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}
