package config

import (
	"fmt"
	"strings"

	"sessionvault/crypto"
)

// DefaultProgramID mirrors the vault program's default registration address.
const DefaultProgramID = "8b4U8WX2SNJ1p53m2w6GcMjCooo7KTGdWZiFBmcZ4MwK"

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := crypto.ParsePublicKey(c.ProgramID); err != nil {
		return fmt.Errorf("ProgramID: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LogLevel: unsupported level %q", c.LogLevel)
	}
	if c.AllowAirdrop && isProduction(c.Environment) {
		return fmt.Errorf("AllowAirdrop must be false in %s", c.Environment)
	}
	return nil
}

// Program returns the parsed program id.
func (c *Config) Program() crypto.PublicKey {
	pk, err := crypto.ParsePublicKey(c.ProgramID)
	if err != nil {
		return crypto.MustParsePublicKey(DefaultProgramID)
	}
	return pk
}

func isProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "mainnet":
		return true
	}
	return false
}
