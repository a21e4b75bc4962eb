package authorityd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sessionvault/crypto"
	"sessionvault/native/vault"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for authorityd.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	Environment   string              `yaml:"environment"`
	ProgramID     string              `yaml:"program_id"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Authority     AuthorityConfig     `yaml:"authority"`
	API           APIConfig           `yaml:"api"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Database      DatabaseConfig      `yaml:"database"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Log           LogConfig           `yaml:"log"`
}

// LedgerConfig points at the vault node RPC endpoint.
type LedgerConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// AuthorityConfig locates the game authority signing key. Key and KeyEnv hold
// a base58 secret; KeyFile is an encrypted key file unlocked with the
// passphrase in PassphraseEnv.
type AuthorityConfig struct {
	Key           string `yaml:"key"`
	KeyFile       string `yaml:"key_file"`
	KeyEnv        string `yaml:"key_env"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// APIConfig configures caller authentication. The secret doubles as the
// x-api-key value and the HS256 key for bearer tokens.
type APIConfig struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
	SecretEnv  string `yaml:"secret_env"`
	JWTIssuer  string `yaml:"jwt_issuer"`
}

// AuthorizationConfig holds the signing policy.
type AuthorizationConfig struct {
	Expiry         Duration `yaml:"expiry"`
	PlayerInterval Duration `yaml:"player_interval"`
	// TierCaps maps a deposit tier to the largest ceiling, in whole coins,
	// that will be signed for it.
	TierCaps map[uint8]uint64 `yaml:"tier_caps"`
}

// DatabaseConfig selects the authorization ledger backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls log level and optional file output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultTierCaps are the per-tier ceilings in whole coins.
func DefaultTierCaps() map[uint8]uint64 {
	return map[uint8]uint64{1: 10, 5: 50, 20: 200}
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.API.normalise(); err != nil {
		return cfg, fmt.Errorf("api security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ProgramID == "" {
		cfg.ProgramID = vault.DefaultProgramID.String()
	}
	if cfg.Ledger.Endpoint == "" {
		cfg.Ledger.Endpoint = "http://127.0.0.1:8899"
	}
	if cfg.Ledger.Timeout.Duration == 0 {
		cfg.Ledger.Timeout.Duration = 10 * time.Second
	}
	if cfg.Authorization.Expiry.Duration == 0 {
		cfg.Authorization.Expiry.Duration = 120 * time.Second
	}
	if cfg.Authorization.PlayerInterval.Duration == 0 {
		cfg.Authorization.PlayerInterval.Duration = 10 * time.Second
	}
	if len(cfg.Authorization.TierCaps) == 0 {
		cfg.Authorization.TierCaps = DefaultTierCaps()
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "authorityd.db"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validateConfig(cfg Config) error {
	if _, err := crypto.ParsePublicKey(cfg.ProgramID); err != nil {
		return fmt.Errorf("program_id: %w", err)
	}
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if cfg.Authority.Key == "" && cfg.Authority.KeyFile == "" && cfg.Authority.KeyEnv == "" {
		return fmt.Errorf("authority key must be configured")
	}
	if cfg.API.Secret == "" {
		return fmt.Errorf("api secret must be configured")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn must be configured")
	}
	for tier := range cfg.Authorization.TierCaps {
		if _, err := vault.TierAmount(tier); err != nil {
			return fmt.Errorf("tier_caps: unknown tier %d", tier)
		}
	}
	return nil
}

// Program returns the configured vault program id.
func (c Config) Program() (crypto.PublicKey, error) {
	return crypto.ParsePublicKey(c.ProgramID)
}

func (a *APIConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("api configuration missing")
	}
	secret := strings.TrimSpace(a.Secret)
	switch {
	case secret != "":
	case strings.TrimSpace(a.SecretEnv) != "":
		secret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.SecretEnv)))
		if secret == "" {
			return fmt.Errorf("secret_env %s is empty", a.SecretEnv)
		}
	case strings.TrimSpace(a.SecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.SecretFile))
		if err != nil {
			return fmt.Errorf("read secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.Secret = secret
	a.JWTIssuer = strings.TrimSpace(a.JWTIssuer)
	return nil
}

// Keypair resolves the authority signing key.
func (a AuthorityConfig) Keypair() (*crypto.Keypair, error) {
	switch {
	case strings.TrimSpace(a.Key) != "":
		return parseSecret(a.Key)
	case strings.TrimSpace(a.KeyEnv) != "":
		value := strings.TrimSpace(os.Getenv(strings.TrimSpace(a.KeyEnv)))
		if value == "" {
			return nil, fmt.Errorf("key_env %s is empty", a.KeyEnv)
		}
		return parseSecret(value)
	case strings.TrimSpace(a.KeyFile) != "":
		passphrase := ""
		if env := strings.TrimSpace(a.PassphraseEnv); env != "" {
			passphrase = os.Getenv(env)
		}
		return crypto.LoadKeyFile(strings.TrimSpace(a.KeyFile), passphrase)
	default:
		return nil, fmt.Errorf("authority key is required")
	}
}

func parseSecret(text string) (*crypto.Keypair, error) {
	secret, err := crypto.DecodeBase58(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("decode authority key: %w", err)
	}
	return crypto.KeypairFromSecret(secret)
}
