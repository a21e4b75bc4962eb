package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sessionvault/cmd/internal/passphrase"
	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/rpc"
)

const (
	rpcURLEnv        = "VAULT_RPC_URL"
	programIDEnv     = "VAULT_PROGRAM_ID"
	passphraseEnv    = "VAULT_PASSPHRASE"
	defaultRPCURL    = "http://127.0.0.1:8899"
	defaultCallLimit = 15 * time.Second
)

// cli holds the global settings shared by every subcommand.
type cli struct {
	endpoint   string
	program    crypto.PublicKey
	passphrase func() (string, error)
	now        func() time.Time
	stdout     io.Writer
	stderr     io.Writer
}

// newPassphraseSource returns the passphrase getter; confirm asks twice on a
// terminal.
var newPassphraseSource = func(confirm bool) func() (string, error) {
	src := passphrase.NewSource(passphraseEnv)
	if confirm {
		src.WithConfirmation()
	}
	return src.Get
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{
		endpoint:   envOr(rpcURLEnv, defaultRPCURL),
		program:    vault.DefaultProgramID,
		passphrase: newPassphraseSource(false),
		now:        time.Now,
		stdout:     stdout,
		stderr:     stderr,
	}
	if value := strings.TrimSpace(os.Getenv(programIDEnv)); value != "" {
		program, err := crypto.ParsePublicKey(value)
		if err != nil {
			return c.fail(fmt.Errorf("%s: %w", programIDEnv, err))
		}
		c.program = program
	}
	args, err := c.applyGlobalFlags(args)
	if err != nil {
		return c.fail(err)
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	commands := map[string]func([]string) int{
		"keygen":      c.runKeygen,
		"pubkey":      c.runPubkey,
		"addresses":   c.runAddresses,
		"airdrop":     c.runAirdrop,
		"balance":     c.runBalance,
		"bootstrap":   c.runBootstrap,
		"deposit":     c.runDeposit,
		"cashout":     c.runCashout,
		"force-close": c.runForceClose,
		"session":     c.runSession,
		"config":      c.runConfig,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
			fmt.Fprintln(stdout, usage())
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return cmd(args[1:])
}

func usage() string {
	return strings.Join([]string{
		"Usage: vaultctl [--rpc URL] [--program ID] <command> [flags]",
		"",
		"Commands:",
		"  keygen      --out FILE                       create an encrypted key file",
		"  pubkey      --key FILE                       print the public key of a key file",
		"  addresses   [--player KEY]                   print derived program accounts",
		"  airdrop     --to KEY --amount N              credit base units (dev nodes only)",
		"  balance     KEY                              print the balance of an account",
		"  bootstrap   --key FILE --treasury KEY        initialise the vault (signer becomes authority)",
		"  deposit     --key FILE --tier 1|5|20         lock a tier deposit into a new session",
		"  cashout     --key FILE --auth FILE [--amount N]",
		"              --key FILE --max N --nonce N --expiry T --authority KEY --signature SIG [--amount N]",
		"  force-close --key FILE --player KEY          close a session without payout",
		"  session     KEY                              print the session of a player",
		"  config      print the vault config",
		"",
		"Environment: " + rpcURLEnv + ", " + programIDEnv + ", " + passphraseEnv,
	}, "\n")
}

func (c *cli) applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--rpc", "--program":
		default:
			out = append(out, args[i:]...)
			return out, nil
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--rpc":
			c.endpoint = strings.TrimSpace(value)
		case "--program":
			program, err := crypto.ParsePublicKey(value)
			if err != nil {
				return nil, fmt.Errorf("--program: %w", err)
			}
			c.program = program
		}
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (c *cli) client() *rpc.Client { return rpc.NewClient(c.endpoint, nil) }

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultCallLimit)
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// fail prints err, naming the vault error code when there is one.
func (c *cli) fail(err error) int {
	if code, name, ok := vault.Code(err); ok {
		fmt.Fprintf(c.stderr, "Error: %s (%d): %v\n", name, code, err)
		return 1
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(c.stderr, "Error: %s\n", rpcErr.Error())
		return 1
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) failf(format string, args ...interface{}) int {
	return c.fail(fmt.Errorf(format, args...))
}

func (c *cli) printJSON(v interface{}) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err)
	}
	return 0
}
