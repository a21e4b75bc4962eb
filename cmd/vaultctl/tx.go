package main

import (
	"encoding/json"
	"fmt"
	"os"

	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/services/authorityd"
)

// submit signs ixs with signer and sends them, printing the receipt.
func (c *cli) submit(signer *crypto.Keypair, ixs ...types.Instruction) int {
	tx := types.NewTransaction(uint64(c.now().UnixNano()), ixs...)
	if err := tx.Sign(signer); err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	res, err := c.client().SendTransaction(ctx, tx)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(res)
}

func (c *cli) runBootstrap(args []string) int {
	fs := c.flagSet("bootstrap")
	keyPath := fs.String("key", "", "authority key file")
	treasuryArg := fs.String("treasury", "", "treasury account receiving fees")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	treasury, err := parseKeyArg("--treasury", *treasuryArg)
	if err != nil {
		return c.fail(err)
	}
	authority, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	ix, err := vault.NewBootstrapInstruction(c.program, authority.PublicKey(), treasury)
	if err != nil {
		return c.fail(err)
	}
	return c.submit(authority, ix)
}

func (c *cli) runDeposit(args []string) int {
	fs := c.flagSet("deposit")
	keyPath := fs.String("key", "", "player key file")
	tier := fs.Uint("tier", 0, "deposit tier: 1, 5 or 20")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *tier > 255 {
		return c.fail(vault.ErrInvalidTier)
	}
	if _, err := vault.TierAmount(uint8(*tier)); err != nil {
		return c.fail(err)
	}
	player, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	ix, err := vault.NewDepositInstruction(c.program, player.PublicKey(), uint8(*tier))
	if err != nil {
		return c.fail(err)
	}
	return c.submit(player, ix)
}

func (c *cli) runCashout(args []string) int {
	fs := c.flagSet("cashout")
	keyPath := fs.String("key", "", "player key file")
	authPath := fs.String("auth", "", "authorization JSON issued by authorityd")
	amount := fs.Uint64("amount", 0, "amount to redeem in base units (defaults to the authorized maximum)")
	maxClaimable := fs.Uint64("max", 0, "authorized maximum in base units")
	nonce := fs.Uint64("nonce", 0, "session nonce the authorization was issued for")
	expiry := fs.Int64("expiry", 0, "authorization expiry (unix seconds)")
	authorityArg := fs.String("authority", "", "authority key that signed the authorization")
	signatureArg := fs.String("signature", "", "base58 authority signature")
	treasuryArg := fs.String("treasury", "", "treasury account (defaults to the bootstrapped config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	player, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}

	var auth vault.Authorization
	if *authPath != "" {
		auth, err = readAuthorization(*authPath)
		if err != nil {
			return c.fail(err)
		}
	} else {
		authority, err := parseKeyArg("--authority", *authorityArg)
		if err != nil {
			return c.fail(err)
		}
		sig, err := crypto.ParseSignature(*signatureArg)
		if err != nil {
			return c.failf("--signature: %v", err)
		}
		auth = vault.Authorization{
			Player:       player.PublicKey(),
			Authority:    authority,
			MaxClaimable: *maxClaimable,
			Nonce:        *nonce,
			Expiry:       *expiry,
			Signature:    sig,
		}
	}
	if auth.Player != player.PublicKey() {
		return c.failf("authorization was issued to %s, not %s", auth.Player, player.PublicKey())
	}
	redeem := *amount
	if redeem == 0 {
		redeem = auth.MaxClaimable
	}

	var treasury crypto.PublicKey
	if *treasuryArg != "" {
		treasury, err = parseKeyArg("--treasury", *treasuryArg)
		if err != nil {
			return c.fail(err)
		}
	} else {
		ctx, cancel := c.context()
		cfg, err := c.client().Config(ctx)
		cancel()
		if err != nil {
			return c.fail(err)
		}
		if cfg == nil {
			return c.fail(vault.ErrNotInitialized)
		}
		treasury = cfg.Treasury
	}

	ixs, err := vault.CashoutInstructions(c.program, treasury, auth, redeem)
	if err != nil {
		return c.fail(err)
	}
	return c.submit(player, ixs...)
}

func readAuthorization(path string) (vault.Authorization, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return vault.Authorization{}, err
	}
	var resp authorityd.AuthorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return vault.Authorization{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.Authorization(), nil
}

func (c *cli) runForceClose(args []string) int {
	fs := c.flagSet("force-close")
	keyPath := fs.String("key", "", "authority key file")
	playerArg := fs.String("player", "", "player whose session is closed")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	player, err := parseKeyArg("--player", *playerArg)
	if err != nil {
		return c.fail(err)
	}
	authority, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	ix, err := vault.NewForceCloseInstruction(c.program, authority.PublicKey(), player)
	if err != nil {
		return c.fail(err)
	}
	return c.submit(authority, ix)
}
