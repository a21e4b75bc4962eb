package main

import (
	"fmt"

	"sessionvault/crypto"
)

func (c *cli) runAddresses(args []string) int {
	fs := c.flagSet("addresses")
	playerArg := fs.String("player", "", "optional player key to include the session address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var player *crypto.PublicKey
	if *playerArg != "" {
		pk, err := parseKeyArg("--player", *playerArg)
		if err != nil {
			return c.fail(err)
		}
		player = &pk
	}
	ctx, cancel := c.context()
	defer cancel()
	res, err := c.client().Addresses(ctx, player)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(res)
}

func (c *cli) runBalance(args []string) int {
	if len(args) != 1 {
		return c.failf("usage: vaultctl balance KEY")
	}
	addr, err := parseKeyArg("address", args[0])
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bal, err := c.client().Balance(ctx, addr)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, bal)
	return 0
}

func (c *cli) runAirdrop(args []string) int {
	fs := c.flagSet("airdrop")
	to := fs.String("to", "", "recipient key")
	amount := fs.Uint64("amount", 0, "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseKeyArg("--to", *to)
	if err != nil {
		return c.fail(err)
	}
	if *amount == 0 {
		return c.failf("--amount must be greater than zero")
	}
	ctx, cancel := c.context()
	defer cancel()
	bal, err := c.client().Airdrop(ctx, addr, *amount)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, bal)
	return 0
}

func (c *cli) runSession(args []string) int {
	if len(args) != 1 {
		return c.failf("usage: vaultctl session KEY")
	}
	player, err := parseKeyArg("player", args[0])
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	session, err := c.client().Session(ctx, player)
	if err != nil {
		return c.fail(err)
	}
	if session == nil {
		return c.failf("no session for %s", player)
	}
	return c.printJSON(session)
}

func (c *cli) runConfig(args []string) int {
	if len(args) != 0 {
		return c.failf("usage: vaultctl config")
	}
	ctx, cancel := c.context()
	defer cancel()
	cfg, err := c.client().Config(ctx)
	if err != nil {
		return c.fail(err)
	}
	if cfg == nil {
		return c.failf("vault is not bootstrapped")
	}
	return c.printJSON(cfg)
}
