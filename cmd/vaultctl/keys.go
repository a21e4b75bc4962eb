package main

import (
	"fmt"
	"os"
	"strings"

	"sessionvault/crypto"
)

func (c *cli) runKeygen(args []string) int {
	fs := c.flagSet("keygen")
	out := fs.String("out", "", "path of the encrypted key file to create")
	force := fs.Bool("force", false, "overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return c.failf("--out is required")
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return c.failf("%s already exists; pass --force to overwrite", *out)
	}
	pass, err := newPassphraseSource(true)()
	if err != nil {
		return c.fail(err)
	}
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveKeyFile(*out, kp, pass); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, kp.PublicKey().String())
	return 0
}

func (c *cli) runPubkey(args []string) int {
	fs := c.flagSet("pubkey")
	keyPath := fs.String("key", "", "encrypted key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	kp, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, kp.PublicKey().String())
	return 0
}

func (c *cli) loadKey(path string) (*crypto.Keypair, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := c.passphrase()
	if err != nil {
		return nil, err
	}
	kp, err := crypto.LoadKeyFile(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return kp, nil
}

func parseKeyArg(name, value string) (crypto.PublicKey, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.PublicKey{}, fmt.Errorf("%s is required", name)
	}
	pk, err := crypto.ParsePublicKey(value)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%s: %w", name, err)
	}
	return pk, nil
}
