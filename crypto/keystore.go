package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keyFileVersion = 1
	scryptN        = 1 << 15
	scryptR        = 8
	scryptP        = 1
)

// ErrWrongPassphrase is returned when a key file fails to decrypt.
var ErrWrongPassphrase = errors.New("crypto: wrong passphrase or corrupted key file")

type keyFile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"publicKey"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
}

func deriveKeyFileKey(passphrase string, salt []byte, n, r, p int) (*[32]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, n, r, p, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}

// SaveKeyFile encrypts the keypair seed with passphrase and writes it to path.
// If the parent directory does not exist it will be created with 0700 permissions.
func SaveKeyFile(path string, kp *Keypair, passphrase string) error {
	if kp == nil {
		return errors.New("crypto: nil keypair")
	}
	if path == "" {
		return errors.New("crypto: empty key file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	key, err := deriveKeyFileKey(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return err
	}
	out := keyFile{
		Version:    keyFileVersion,
		PublicKey:  kp.PublicKey().String(),
		Salt:       salt,
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, kp.Seed(), &nonce, key),
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadKeyFile decrypts a key file written by SaveKeyFile.
func LoadKeyFile(path, passphrase string) (*Keypair, error) {
	if path == "" {
		return nil, errors.New("crypto: empty key file path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in keyFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("crypto: decode key file: %w", err)
	}
	if in.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", in.Version)
	}
	if len(in.Nonce) != 24 {
		return nil, ErrWrongPassphrase
	}
	key, err := deriveKeyFileKey(passphrase, in.Salt, in.N, in.R, in.P)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], in.Nonce)
	seed, ok := secretbox.Open(nil, in.Ciphertext, &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	kp, err := KeypairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if in.PublicKey != "" && kp.PublicKey().String() != in.PublicKey {
		return nil, ErrWrongPassphrase
	}
	return kp, nil
}
