package crypto

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestKeyFileRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "authority.json")
	if err := SaveKeyFile(path, kp, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadKeyFile(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PublicKey() != kp.PublicKey() {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadKeyFile(path, "wrong"); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}
