package passphrase

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "correct horse")
	src := NewSource("VAULT_TEST_PASSPHRASE")
	value, err := src.Get()
	if err != nil || value != "correct horse" {
		t.Fatalf("unexpected passphrase %q err %v", value, err)
	}
	t.Setenv("VAULT_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached value, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("VAULT_TEST_PASSPHRASE").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	src := NewSource("VAULT_TEST_UNSET_PASSPHRASE")
	src.stdin = f
	_, err = src.Get()
	if err == nil || !strings.Contains(err.Error(), "VAULT_TEST_UNSET_PASSPHRASE") {
		t.Fatalf("expected env hint in error, got %v", err)
	}
}

func TestConfirmationKeepsEnvironmentValue(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "from env")
	value, err := NewSource("VAULT_TEST_PASSPHRASE").WithConfirmation().Get()
	if err != nil || value != "from env" {
		t.Fatalf("unexpected passphrase %q err %v", value, err)
	}
}
