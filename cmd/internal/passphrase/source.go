package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmed passphrase is typed differently
// the second time.
var ErrMismatch = errors.New("passphrases do not match")

// Source resolves a key file passphrase once, from an environment variable or
// an interactive prompt, and caches the result.
type Source struct {
	envVar  string
	prompt  string
	confirm bool
	stdin   *os.File
	stderr  io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: "Key file passphrase: ",
		stdin:  os.Stdin,
		stderr: os.Stderr,
	}
}

// WithPrompt replaces the interactive prompt text.
func (s *Source) WithPrompt(prompt string) *Source {
	s.prompt = prompt
	return s
}

// WithConfirmation makes the terminal prompt ask twice. Used when a new key
// file is created; the environment value is taken as is.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

// Get returns the passphrase, resolving it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		value, found, err := s.fromEnv()
		if err != nil || found {
			s.value, s.err = value, err
			return
		}
		s.value, s.err = s.fromTerminal()
	})
	return s.value, s.err
}

func (s *Source) fromEnv() (string, bool, error) {
	if s.envVar == "" {
		return "", false, nil
	}
	value, ok := os.LookupEnv(s.envVar)
	if !ok {
		return "", false, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", true, fmt.Errorf("%s is set but empty", s.envVar)
	}
	return value, true, nil
}

func (s *Source) fromTerminal() (string, error) {
	fd := int(s.stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("key file passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("key file passphrase required and no terminal available")
	}
	first, err := s.read(fd, s.prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("key file passphrase cannot be empty")
	}
	if !s.confirm {
		return first, nil
	}
	second, err := s.read(fd, "Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrMismatch
	}
	return first, nil
}

func (s *Source) read(fd int, prompt string) (string, error) {
	fmt.Fprint(s.stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
