package runtime

import (
	"fmt"
	"math"

	"sessionvault/core/events"
	"sessionvault/core/state"
	"sessionvault/core/types"
	"sessionvault/crypto"
)

// InvokeContext is the view a program gets of the transaction while one of
// its instructions executes. All writes go to the transaction overlay.
type InvokeContext struct {
	overlay *state.Overlay
	tx      *types.Transaction
	txHash  [32]byte
	index   int
	program crypto.PublicKey
	metas   []types.AccountMeta
	signers map[crypto.PublicKey]bool
	now     int64
	events  []events.Event
}

// ProgramID returns the program being invoked.
func (c *InvokeContext) ProgramID() crypto.PublicKey { return c.program }

// Now returns the ledger clock in unix seconds, fixed for the transaction.
func (c *InvokeContext) Now() int64 { return c.now }

// TxHash returns the signing hash of the enclosing transaction.
func (c *InvokeContext) TxHash() [32]byte { return c.txHash }

// CurrentIndex is the position of the executing instruction.
func (c *InvokeContext) CurrentIndex() int { return c.index }

// Instructions returns every instruction of the enclosing transaction.
func (c *InvokeContext) Instructions() []types.Instruction {
	out := make([]types.Instruction, len(c.tx.Instructions))
	copy(out, c.tx.Instructions)
	return out
}

// IsSigner reports whether key signed the enclosing transaction.
func (c *InvokeContext) IsSigner(key crypto.PublicKey) bool { return c.signers[key] }

func (c *InvokeContext) meta(addr crypto.PublicKey) (types.AccountMeta, error) {
	for _, m := range c.metas {
		if m.PublicKey == addr {
			return m, nil
		}
	}
	return types.AccountMeta{}, fmt.Errorf("%w: %s", ErrAccountNotListed, addr)
}

func (c *InvokeContext) writable(addr crypto.PublicKey) error {
	m, err := c.meta(addr)
	if err != nil {
		return err
	}
	if !m.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, addr)
	}
	return nil
}

func (c *InvokeContext) load(addr crypto.PublicKey) (*types.Account, error) {
	acc, ok, err := c.overlay.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{}, nil
	}
	return acc, nil
}

// Account returns the account at addr; absent accounts report ok=false.
func (c *InvokeContext) Account(addr crypto.PublicKey) (*types.Account, bool, error) {
	if _, err := c.meta(addr); err != nil {
		return nil, false, err
	}
	return c.overlay.GetAccount(addr)
}

// CreateAccount assigns the derived address to the invoking program and
// stores data in it. It fails if the address is already in use, which makes
// record creation create-if-absent.
func (c *InvokeContext) CreateAccount(addr crypto.PublicKey, seeds [][]byte, bump uint8, data []byte) error {
	if err := c.writable(addr); err != nil {
		return err
	}
	derived, err := crypto.CreateProgramAddress(seeds, bump, c.program)
	if err != nil || derived != addr {
		return fmt.Errorf("%w: %s", ErrInvalidDerivation, addr)
	}
	acc, err := c.load(addr)
	if err != nil {
		return err
	}
	if !acc.IsSystemOwned() || len(acc.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	acc.Owner = c.program
	acc.Data = append([]byte(nil), data...)
	return c.overlay.PutAccount(addr, acc)
}

// WriteData replaces the data of an account owned by the invoking program.
func (c *InvokeContext) WriteData(addr crypto.PublicKey, data []byte) error {
	if err := c.writable(addr); err != nil {
		return err
	}
	acc, err := c.load(addr)
	if err != nil {
		return err
	}
	if acc.Owner != c.program {
		return fmt.Errorf("%w: %s", ErrAccountNotOwned, addr)
	}
	acc.Data = append([]byte(nil), data...)
	return c.overlay.PutAccount(addr, acc)
}

// Transfer moves lamports out of a system account that signed the transaction.
func (c *InvokeContext) Transfer(from, to crypto.PublicKey, amount uint64) error {
	if !c.signers[from] {
		return fmt.Errorf("%w: %s", ErrMissingSignature, from)
	}
	return c.move(from, to, amount, crypto.PublicKey{})
}

// TransferSigned moves lamports out of a system account addressed by a
// derivation of the invoking program. The seeds and bump are the proof that
// the program controls from.
func (c *InvokeContext) TransferSigned(from, to crypto.PublicKey, amount uint64, seeds [][]byte, bump uint8) error {
	derived, err := crypto.CreateProgramAddress(seeds, bump, c.program)
	if err != nil || derived != from {
		return fmt.Errorf("%w: %s", ErrInvalidDerivation, from)
	}
	return c.move(from, to, amount, c.program)
}

func (c *InvokeContext) move(from, to crypto.PublicKey, amount uint64, via crypto.PublicKey) error {
	if err := c.writable(from); err != nil {
		return err
	}
	if err := c.writable(to); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	src, err := c.load(from)
	if err != nil {
		return err
	}
	if !src.IsSystemOwned() {
		return fmt.Errorf("%w: %s", ErrAccountNotOwned, from)
	}
	if src.Lamports < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, src.Lamports, amount)
	}
	if from == to {
		return nil
	}
	dst, err := c.load(to)
	if err != nil {
		return err
	}
	if dst.Lamports > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	src.Lamports -= amount
	dst.Lamports += amount
	if err := c.overlay.PutAccount(from, src); err != nil {
		return err
	}
	if err := c.overlay.PutAccount(to, dst); err != nil {
		return err
	}
	c.Emit(events.Transfer{
		From:    from,
		To:      to,
		Amount:  amount,
		Program: via,
		TxHash:  c.txHash,
	})
	return nil
}

// Emit buffers evt. Buffered events are published only if the whole
// transaction commits.
func (c *InvokeContext) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	c.events = append(c.events, evt)
}
