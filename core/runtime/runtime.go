package runtime

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"sessionvault/core/events"
	"sessionvault/core/state"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/sigverify"
	"sessionvault/observability"
	"sessionvault/storage"
)

// Program is native code addressed by instructions.
type Program interface {
	ID() crypto.PublicKey
	Execute(ctx *InvokeContext, ix types.Instruction) error
}

// Receipt summarises a committed transaction.
type Receipt struct {
	TxHash [32]byte
	Events []*types.Event
}

// Hash renders the transaction hash as 0x-prefixed hex.
func (r Receipt) Hash() string { return "0x" + hex.EncodeToString(r.TxHash[:]) }

// txPublisher is implemented by emitters that want the transaction hash
// alongside each event, such as events.Feed.
type txPublisher interface {
	Publish(txHash string, evt *types.Event)
}

// Runtime executes transactions against ledger state. Execute calls are
// serialized so no transaction observes a partially applied one.
type Runtime struct {
	mu           sync.Mutex
	state        *state.Manager
	programs     map[crypto.PublicKey]Program
	emitter      events.Emitter
	nowFn        func() int64
	logger       *slog.Logger
	metrics      *observability.VaultMetrics
	allowAirdrop bool
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithEmitter receives events of committed transactions.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) { r.emitter = emitter }
}

// WithNowFunc overrides the ledger clock (unix seconds).
func WithNowFunc(now func() int64) Option {
	return func(r *Runtime) { r.nowFn = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithAirdrop enables Airdrop for development networks.
func WithAirdrop(enabled bool) Option {
	return func(r *Runtime) { r.allowAirdrop = enabled }
}

// New creates a runtime over db.
func New(db storage.Database, opts ...Option) *Runtime {
	rt := &Runtime{
		state:    state.NewManager(db),
		programs: make(map[crypto.PublicKey]Program),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		logger:   slog.Default(),
		metrics:  observability.Vault(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.emitter == nil {
		rt.emitter = events.NoopEmitter{}
	}
	if rt.nowFn == nil {
		rt.nowFn = func() int64 { return time.Now().Unix() }
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	return rt
}

// Register makes program addressable by its ID.
func (r *Runtime) Register(program Program) error {
	if program == nil {
		return fmt.Errorf("runtime: nil program")
	}
	id := program.ID()
	if id == sigverify.ProgramID || id.IsZero() {
		return fmt.Errorf("runtime: program id %s is reserved", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.programs[id]; exists {
		return fmt.Errorf("runtime: program %s already registered", id)
	}
	r.programs[id] = program
	return nil
}

// SetNowFunc replaces the ledger clock. Tests use it to pin time.
func (r *Runtime) SetNowFunc(now func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// Now returns the current ledger time.
func (r *Runtime) Now() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nowFn()
}

// Account returns the committed account at addr.
func (r *Runtime) Account(addr crypto.PublicKey) (*types.Account, bool, error) {
	return r.state.GetAccount(addr)
}

// Balance returns the committed balance of addr; missing accounts hold zero.
func (r *Runtime) Balance(addr crypto.PublicKey) (uint64, error) {
	acc, ok, err := r.state.GetAccount(addr)
	if err != nil || !ok {
		return 0, err
	}
	return acc.Lamports, nil
}

// Airdrop credits amount to a system account out of thin air.
func (r *Runtime) Airdrop(addr crypto.PublicKey, amount uint64) error {
	if !r.allowAirdrop {
		return ErrAirdropDisabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	overlay := r.state.Begin()
	acc, ok, err := overlay.GetAccount(addr)
	if err != nil {
		overlay.Discard()
		return err
	}
	if !ok {
		acc = &types.Account{}
	}
	if !acc.IsSystemOwned() {
		overlay.Discard()
		return ErrAccountNotOwned
	}
	if acc.Lamports > math.MaxUint64-amount {
		overlay.Discard()
		return ErrBalanceOverflow
	}
	acc.Lamports += amount
	if err := overlay.PutAccount(addr, acc); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

func verifyTransactionSignatures(tx *types.Transaction, hash [32]byte) (map[crypto.PublicKey]bool, error) {
	signers := make(map[crypto.PublicKey]bool, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		if !sig.Signer.Verify(hash[:], sig.Signature) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTxSignature, sig.Signer)
		}
		signers[sig.Signer] = true
	}
	return signers, nil
}

// Execute validates and applies tx atomically. Any failing check or
// instruction aborts the whole transaction with no state or event effects.
func (r *Runtime) Execute(tx *types.Transaction) (Receipt, error) {
	if tx == nil || len(tx.Instructions) == 0 {
		return Receipt{}, ErrEmptyTransaction
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{TxHash: hash}
	signers, err := verifyTransactionSignatures(tx, hash)
	if err != nil {
		r.record(receipt, len(tx.Instructions), err)
		return receipt, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buffered, err := r.apply(tx, hash, signers)
	r.record(receipt, len(tx.Instructions), err)
	if err != nil {
		return receipt, err
	}
	txHash := receipt.Hash()
	for _, evt := range buffered {
		receipt.Events = append(receipt.Events, evt.Event().Clone())
		if publisher, ok := r.emitter.(txPublisher); ok {
			publisher.Publish(txHash, evt.Event())
			continue
		}
		r.emitter.Emit(evt)
	}
	return receipt, nil
}

func (r *Runtime) apply(tx *types.Transaction, hash [32]byte, signers map[crypto.PublicKey]bool) ([]events.Event, error) {
	overlay := r.state.Begin()
	committed := false
	defer func() {
		if !committed {
			overlay.Discard()
		}
	}()

	done, err := overlay.IsProcessed(hash)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrAlreadyProcessed
	}

	siblings := make([][]byte, len(tx.Instructions))
	for i, ix := range tx.Instructions {
		siblings[i] = ix.Data
	}
	for i, ix := range tx.Instructions {
		if ix.ProgramID != sigverify.ProgramID {
			continue
		}
		if err := sigverify.Verify(ix.Data, siblings); err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", ErrSignatureVerification, i, err)
		}
	}

	now := r.nowFn()
	var buffered []events.Event
	for i, ix := range tx.Instructions {
		if ix.ProgramID == sigverify.ProgramID {
			continue
		}
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !signers[meta.PublicKey] {
				return nil, fmt.Errorf("instruction %d: %w: %s", i, ErrMissingSignature, meta.PublicKey)
			}
		}
		program, ok := r.programs[ix.ProgramID]
		if !ok {
			return nil, fmt.Errorf("instruction %d: %w: %s", i, ErrUnknownProgram, ix.ProgramID)
		}
		ctx := &InvokeContext{
			overlay: overlay,
			tx:      tx,
			txHash:  hash,
			index:   i,
			program: ix.ProgramID,
			metas:   ix.Accounts,
			signers: signers,
			now:     now,
		}
		if err := program.Execute(ctx, ix); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		buffered = append(buffered, ctx.events...)
	}

	if err := overlay.MarkProcessed(hash); err != nil {
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return buffered, nil
}

func (r *Runtime) record(receipt Receipt, instructions int, err error) {
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
		if errors.Is(err, ErrAlreadyProcessed) {
			outcome = "duplicate"
		}
	}
	if r.metrics != nil {
		r.metrics.RecordTransaction(outcome)
	}
	if err != nil {
		r.logger.Warn("transaction rejected",
			slog.String("tx", receipt.Hash()),
			slog.Int("instructions", instructions),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Info("transaction committed",
		slog.String("tx", receipt.Hash()),
		slog.Int("instructions", instructions))
}
