package vault

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"sessionvault/core/events"
	"sessionvault/core/runtime"
	"sessionvault/core/state"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/sigverify"
	"sessionvault/storage"
)

const (
	testNow     int64  = 1_700_000_000
	playerFunds uint64 = 100 * BaseUnitsPerCoin
)

type harness struct {
	t         *testing.T
	db        *storage.MemDB
	rt        *runtime.Runtime
	program   *Program
	recorder  *events.Recorder
	authority *crypto.Keypair
	player    *crypto.Keypair
	treasury  crypto.PublicKey
	now       int64
	salt      uint64
}

func mustKeypair(t *testing.T) *crypto.Keypair {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return kp
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		db:        storage.NewMemDB(),
		recorder:  &events.Recorder{},
		authority: mustKeypair(t),
		player:    mustKeypair(t),
		treasury:  mustKeypair(t).PublicKey(),
		now:       testNow,
	}
	h.rt = runtime.New(h.db,
		runtime.WithEmitter(h.recorder),
		runtime.WithAirdrop(true),
		runtime.WithNowFunc(func() int64 { return h.now }),
		runtime.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	program, err := New(DefaultProgramID)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	if err := h.rt.Register(program); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.program = program
	if err := h.rt.Airdrop(h.player.PublicKey(), playerFunds); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	return h
}

func (h *harness) send(signers []*crypto.Keypair, ixs ...types.Instruction) error {
	h.t.Helper()
	h.salt++
	tx := types.NewTransaction(h.salt, ixs...)
	for _, kp := range signers {
		if err := tx.Sign(kp); err != nil {
			h.t.Fatalf("sign: %v", err)
		}
	}
	_, err := h.rt.Execute(tx)
	return err
}

func (h *harness) bootstrap() {
	h.t.Helper()
	ix, err := NewBootstrapInstruction(DefaultProgramID, h.authority.PublicKey(), h.treasury)
	if err != nil {
		h.t.Fatalf("bootstrap instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.authority}, ix); err != nil {
		h.t.Fatalf("bootstrap: %v", err)
	}
}

func (h *harness) deposit(tier uint8) error {
	h.t.Helper()
	ix, err := NewDepositInstruction(DefaultProgramID, h.player.PublicKey(), tier)
	if err != nil {
		h.t.Fatalf("deposit instruction: %v", err)
	}
	return h.send([]*crypto.Keypair{h.player}, ix)
}

func (h *harness) authorize(max, nonce uint64, expiry int64) Authorization {
	return SignAuthorization(h.authority, DefaultProgramID, h.player.PublicKey(), max, nonce, expiry)
}

func (h *harness) cashout(auth Authorization, amount uint64) error {
	h.t.Helper()
	ixs, err := CashoutInstructions(DefaultProgramID, h.treasury, auth, amount)
	if err != nil {
		h.t.Fatalf("cashout instructions: %v", err)
	}
	return h.send([]*crypto.Keypair{h.player}, ixs...)
}

func (h *harness) session() *Session {
	h.t.Helper()
	s, ok, err := LoadSession(h.rt, DefaultProgramID, h.player.PublicKey())
	if err != nil || !ok {
		h.t.Fatalf("load session: ok=%v err=%v", ok, err)
	}
	return s
}

func (h *harness) balance(addr crypto.PublicKey) uint64 {
	h.t.Helper()
	bal, err := h.rt.Balance(addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

// putSession overwrites the player's session record directly in storage.
func (h *harness) putSession(s *Session) {
	h.t.Helper()
	addr, _, err := SessionAddress(DefaultProgramID, s.Player)
	if err != nil {
		h.t.Fatalf("session address: %v", err)
	}
	encoded, err := EncodeSession(s)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	overlay := state.NewManager(h.db).Begin()
	if err := overlay.PutAccount(addr, &types.Account{Owner: DefaultProgramID, Data: encoded}); err != nil {
		h.t.Fatalf("put account: %v", err)
	}
	if err := overlay.Commit(); err != nil {
		h.t.Fatalf("commit: %v", err)
	}
}

func TestBootstrapRecordsConfigOnce(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	cfg, ok, err := LoadConfig(h.rt, DefaultProgramID)
	if err != nil || !ok {
		t.Fatalf("load config: ok=%v err=%v", ok, err)
	}
	addrs := h.program.Addresses()
	if cfg.Treasury != h.treasury || cfg.Authority != h.authority.PublicKey() {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.VaultBump != addrs.VaultBump || cfg.ConfigBump != addrs.ConfigBump {
		t.Fatalf("bumps not recorded: %+v vs %+v", cfg, addrs)
	}
	if got := h.recorder.OfType(EventTypeConfigInitialized); len(got) != 1 {
		t.Fatalf("expected one config event, got %d", len(got))
	}

	other := mustKeypair(t)
	ix, err := NewBootstrapInstruction(DefaultProgramID, other.PublicKey(), other.PublicKey())
	if err != nil {
		t.Fatalf("bootstrap instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{other}, ix); !errors.Is(err, runtime.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists on second bootstrap, got %v", err)
	}
	cfg, _, _ = LoadConfig(h.rt, DefaultProgramID)
	if cfg.Authority != h.authority.PublicKey() {
		t.Fatalf("config must be immutable after bootstrap")
	}
}

func TestDepositRequiresBootstrap(t *testing.T) {
	h := newHarness(t)
	if err := h.deposit(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestDepositTiers(t *testing.T) {
	for _, tier := range Tiers {
		h := newHarness(t)
		h.bootstrap()
		vault := h.program.Addresses().Vault
		if err := h.deposit(tier); err != nil {
			t.Fatalf("tier %d: %v", tier, err)
		}
		amount, _ := TierAmount(tier)
		if got := h.balance(vault); got != amount {
			t.Fatalf("tier %d: vault holds %d, want %d", tier, got, amount)
		}
		if got := h.balance(h.player.PublicKey()); got != playerFunds-amount {
			t.Fatalf("tier %d: player holds %d", tier, got)
		}
		s := h.session()
		if s.Status != StatusActive || s.DepositTier != tier || s.DepositAmount != amount {
			t.Fatalf("tier %d: unexpected session %+v", tier, s)
		}
		if s.Nonce != 1 || s.StartedAt != testNow || s.MaxClaimable != 0 {
			t.Fatalf("tier %d: unexpected session %+v", tier, s)
		}
	}
}

func TestDepositRejectsInvalidTier(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	for _, tier := range []uint8{0, 2, 3, 10, 100} {
		if err := h.deposit(tier); !errors.Is(err, ErrInvalidTier) {
			t.Fatalf("tier %d: expected ErrInvalidTier, got %v", tier, err)
		}
	}
	if got := h.balance(h.player.PublicKey()); got != playerFunds {
		t.Fatalf("rejected deposits moved funds: %d", got)
	}
}

func TestDoubleDepositRejected(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.deposit(5); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if got := h.balance(h.program.Addresses().Vault); got != BaseUnitsPerCoin {
		t.Fatalf("vault balance %d after rejected deposit", got)
	}
}

func TestDepositInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	poor := mustKeypair(t)
	ix, err := NewDepositInstruction(DefaultProgramID, poor.PublicKey(), 1)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{poor}, ix); !errors.Is(err, runtime.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, ok, _ := LoadSession(h.rt, DefaultProgramID, poor.PublicKey()); ok {
		t.Fatalf("failed deposit must not create a session")
	}
}

func TestEndToEndCashout(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	vault := h.program.Addresses().Vault
	auth := h.authorize(500_000_000, 1, testNow+120)
	if err := h.cashout(auth, 500_000_000); err != nil {
		t.Fatalf("cashout: %v", err)
	}

	if got := h.balance(h.treasury); got != 50_000_000 {
		t.Fatalf("treasury holds %d", got)
	}
	if got := h.balance(h.player.PublicKey()); got != playerFunds-BaseUnitsPerCoin+450_000_000 {
		t.Fatalf("player holds %d", got)
	}
	if got := h.balance(vault); got != 500_000_000 {
		t.Fatalf("vault holds %d", got)
	}
	s := h.session()
	if s.Status != StatusClosed || s.Nonce != 2 || s.MaxClaimable != 500_000_000 || s.AuthExpiry != testNow+120 {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.LastAuthHash != ComputeReplayDigest(h.player.PublicKey(), 500_000_000, 1, testNow+120) {
		t.Fatalf("replay digest not recorded")
	}

	cashed := h.recorder.OfType(EventTypeSessionCashedOut)
	if len(cashed) != 1 {
		t.Fatalf("expected one cashout event, got %d", len(cashed))
	}
	attrs := cashed[0].Attributes
	if attrs["amount"] != "500000000" || attrs["fee"] != "50000000" || attrs["payout"] != "450000000" || attrs["nonce"] != "1" {
		t.Fatalf("unexpected cashout attributes %v", attrs)
	}
	if got := len(h.recorder.OfType(events.TypeTransfer)); got != 3 {
		t.Fatalf("expected deposit, payout and fee transfers, got %d", got)
	}
}

func TestCashoutPartialAmount(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(5); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	auth := h.authorize(2_000_000_000, 1, testNow+60)
	if err := h.cashout(auth, 11); err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if got := h.balance(h.treasury); got != 1 {
		t.Fatalf("treasury holds %d, want 1", got)
	}
	if s := h.session(); s.MaxClaimable != 2_000_000_000 {
		t.Fatalf("max claimable %d", s.MaxClaimable)
	}
}

func TestAuthorizationRedeemsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	auth := h.authorize(500_000_000, 1, testNow+120)
	if err := h.cashout(auth, 500_000_000); err != nil {
		t.Fatalf("first cashout: %v", err)
	}
	if err := h.cashout(auth, 500_000_000); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive on reuse, got %v", err)
	}
	closed := h.session().Clone()
	if closed.Status != StatusClosed || closed.LastAuthHash == ([32]byte{}) || closed.AuthExpiry == 0 || closed.MaxClaimable == 0 {
		t.Fatalf("closed slot should keep the redeemed authorization: %+v", closed)
	}

	h.now = testNow + 30
	if err := h.deposit(5); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	reopened := h.session()
	if reopened.Status != StatusActive || reopened.DepositTier != 5 || reopened.DepositAmount != 5*BaseUnitsPerCoin {
		t.Fatalf("redeposit did not replace tier and amount: %+v", reopened)
	}
	if reopened.MaxClaimable != 0 || reopened.LastAuthHash != ([32]byte{}) || reopened.AuthExpiry != 0 {
		t.Fatalf("redeposit left authorization state behind: %+v", reopened)
	}
	if reopened.StartedAt != testNow+30 || reopened.Player != closed.Player || reopened.Bump != closed.Bump {
		t.Fatalf("unexpected reopened session %+v", reopened)
	}
	if closed.Status != StatusClosed || closed.DepositTier != 1 {
		t.Fatalf("snapshot aliased the stored session: %+v", closed)
	}
	if err := h.cashout(auth, 500_000_000); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce on reuse after redeposit, got %v", err)
	}
	if got := h.session().Nonce; got != 3 {
		t.Fatalf("nonce %d, want 3", got)
	}
}

func TestConcurrentCashoutRedeemsOnce(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	auth := h.authorize(500_000_000, 1, testNow+120)
	ixs, err := CashoutInstructions(DefaultProgramID, h.treasury, auth, 500_000_000)
	if err != nil {
		t.Fatalf("cashout instructions: %v", err)
	}

	const racers = 16
	txs := make([]*types.Transaction, racers)
	for i := range txs {
		h.salt++
		txs[i] = types.NewTransaction(h.salt, ixs...)
		if err := txs[i].Sign(h.player); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}

	errs := make([]error, racers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range txs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.rt.Execute(txs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case !errors.Is(err, ErrSessionNotActive):
			t.Fatalf("losing cashout failed with %v, want ErrSessionNotActive", err)
		}
	}
	if successes != 1 {
		t.Fatalf("%d cashouts succeeded, want exactly 1", successes)
	}
	if got := h.balance(h.treasury); got != 50_000_000 {
		t.Fatalf("treasury holds %d, want 50000000", got)
	}
	if got := h.balance(h.player.PublicKey()); got != playerFunds-BaseUnitsPerCoin+450_000_000 {
		t.Fatalf("player holds %d after one payout", got)
	}
	if got := len(h.recorder.OfType(EventTypeSessionCashedOut)); got != 1 {
		t.Fatalf("expected one cashout event, got %d", got)
	}
	if s := h.session(); s.Status != StatusClosed || s.Nonce != 2 {
		t.Fatalf("unexpected session after race: %+v", s)
	}
}

// instructionCount reads vault_instructions_total{op,outcome} from the
// default registry.
func instructionCount(t *testing.T, op, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "vault_instructions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, map[string]string{"op": op, "outcome": outcome}) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if value, ok := want[pair.GetName()]; ok {
			if value != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestInstructionMetricsRecordOutcome(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	rejected := instructionCount(t, "cashout", "InvalidNonce")
	committed := instructionCount(t, "cashout", "ok")

	if err := h.cashout(h.authorize(100, 7, testNow+60), 100); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
	if got := instructionCount(t, "cashout", "InvalidNonce"); got != rejected+1 {
		t.Fatalf("InvalidNonce counter %v, want %v", got, rejected+1)
	}
	if err := h.cashout(h.authorize(100, 1, testNow+60), 100); err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if got := instructionCount(t, "cashout", "ok"); got != committed+1 {
		t.Fatalf("ok counter %v, want %v", got, committed+1)
	}
}

func TestReplayDigestRejected(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	s := h.session()
	s.LastAuthHash = ComputeReplayDigest(h.player.PublicKey(), 500_000_000, s.Nonce, testNow+120)
	h.putSession(s)

	auth := h.authorize(500_000_000, s.Nonce, testNow+120)
	if err := h.cashout(auth, 1); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	atNow := h.authorize(100, 1, testNow)
	if err := h.cashout(atNow, 100); !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("expected ErrAuthorizationExpired at expiry, got %v", err)
	}
	h.now = testNow - 1
	if err := h.cashout(atNow, 100); err != nil {
		t.Fatalf("cashout one second before expiry: %v", err)
	}
}

func TestCashoutGuards(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expiry := testNow + 120

	if err := h.cashout(h.authorize(100, 2, expiry), 10); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
	if err := h.cashout(h.authorize(100, 1, expiry), 101); !errors.Is(err, ErrAmountExceedsAuthorized) {
		t.Fatalf("expected ErrAmountExceedsAuthorized, got %v", err)
	}
	if err := h.cashout(h.authorize(100, 1, expiry), 0); !errors.Is(err, ErrZeroCashout) {
		t.Fatalf("expected ErrZeroCashout, got %v", err)
	}

	stranger := mustKeypair(t)
	forged := SignAuthorization(stranger, DefaultProgramID, h.player.PublicKey(), 100, 1, expiry)
	if err := h.cashout(forged, 10); !errors.Is(err, ErrInvalidAuthority) {
		t.Fatalf("expected ErrInvalidAuthority, got %v", err)
	}

	// Signed for a lower ceiling than the one claimed.
	low := h.authorize(100, 1, expiry)
	msg := low.Message(DefaultProgramID)
	verify := sigverify.NewInstruction(low.Authority, msg[:], low.Signature)
	cashout, err := NewCashoutInstruction(DefaultProgramID, h.player.PublicKey(), h.treasury, CashoutArgs{
		Amount: 1_000, MaxClaimable: 1_000, Nonce: 1, Expiry: expiry,
	})
	if err != nil {
		t.Fatalf("cashout instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.player}, verify, cashout); !errors.Is(err, ErrInvalidAuthorizationMessage) {
		t.Fatalf("expected ErrInvalidAuthorizationMessage, got %v", err)
	}

	if err := h.send([]*crypto.Keypair{h.player}, cashout); !errors.Is(err, ErrMissingEd25519Instruction) {
		t.Fatalf("expected ErrMissingEd25519Instruction, got %v", err)
	}

	good := h.authorize(100, 1, expiry)
	ixs, err := CashoutInstructions(DefaultProgramID, h.treasury, good, 100)
	if err != nil {
		t.Fatalf("cashout instructions: %v", err)
	}
	doubled := []types.Instruction{ixs[0], ixs[0], ixs[1]}
	if err := h.send([]*crypto.Keypair{h.player}, doubled...); !errors.Is(err, ErrInvalidEd25519Instruction) {
		t.Fatalf("expected ErrInvalidEd25519Instruction, got %v", err)
	}

	wrongTreasury, err := CashoutInstructions(DefaultProgramID, stranger.PublicKey(), good, 100)
	if err != nil {
		t.Fatalf("cashout instructions: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.player}, wrongTreasury...); !errors.Is(err, ErrInvalidTreasury) {
		t.Fatalf("expected ErrInvalidTreasury, got %v", err)
	}

	s := h.session()
	if s.Status != StatusActive || s.Nonce != 1 {
		t.Fatalf("failed cashouts must not mutate the session: %+v", s)
	}
	if err := h.cashout(good, 100); err != nil {
		t.Fatalf("valid cashout after failures: %v", err)
	}
}

func TestCashoutGuardOrder(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Wrong nonce, expired and over the ceiling: the nonce check runs first.
	auth := h.authorize(10, 5, testNow-1)
	if err := h.cashout(auth, 20); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
	// Expired and over the ceiling.
	auth = h.authorize(10, 1, testNow-1)
	if err := h.cashout(auth, 20); !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("expected ErrAuthorizationExpired, got %v", err)
	}
}

func TestCashoutWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.cashout(h.authorize(10, 1, testNow+10), 10); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestCashoutRejectsTamperedSignature(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	auth := h.authorize(100, 1, testNow+10)
	auth.Signature[0] ^= 0xFF
	if err := h.cashout(auth, 10); !errors.Is(err, runtime.ErrSignatureVerification) {
		t.Fatalf("expected ErrSignatureVerification, got %v", err)
	}
}

func TestForceClose(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	if err := h.deposit(5); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	vault := h.program.Addresses().Vault
	ix, err := NewForceCloseInstruction(DefaultProgramID, h.authority.PublicKey(), h.player.PublicKey())
	if err != nil {
		t.Fatalf("force close instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.authority}, ix); err != nil {
		t.Fatalf("force close: %v", err)
	}
	s := h.session()
	if s.Status != StatusClosed || s.MaxClaimable != 0 || s.Nonce != 2 {
		t.Fatalf("unexpected session %+v", s)
	}
	if got := h.balance(vault); got != 5*BaseUnitsPerCoin {
		t.Fatalf("deposit must stay in custody, vault holds %d", got)
	}
	if got := len(h.recorder.OfType(EventTypeSessionForceClosed)); got != 1 {
		t.Fatalf("expected one force-close event, got %d", got)
	}

	if err := h.send([]*crypto.Keypair{h.authority}, ix); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if err := h.cashout(h.authorize(100, 1, testNow+10), 10); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive after force close, got %v", err)
	}
	if err := h.deposit(1); err != nil {
		t.Fatalf("redeposit after force close: %v", err)
	}
	if got := h.session().Nonce; got != 3 {
		t.Fatalf("nonce %d, want 3", got)
	}
}

func TestForceCloseRequiresAuthority(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	intruder := mustKeypair(t)
	ix, err := NewForceCloseInstruction(DefaultProgramID, intruder.PublicKey(), h.player.PublicKey())
	if err != nil {
		t.Fatalf("force close instruction: %v", err)
	}
	// Authority is checked before the session state.
	if err := h.send([]*crypto.Keypair{intruder}, ix); !errors.Is(err, ErrUnauthorizedAuthority) {
		t.Fatalf("expected ErrUnauthorizedAuthority, got %v", err)
	}
	if err := h.deposit(1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.send([]*crypto.Keypair{intruder}, ix); !errors.Is(err, ErrUnauthorizedAuthority) {
		t.Fatalf("expected ErrUnauthorizedAuthority, got %v", err)
	}
	if err := h.send(nil, ix); !errors.Is(err, runtime.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	if s := h.session(); s.Status != StatusActive {
		t.Fatalf("session closed by non-authority")
	}
}

func TestForceCloseNonceWraps(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.putSession(&Session{
		Player: h.player.PublicKey(),
		Status: StatusActive,
		Nonce:  math.MaxUint64,
	})
	ix, err := NewForceCloseInstruction(DefaultProgramID, h.authority.PublicKey(), h.player.PublicKey())
	if err != nil {
		t.Fatalf("force close instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.authority}, ix); err != nil {
		t.Fatalf("force close: %v", err)
	}
	if got := h.session().Nonce; got != 1 {
		t.Fatalf("nonce %d, want 1", got)
	}
}

func TestInstructionAccountValidation(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	ix, err := NewDepositInstruction(DefaultProgramID, h.player.PublicKey(), 1)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	ix.Accounts[2].PublicKey = h.player.PublicKey()
	if err := h.send([]*crypto.Keypair{h.player}, ix); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	bad := types.Instruction{ProgramID: DefaultProgramID, Data: []byte{9}}
	if err := h.send(nil, bad); !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected ErrInvalidInstruction, got %v", err)
	}
}

func TestFailedTransactionIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	before := len(h.recorder.Events)
	first, err := NewDepositInstruction(DefaultProgramID, h.player.PublicKey(), 1)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	second, err := NewDepositInstruction(DefaultProgramID, h.player.PublicKey(), 5)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	if err := h.send([]*crypto.Keypair{h.player}, first, second); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if got := h.balance(h.player.PublicKey()); got != playerFunds {
		t.Fatalf("partial effects committed, player holds %d", got)
	}
	if _, ok, _ := LoadSession(h.rt, DefaultProgramID, h.player.PublicKey()); ok {
		t.Fatalf("partial effects committed, session exists")
	}
	if len(h.recorder.Events) != before {
		t.Fatalf("events published for an aborted transaction")
	}
}
