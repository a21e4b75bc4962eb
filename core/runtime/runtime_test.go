package runtime

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"sessionvault/core/events"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/sigverify"
	"sessionvault/storage"
)

var testProgramID = crypto.PublicKey{0x42}

// pocket is a minimal program holding lamports at a derived address.
//
//	0: create record at accounts[0] from seeds "record"
//	1: transfer data[1] lamports accounts[0] -> accounts[1] (signer)
//	2: withdraw data[1] lamports from pocket accounts[0] -> accounts[1]
//	3: fail after emitting an event
//	4: record the instruction index and count in accounts[0]
//	5: record the program id and transaction hash in accounts[0]
type pocket struct{}

func (pocket) ID() crypto.PublicKey { return testProgramID }

func (pocket) Execute(ctx *InvokeContext, ix types.Instruction) error {
	switch ix.Data[0] {
	case 0:
		_, bump, err := crypto.FindProgramAddress([][]byte{[]byte("record")}, testProgramID)
		if err != nil {
			return err
		}
		return ctx.CreateAccount(ix.Accounts[0].PublicKey, [][]byte{[]byte("record")}, bump, []byte("v1"))
	case 1:
		return ctx.Transfer(ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, uint64(ix.Data[1]))
	case 2:
		_, bump, err := crypto.FindProgramAddress([][]byte{[]byte("pocket")}, testProgramID)
		if err != nil {
			return err
		}
		return ctx.TransferSigned(ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, uint64(ix.Data[1]), [][]byte{[]byte("pocket")}, bump)
	case 3:
		ctx.Emit(events.Raw{Evt: &types.Event{Type: "pocket.failed"}})
		return errors.New("pocket: failure requested")
	case 4:
		return ctx.WriteData(ix.Accounts[0].PublicKey, []byte{byte(ctx.CurrentIndex()), byte(len(ctx.Instructions()))})
	case 5:
		program, hash := ctx.ProgramID(), ctx.TxHash()
		return ctx.WriteData(ix.Accounts[0].PublicKey, append(program[:], hash[:]...))
	}
	return errors.New("pocket: unknown op")
}

type fixture struct {
	t     *testing.T
	rt    *Runtime
	rec   *events.Recorder
	alice *crypto.Keypair
	salt  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	alice, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	rec := &events.Recorder{}
	rt := New(storage.NewMemDB(),
		WithEmitter(rec),
		WithAirdrop(true),
		WithNowFunc(func() int64 { return 1_000 }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err := rt.Register(pocket{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := rt.Airdrop(alice.PublicKey(), 100); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	return &fixture{t: t, rt: rt, rec: rec, alice: alice}
}

func (f *fixture) send(signers []*crypto.Keypair, ixs ...types.Instruction) (Receipt, error) {
	f.t.Helper()
	f.salt++
	tx := types.NewTransaction(f.salt, ixs...)
	for _, kp := range signers {
		if err := tx.Sign(kp); err != nil {
			f.t.Fatalf("sign: %v", err)
		}
	}
	return f.rt.Execute(tx)
}

func derived(t *testing.T, seed string) crypto.PublicKey {
	t.Helper()
	addr, _, err := crypto.FindProgramAddress([][]byte{[]byte(seed)}, testProgramID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return addr
}

func TestTransferRequiresSignature(t *testing.T) {
	f := newFixture(t)
	bob := crypto.PublicKey{0xB0}
	ix := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: f.alice.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: bob, IsWritable: true},
		},
		Data: []byte{1, 40},
	}
	if _, err := f.send(nil, ix); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	receipt, err := f.send([]*crypto.Keypair{f.alice}, ix)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != events.TypeTransfer {
		t.Fatalf("unexpected receipt events %+v", receipt.Events)
	}
	if bal, _ := f.rt.Balance(bob); bal != 40 {
		t.Fatalf("bob holds %d", bal)
	}
	ix.Data = []byte{1, 61}
	if _, err := f.send([]*crypto.Keypair{f.alice}, ix); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDuplicateTransactionRejected(t *testing.T) {
	f := newFixture(t)
	ix := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: f.alice.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: crypto.PublicKey{0xB0}, IsWritable: true},
		},
		Data: []byte{1, 1},
	}
	tx := types.NewTransaction(7, ix)
	if err := tx.Sign(f.alice); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.rt.Execute(tx); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if _, err := f.rt.Execute(tx); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestInvalidTransactionSignature(t *testing.T) {
	f := newFixture(t)
	tx := types.NewTransaction(1, types.Instruction{ProgramID: testProgramID, Data: []byte{4}})
	if err := tx.Sign(f.alice); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Salt = 2
	if _, err := f.rt.Execute(tx); !errors.Is(err, ErrInvalidTxSignature) {
		t.Fatalf("expected ErrInvalidTxSignature, got %v", err)
	}
}

func TestCreateAccountOnce(t *testing.T) {
	f := newFixture(t)
	record := derived(t, "record")
	ix := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record, IsWritable: true}},
		Data:      []byte{0},
	}
	if _, err := f.send(nil, ix); err != nil {
		t.Fatalf("create: %v", err)
	}
	acc, ok, err := f.rt.Account(record)
	if err != nil || !ok || acc.Owner != testProgramID || string(acc.Data) != "v1" {
		t.Fatalf("unexpected account %+v ok=%v err=%v", acc, ok, err)
	}
	if _, err := f.send(nil, ix); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	wrong := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: crypto.PublicKey{9}, IsWritable: true}},
		Data:      []byte{0},
	}
	if _, err := f.send(nil, wrong); !errors.Is(err, ErrInvalidDerivation) {
		t.Fatalf("expected ErrInvalidDerivation, got %v", err)
	}
	readonly := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record}},
		Data:      []byte{4},
	}
	if _, err := f.send(nil, readonly); !errors.Is(err, ErrReadonlyAccount) {
		t.Fatalf("expected ErrReadonlyAccount, got %v", err)
	}
}

func TestTransferSignedNeedsDerivationProof(t *testing.T) {
	f := newFixture(t)
	pocketAddr := derived(t, "pocket")
	fund := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: f.alice.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: pocketAddr, IsWritable: true},
		},
		Data: []byte{1, 50},
	}
	if _, err := f.send([]*crypto.Keypair{f.alice}, fund); err != nil {
		t.Fatalf("fund: %v", err)
	}
	bob := crypto.PublicKey{0xB0}
	withdraw := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: pocketAddr, IsWritable: true},
			{PublicKey: bob, IsWritable: true},
		},
		Data: []byte{2, 20},
	}
	if _, err := f.send(nil, withdraw); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bal, _ := f.rt.Balance(bob); bal != 20 {
		t.Fatalf("bob holds %d", bal)
	}
	transfers := f.rec.OfType(events.TypeTransfer)
	if last := transfers[len(transfers)-1]; last.Attributes["program"] != testProgramID.String() {
		t.Fatalf("derivation-authorized transfer should name the program: %v", last.Attributes)
	}

	steal := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: f.alice.PublicKey(), IsWritable: true},
			{PublicKey: bob, IsWritable: true},
		},
		Data: []byte{2, 1},
	}
	if _, err := f.send(nil, steal); !errors.Is(err, ErrInvalidDerivation) {
		t.Fatalf("expected ErrInvalidDerivation, got %v", err)
	}
}

func TestFailedInstructionDiscardsEverything(t *testing.T) {
	f := newFixture(t)
	bob := crypto.PublicKey{0xB0}
	pay := types.Instruction{
		ProgramID: testProgramID,
		Accounts: []types.AccountMeta{
			{PublicKey: f.alice.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: bob, IsWritable: true},
		},
		Data: []byte{1, 10},
	}
	fail := types.Instruction{ProgramID: testProgramID, Data: []byte{3}}
	before := len(f.rec.Events)
	if _, err := f.send([]*crypto.Keypair{f.alice}, pay, fail); err == nil {
		t.Fatalf("expected failure")
	}
	if bal, _ := f.rt.Balance(bob); bal != 0 {
		t.Fatalf("partial transfer committed: %d", bal)
	}
	if len(f.rec.Events) != before {
		t.Fatalf("events from an aborted transaction were published")
	}
}

func TestSigverifyPrecompileAndIntrospection(t *testing.T) {
	f := newFixture(t)
	record := derived(t, "record")
	create := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record, IsWritable: true}},
		Data:      []byte{0},
	}
	if _, err := f.send(nil, create); err != nil {
		t.Fatalf("create: %v", err)
	}
	verify := sigverify.SignInstruction(f.alice, []byte("hello"))
	inspect := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record, IsWritable: true}},
		Data:      []byte{4},
	}
	if _, err := f.send(nil, verify, inspect); err != nil {
		t.Fatalf("execute: %v", err)
	}
	acc, _, _ := f.rt.Account(record)
	if len(acc.Data) != 2 || acc.Data[0] != 1 || acc.Data[1] != 2 {
		t.Fatalf("unexpected introspection record %v", acc.Data)
	}

	bad := sigverify.SignInstruction(f.alice, []byte("hello"))
	bad.Data[len(bad.Data)-1] ^= 1
	if _, err := f.send(nil, bad, inspect); !errors.Is(err, ErrSignatureVerification) {
		t.Fatalf("expected ErrSignatureVerification, got %v", err)
	}
}

func TestInvokeContextExposesProgramAndTxHash(t *testing.T) {
	f := newFixture(t)
	record := derived(t, "record")
	create := types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record, IsWritable: true}},
		Data:      []byte{0},
	}
	if _, err := f.send(nil, create); err != nil {
		t.Fatalf("create: %v", err)
	}
	receipt, err := f.send(nil, types.Instruction{
		ProgramID: testProgramID,
		Accounts:  []types.AccountMeta{{PublicKey: record, IsWritable: true}},
		Data:      []byte{5},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	acc, _, _ := f.rt.Account(record)
	if len(acc.Data) != 64 {
		t.Fatalf("unexpected record length %d", len(acc.Data))
	}
	if !bytes.Equal(acc.Data[:32], testProgramID[:]) {
		t.Fatalf("program id %x, want %x", acc.Data[:32], testProgramID[:])
	}
	if !bytes.Equal(acc.Data[32:], receipt.TxHash[:]) {
		t.Fatalf("tx hash %x, want %x", acc.Data[32:], receipt.TxHash[:])
	}
}

func TestUnknownProgramAndRegistration(t *testing.T) {
	f := newFixture(t)
	if _, err := f.send(nil, types.Instruction{ProgramID: crypto.PublicKey{0x77}, Data: []byte{0}}); !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
	if err := f.rt.Register(pocket{}); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if _, err := f.rt.Execute(types.NewTransaction(1)); !errors.Is(err, ErrEmptyTransaction) {
		t.Fatalf("expected ErrEmptyTransaction, got %v", err)
	}
}

func TestAirdropGate(t *testing.T) {
	rt := New(storage.NewMemDB(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := rt.Airdrop(crypto.PublicKey{1}, 5); !errors.Is(err, ErrAirdropDisabled) {
		t.Fatalf("expected ErrAirdropDisabled, got %v", err)
	}
}
