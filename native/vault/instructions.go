package vault

import (
	"encoding/binary"
	"fmt"

	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/sigverify"
)

// Opcode is the first byte of every vault instruction.
type Opcode uint8

const (
	OpBootstrap Opcode = iota
	OpDeposit
	OpCashout
	OpForceClose
)

func (op Opcode) String() string {
	switch op {
	case OpBootstrap:
		return "bootstrap"
	case OpDeposit:
		return "deposit"
	case OpCashout:
		return "cashout"
	case OpForceClose:
		return "force_close"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
}

// CashoutArgs are the parameters of a cashout. MaxClaimable, Nonce and
// Expiry must reproduce the message the authority signed.
type CashoutArgs struct {
	Amount       uint64
	MaxClaimable uint64
	Nonce        uint64
	Expiry       int64
}

const cashoutArgsLen = 32

func (a CashoutArgs) encode() []byte {
	data := make([]byte, 1+cashoutArgsLen)
	data[0] = byte(OpCashout)
	binary.LittleEndian.PutUint64(data[1:], a.Amount)
	binary.LittleEndian.PutUint64(data[9:], a.MaxClaimable)
	binary.LittleEndian.PutUint64(data[17:], a.Nonce)
	binary.LittleEndian.PutUint64(data[25:], uint64(a.Expiry))
	return data
}

func decodeCashoutArgs(payload []byte) (CashoutArgs, error) {
	if len(payload) != cashoutArgsLen {
		return CashoutArgs{}, fmt.Errorf("%w: cashout payload is %d bytes", ErrInvalidInstruction, len(payload))
	}
	return CashoutArgs{
		Amount:       binary.LittleEndian.Uint64(payload[0:]),
		MaxClaimable: binary.LittleEndian.Uint64(payload[8:]),
		Nonce:        binary.LittleEndian.Uint64(payload[16:]),
		Expiry:       int64(binary.LittleEndian.Uint64(payload[24:])),
	}, nil
}

func decodeKeyPayload(op Opcode, payload []byte) (crypto.PublicKey, error) {
	pk, err := crypto.PublicKeyFromBytes(payload)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%w: %s payload is %d bytes", ErrInvalidInstruction, op, len(payload))
	}
	return pk, nil
}

// NewBootstrapInstruction initialises the program with treasury; authority
// signs and becomes the game authority.
func NewBootstrapInstruction(program, authority, treasury crypto.PublicKey) (types.Instruction, error) {
	addrs, err := DeriveAddresses(program)
	if err != nil {
		return types.Instruction{}, err
	}
	data := append([]byte{byte(OpBootstrap)}, treasury[:]...)
	return types.Instruction{
		ProgramID: program,
		Accounts: []types.AccountMeta{
			{PublicKey: authority, IsSigner: true, IsWritable: true},
			{PublicKey: addrs.Config, IsWritable: true},
			{PublicKey: addrs.Vault},
		},
		Data: data,
	}, nil
}

// NewDepositInstruction locks the tier deposit of player into custody.
func NewDepositInstruction(program, player crypto.PublicKey, tier uint8) (types.Instruction, error) {
	addrs, err := DeriveAddresses(program)
	if err != nil {
		return types.Instruction{}, err
	}
	session, _, err := SessionAddress(program, player)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: program,
		Accounts: []types.AccountMeta{
			{PublicKey: player, IsSigner: true, IsWritable: true},
			{PublicKey: session, IsWritable: true},
			{PublicKey: addrs.Vault, IsWritable: true},
			{PublicKey: addrs.Config},
		},
		Data: []byte{byte(OpDeposit), tier},
	}, nil
}

// NewCashoutInstruction redeems amount of an authorization. It must be
// preceded in the same transaction by the authority's signature-verification
// instruction; see CashoutInstructions.
func NewCashoutInstruction(program, player, treasury crypto.PublicKey, args CashoutArgs) (types.Instruction, error) {
	addrs, err := DeriveAddresses(program)
	if err != nil {
		return types.Instruction{}, err
	}
	session, _, err := SessionAddress(program, player)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: program,
		Accounts: []types.AccountMeta{
			{PublicKey: player, IsSigner: true, IsWritable: true},
			{PublicKey: session, IsWritable: true},
			{PublicKey: addrs.Vault, IsWritable: true},
			{PublicKey: treasury, IsWritable: true},
			{PublicKey: addrs.Config},
		},
		Data: args.encode(),
	}, nil
}

// NewForceCloseInstruction closes player's active session without payout.
func NewForceCloseInstruction(program, authority, player crypto.PublicKey) (types.Instruction, error) {
	addrs, err := DeriveAddresses(program)
	if err != nil {
		return types.Instruction{}, err
	}
	session, _, err := SessionAddress(program, player)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: program,
		Accounts: []types.AccountMeta{
			{PublicKey: authority, IsSigner: true},
			{PublicKey: session, IsWritable: true},
			{PublicKey: addrs.Config},
		},
		Data: append([]byte{byte(OpForceClose)}, player[:]...),
	}, nil
}

// Authorization is a cashout ceiling signed by the game authority.
type Authorization struct {
	Player       crypto.PublicKey `json:"player"`
	Authority    crypto.PublicKey `json:"authority"`
	MaxClaimable uint64           `json:"maxClaimable"`
	Nonce        uint64           `json:"nonce"`
	Expiry       int64            `json:"expiry"`
	Signature    crypto.Signature `json:"signature"`
}

// Message returns the bytes the authority signs for program.
func (a Authorization) Message(program crypto.PublicKey) [MessageLen]byte {
	return BuildAuthorizationMessage(a.Player, a.MaxClaimable, a.Nonce, a.Expiry, program)
}

// SignAuthorization produces an authorization for player signed by authority.
func SignAuthorization(authority *crypto.Keypair, program, player crypto.PublicKey, maxClaimable, nonce uint64, expiry int64) Authorization {
	auth := Authorization{
		Player:       player,
		Authority:    authority.PublicKey(),
		MaxClaimable: maxClaimable,
		Nonce:        nonce,
		Expiry:       expiry,
	}
	msg := auth.Message(program)
	auth.Signature = authority.Sign(msg[:])
	return auth
}

// CashoutInstructions returns the signature-verification instruction
// followed by the cashout instruction redeeming amount of auth.
func CashoutInstructions(program, treasury crypto.PublicKey, auth Authorization, amount uint64) ([]types.Instruction, error) {
	msg := auth.Message(program)
	verify := sigverify.NewInstruction(auth.Authority, msg[:], auth.Signature)
	cashout, err := NewCashoutInstruction(program, auth.Player, treasury, CashoutArgs{
		Amount:       amount,
		MaxClaimable: auth.MaxClaimable,
		Nonce:        auth.Nonce,
		Expiry:       auth.Expiry,
	})
	if err != nil {
		return nil, err
	}
	return []types.Instruction{verify, cashout}, nil
}
