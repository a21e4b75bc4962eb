package types

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"sessionvault/crypto"
)

// AccountMeta names an account touched by an instruction together with the
// privileges the instruction requests for it.
type AccountMeta struct {
	PublicKey  crypto.PublicKey `json:"pubkey"`
	IsSigner   bool             `json:"isSigner"`
	IsWritable bool             `json:"isWritable"`
}

// Instruction is a single program invocation inside a transaction.
type Instruction struct {
	ProgramID crypto.PublicKey `json:"programId"`
	Accounts  []AccountMeta    `json:"accounts"`
	Data      []byte           `json:"data"`
}

// TxSignature binds a signer identity to its signature over the transaction's
// signing hash.
type TxSignature struct {
	Signer    crypto.PublicKey `json:"signer"`
	Signature crypto.Signature `json:"signature"`
}

// Transaction is an ordered list of instructions applied atomically. Salt lets
// a client submit otherwise identical instruction lists more than once.
type Transaction struct {
	Salt         uint64        `json:"salt"`
	Instructions []Instruction `json:"instructions"`
	Signatures   []TxSignature `json:"signatures"`
}

type rlpAccountMeta struct {
	PublicKey  [32]byte
	IsSigner   bool
	IsWritable bool
}

type rlpInstruction struct {
	ProgramID [32]byte
	Accounts  []rlpAccountMeta
	Data      []byte
}

// SigningHash is the keccak256 digest of the RLP encoded salt and instructions.
// Signatures are excluded so every signer signs the same bytes.
func (tx *Transaction) SigningHash() ([32]byte, error) {
	if tx == nil {
		return [32]byte{}, errors.New("types: nil transaction")
	}
	payload := struct {
		Salt         uint64
		Instructions []rlpInstruction
	}{Salt: tx.Salt}
	for _, ix := range tx.Instructions {
		entry := rlpInstruction{ProgramID: ix.ProgramID, Data: ix.Data}
		for _, meta := range ix.Accounts {
			entry.Accounts = append(entry.Accounts, rlpAccountMeta{
				PublicKey:  meta.PublicKey,
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
			})
		}
		payload.Instructions = append(payload.Instructions, entry)
	}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return [32]byte{}, err
	}
	var hash [32]byte
	copy(hash[:], ethcrypto.Keccak256(encoded))
	return hash, nil
}

// Sign appends (or replaces) the keypair's signature over the signing hash.
func (tx *Transaction) Sign(kp *crypto.Keypair) error {
	if kp == nil {
		return errors.New("types: nil keypair")
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	signer := kp.PublicKey()
	sig := TxSignature{Signer: signer, Signature: kp.Sign(hash[:])}
	for i := range tx.Signatures {
		if tx.Signatures[i].Signer == signer {
			tx.Signatures[i] = sig
			return nil
		}
	}
	tx.Signatures = append(tx.Signatures, sig)
	return nil
}

// NewTransaction assembles an unsigned transaction.
func NewTransaction(salt uint64, instructions ...Instruction) *Transaction {
	return &Transaction{Salt: salt, Instructions: instructions}
}
