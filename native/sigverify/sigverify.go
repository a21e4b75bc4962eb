// Package sigverify describes the native ed25519 signature-verification
// instruction. The ledger executes it as a precompile before any program runs;
// programs only ever parse it.
package sigverify

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

// ProgramID is the identity of the native signature-verification program.
var ProgramID = crypto.MustParsePublicKey("Ed25519SigVerify111111111111111111111111111")

const (
	// SameInstruction marks an offset as pointing into the verification
	// instruction's own data.
	SameInstruction uint16 = 0xFFFF

	// OffsetsStart is where the first offsets table begins: count byte, padding byte.
	OffsetsStart = 2
	// OffsetsSize is the serialized size of one offsets table.
	OffsetsSize = 14

	PublicKeySize = crypto.PublicKeyLength
	SignatureSize = crypto.SignatureLength

	// DataStart is where NewInstruction places the public key.
	DataStart = OffsetsStart + OffsetsSize
)

var (
	ErrNoSignatures     = errors.New("sigverify: instruction carries no signatures")
	ErrTruncated        = errors.New("sigverify: instruction data truncated")
	ErrOffsetOutOfRange = errors.New("sigverify: offset out of range")
	ErrBadIndex         = errors.New("sigverify: instruction index out of range")
	ErrInvalidSignature = errors.New("sigverify: signature does not verify")
)

// Offsets locates one signature, its public key and its message.
type Offsets struct {
	SignatureOffset           uint16
	SignatureInstructionIndex uint16
	PublicKeyOffset           uint16
	PublicKeyInstructionIndex uint16
	MessageDataOffset         uint16
	MessageDataSize           uint16
	MessageInstructionIndex   uint16
}

// SelfContained reports whether every index field carries the SameInstruction
// sentinel.
func (o Offsets) SelfContained() bool {
	return o.SignatureInstructionIndex == SameInstruction &&
		o.PublicKeyInstructionIndex == SameInstruction &&
		o.MessageInstructionIndex == SameInstruction
}

func (o Offsets) encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:], o.SignatureOffset)
	binary.LittleEndian.PutUint16(dst[2:], o.SignatureInstructionIndex)
	binary.LittleEndian.PutUint16(dst[4:], o.PublicKeyOffset)
	binary.LittleEndian.PutUint16(dst[6:], o.PublicKeyInstructionIndex)
	binary.LittleEndian.PutUint16(dst[8:], o.MessageDataOffset)
	binary.LittleEndian.PutUint16(dst[10:], o.MessageDataSize)
	binary.LittleEndian.PutUint16(dst[12:], o.MessageInstructionIndex)
}

// SignatureCount returns the declared number of signatures.
func SignatureCount(data []byte) (int, error) {
	if len(data) < OffsetsStart {
		return 0, ErrTruncated
	}
	return int(data[0]), nil
}

// ParseOffsets decodes the i-th offsets table of an instruction.
func ParseOffsets(data []byte, i int) (Offsets, error) {
	count, err := SignatureCount(data)
	if err != nil {
		return Offsets{}, err
	}
	if i < 0 || i >= count {
		return Offsets{}, fmt.Errorf("%w: table %d of %d", ErrBadIndex, i, count)
	}
	start := OffsetsStart + i*OffsetsSize
	if len(data) < start+OffsetsSize {
		return Offsets{}, ErrTruncated
	}
	table := data[start : start+OffsetsSize]
	return Offsets{
		SignatureOffset:           binary.LittleEndian.Uint16(table[0:]),
		SignatureInstructionIndex: binary.LittleEndian.Uint16(table[2:]),
		PublicKeyOffset:           binary.LittleEndian.Uint16(table[4:]),
		PublicKeyInstructionIndex: binary.LittleEndian.Uint16(table[6:]),
		MessageDataOffset:         binary.LittleEndian.Uint16(table[8:]),
		MessageDataSize:           binary.LittleEndian.Uint16(table[10:]),
		MessageInstructionIndex:   binary.LittleEndian.Uint16(table[12:]),
	}, nil
}

// Slice returns data[offset:offset+size] or ErrOffsetOutOfRange. The end is
// computed in int so a u16 offset plus size can never wrap.
func Slice(data []byte, offset uint16, size int) ([]byte, error) {
	start := int(offset)
	end := start + size
	if size < 0 || end > len(data) {
		return nil, ErrOffsetOutOfRange
	}
	return data[start:end], nil
}

// NewInstructionData lays out a single self-contained signature:
// count, padding, offsets, public key @16, signature @48, message @112.
func NewInstructionData(pub crypto.PublicKey, msg []byte, sig crypto.Signature) []byte {
	pubOffset := DataStart
	sigOffset := pubOffset + PublicKeySize
	msgOffset := sigOffset + SignatureSize
	data := make([]byte, msgOffset+len(msg))
	data[0] = 1
	Offsets{
		SignatureOffset:           uint16(sigOffset),
		SignatureInstructionIndex: SameInstruction,
		PublicKeyOffset:           uint16(pubOffset),
		PublicKeyInstructionIndex: SameInstruction,
		MessageDataOffset:         uint16(msgOffset),
		MessageDataSize:           uint16(len(msg)),
		MessageInstructionIndex:   SameInstruction,
	}.encode(data[OffsetsStart:])
	copy(data[pubOffset:], pub[:])
	copy(data[sigOffset:], sig[:])
	copy(data[msgOffset:], msg)
	return data
}

// NewInstruction wraps NewInstructionData in an instruction for ProgramID.
func NewInstruction(pub crypto.PublicKey, msg []byte, sig crypto.Signature) types.Instruction {
	return types.Instruction{ProgramID: ProgramID, Data: NewInstructionData(pub, msg, sig)}
}

// SignInstruction signs msg with kp and returns the verification instruction.
func SignInstruction(kp *crypto.Keypair, msg []byte) types.Instruction {
	return NewInstruction(kp.PublicKey(), msg, kp.Sign(msg))
}

// EncodeOffsets serializes tables into the header of a multi-signature
// instruction. Callers append the referenced bytes themselves.
func EncodeOffsets(tables ...Offsets) []byte {
	data := make([]byte, OffsetsStart+len(tables)*OffsetsSize)
	data[0] = byte(len(tables))
	for i, table := range tables {
		table.encode(data[OffsetsStart+i*OffsetsSize:])
	}
	return data
}

// Verify is the precompile: every declared signature must verify. Index fields
// other than SameInstruction refer to the data of sibling instructions in the
// same transaction.
func Verify(data []byte, siblings [][]byte) error {
	count, err := SignatureCount(data)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNoSignatures
	}
	resolve := func(index uint16) ([]byte, error) {
		if index == SameInstruction {
			return data, nil
		}
		if int(index) >= len(siblings) {
			return nil, ErrBadIndex
		}
		return siblings[index], nil
	}
	for i := 0; i < count; i++ {
		offsets, err := ParseOffsets(data, i)
		if err != nil {
			return err
		}
		sigSrc, err := resolve(offsets.SignatureInstructionIndex)
		if err != nil {
			return err
		}
		sig, err := Slice(sigSrc, offsets.SignatureOffset, SignatureSize)
		if err != nil {
			return err
		}
		pubSrc, err := resolve(offsets.PublicKeyInstructionIndex)
		if err != nil {
			return err
		}
		pub, err := Slice(pubSrc, offsets.PublicKeyOffset, PublicKeySize)
		if err != nil {
			return err
		}
		msgSrc, err := resolve(offsets.MessageInstructionIndex)
		if err != nil {
			return err
		}
		msg, err := Slice(msgSrc, offsets.MessageDataOffset, int(offsets.MessageDataSize))
		if err != nil {
			return err
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return fmt.Errorf("%w: table %d", ErrInvalidSignature, i)
		}
	}
	return nil
}
