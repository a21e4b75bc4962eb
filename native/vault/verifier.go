package vault

import (
	"bytes"

	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/sigverify"
)

// minSigverifyData is the smallest verification instruction that can carry
// an offsets table, a key, a signature and a non-empty message.
const minSigverifyData = sigverify.DataStart + sigverify.PublicKeySize + sigverify.SignatureSize

// VerifyAuthorization checks that the instructions preceding the current one
// carry exactly one signature-verification instruction binding authority to
// the expected authorization message. The platform has already verified the
// signature bytes; this only establishes what was signed and by whom.
func VerifyAuthorization(preceding []types.Instruction, authority, player crypto.PublicKey, maxClaimable, nonce uint64, expiry int64, programID crypto.PublicKey) error {
	var data []byte
	found := 0
	for _, ix := range preceding {
		if ix.ProgramID != sigverify.ProgramID {
			continue
		}
		found++
		data = ix.Data
	}
	switch {
	case found == 0:
		return ErrMissingEd25519Instruction
	case found > 1:
		return ErrInvalidEd25519Instruction
	}

	if len(data) <= minSigverifyData {
		return ErrInvalidEd25519Instruction
	}
	if count, err := sigverify.SignatureCount(data); err != nil || count != 1 {
		return ErrInvalidEd25519Instruction
	}
	offsets, err := sigverify.ParseOffsets(data, 0)
	if err != nil || !offsets.SelfContained() {
		return ErrInvalidEd25519Instruction
	}
	key, err := sigverify.Slice(data, offsets.PublicKeyOffset, sigverify.PublicKeySize)
	if err != nil {
		return ErrInvalidEd25519Instruction
	}
	msg, err := sigverify.Slice(data, offsets.MessageDataOffset, int(offsets.MessageDataSize))
	if err != nil {
		return ErrInvalidEd25519Instruction
	}

	if !bytes.Equal(key, authority[:]) {
		return ErrInvalidAuthority
	}
	expected := BuildAuthorizationMessage(player, maxClaimable, nonce, expiry, programID)
	if !bytes.Equal(msg, expected[:]) {
		return ErrInvalidAuthorizationMessage
	}
	return nil
}
