package vault

import (
	"crypto/sha256"
	"encoding/binary"

	"sessionvault/crypto"
)

// DomainSeparator prefixes every cashout authorization message.
const DomainSeparator = "FLAPPYONE_CASHOUT_V1"

// MessageLen is the fixed size of an authorization message.
const MessageLen = len(DomainSeparator) + 32 + 8 + 8 + 8 + 32

// BuildAuthorizationMessage lays out the bytes the game authority signs:
//
//	[ 0..20)  domain separator
//	[20..52)  player
//	[52..60)  max claimable, u64 LE
//	[60..68)  nonce, u64 LE
//	[68..76)  expiry, i64 LE
//	[76..108) program id
func BuildAuthorizationMessage(player crypto.PublicKey, maxClaimable, nonce uint64, expiry int64, programID crypto.PublicKey) [MessageLen]byte {
	var msg [MessageLen]byte
	off := copy(msg[:], DomainSeparator)
	off += copy(msg[off:], player[:])
	binary.LittleEndian.PutUint64(msg[off:], maxClaimable)
	off += 8
	binary.LittleEndian.PutUint64(msg[off:], nonce)
	off += 8
	binary.LittleEndian.PutUint64(msg[off:], uint64(expiry))
	off += 8
	copy(msg[off:], programID[:])
	return msg
}

// ComputeReplayDigest fingerprints an authorization so the same one cannot be
// redeemed twice. It omits the domain tag and program id.
func ComputeReplayDigest(player crypto.PublicKey, maxClaimable, nonce uint64, expiry int64) [32]byte {
	var buf [32 + 24]byte
	copy(buf[:32], player[:])
	binary.LittleEndian.PutUint64(buf[32:], maxClaimable)
	binary.LittleEndian.PutUint64(buf[40:], nonce)
	binary.LittleEndian.PutUint64(buf[48:], uint64(expiry))
	return sha256.Sum256(buf[:])
}
