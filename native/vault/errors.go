package vault

import "errors"

var (
	ErrInvalidTier                 = errors.New("vault: invalid deposit tier, must be 1, 5 or 20")
	ErrSessionAlreadyActive        = errors.New("vault: session is already active")
	ErrSessionNotActive            = errors.New("vault: session is not active")
	ErrUnauthorizedPlayer          = errors.New("vault: signer is not the session player")
	ErrUnauthorizedAuthority       = errors.New("vault: caller is not the game authority")
	ErrAmountExceedsAuthorized     = errors.New("vault: cashout amount exceeds authorized maximum")
	ErrInvalidNonce                = errors.New("vault: authorization nonce does not match session nonce")
	ErrAuthorizationExpired        = errors.New("vault: cashout authorization has expired")
	ErrZeroCashout                 = errors.New("vault: cashout amount must be greater than zero")
	ErrMissingEd25519Instruction   = errors.New("vault: missing signature verification instruction")
	ErrInvalidEd25519Instruction   = errors.New("vault: invalid signature verification instruction")
	ErrInvalidAuthority            = errors.New("vault: signature key does not match game authority")
	ErrInvalidAuthorizationMessage = errors.New("vault: authorization message does not match expected parameters")
	ErrReplayDetected              = errors.New("vault: authorization was already used")
	ErrMathOverflow                = errors.New("vault: math overflow in fee calculation")
	ErrInvalidTreasury             = errors.New("vault: treasury account does not match config")
	ErrNotInitialized              = errors.New("vault: config not initialized")
	ErrInvalidAccount              = errors.New("vault: account does not match derived address")
	ErrInvalidInstruction          = errors.New("vault: malformed instruction data")
	ErrCorruptRecord               = errors.New("vault: account data is not a valid record")
)

// CodeBase is the numeric code of the first vault error.
const CodeBase = 6000

var errorNames = []struct {
	err  error
	name string
}{
	{ErrInvalidTier, "InvalidTier"},
	{ErrSessionAlreadyActive, "SessionAlreadyActive"},
	{ErrSessionNotActive, "SessionNotActive"},
	{ErrUnauthorizedPlayer, "UnauthorizedPlayer"},
	{ErrUnauthorizedAuthority, "UnauthorizedAuthority"},
	{ErrAmountExceedsAuthorized, "AmountExceedsAuthorized"},
	{ErrInvalidNonce, "InvalidNonce"},
	{ErrAuthorizationExpired, "AuthorizationExpired"},
	{ErrZeroCashout, "ZeroCashout"},
	{ErrMissingEd25519Instruction, "MissingEd25519Instruction"},
	{ErrInvalidEd25519Instruction, "InvalidEd25519Instruction"},
	{ErrInvalidAuthority, "InvalidAuthority"},
	{ErrInvalidAuthorizationMessage, "InvalidAuthorizationMessage"},
	{ErrReplayDetected, "ReplayDetected"},
	{ErrMathOverflow, "MathOverflow"},
	{ErrInvalidTreasury, "InvalidTreasury"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidAccount, "InvalidAccount"},
	{ErrInvalidInstruction, "InvalidInstruction"},
	{ErrCorruptRecord, "CorruptRecord"},
}

// Code maps err to its stable numeric code and name. ok is false when err
// does not wrap a vault error.
func Code(err error) (code int, name string, ok bool) {
	if err == nil {
		return 0, "", false
	}
	for i, entry := range errorNames {
		if errors.Is(err, entry.err) {
			return CodeBase + i, entry.name, true
		}
	}
	return 0, "", false
}

// ErrorForCode returns the sentinel registered under code.
func ErrorForCode(code int) (error, bool) {
	i := code - CodeBase
	if i < 0 || i >= len(errorNames) {
		return nil, false
	}
	return errorNames[i].err, true
}
