package runtime

import "errors"

var (
	ErrEmptyTransaction      = errors.New("runtime: transaction has no instructions")
	ErrInvalidTxSignature    = errors.New("runtime: invalid transaction signature")
	ErrMissingSignature      = errors.New("runtime: missing required signature")
	ErrAlreadyProcessed      = errors.New("runtime: transaction already processed")
	ErrSignatureVerification = errors.New("runtime: signature verification instruction failed")
	ErrUnknownProgram        = errors.New("runtime: unknown program")
	ErrAccountNotListed      = errors.New("runtime: account not listed by instruction")
	ErrReadonlyAccount       = errors.New("runtime: account not writable")
	ErrAccountExists         = errors.New("runtime: account already in use")
	ErrAccountNotOwned       = errors.New("runtime: account not owned by program")
	ErrInvalidDerivation     = errors.New("runtime: derivation proof does not match account")
	ErrInsufficientFunds     = errors.New("runtime: insufficient funds")
	ErrBalanceOverflow       = errors.New("runtime: balance overflow")
	ErrAirdropDisabled       = errors.New("runtime: airdrop disabled")
)
