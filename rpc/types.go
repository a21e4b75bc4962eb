package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"sessionvault/core/runtime"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/vault"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeTxRejected     = -32003
)

// runtimeErrorBase numbers platform rejections downwards from here so that
// clients can map them back onto runtime sentinels.
const runtimeErrorBase = -32100

var runtimeErrors = []error{
	runtime.ErrEmptyTransaction,
	runtime.ErrInvalidTxSignature,
	runtime.ErrMissingSignature,
	runtime.ErrAlreadyProcessed,
	runtime.ErrSignatureVerification,
	runtime.ErrUnknownProgram,
	runtime.ErrAccountNotListed,
	runtime.ErrReadonlyAccount,
	runtime.ErrAccountExists,
	runtime.ErrAccountNotOwned,
	runtime.ErrInvalidDerivation,
	runtime.ErrInsufficientFunds,
	runtime.ErrBalanceOverflow,
	runtime.ErrAirdropDisabled,
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object. Vault and runtime rejections carry
// stable codes and unwrap to the originating sentinel.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match vault and runtime sentinels across the wire.
func (e *RPCError) Unwrap() error {
	if err, ok := vault.ErrorForCode(e.Code); ok {
		return err
	}
	i := runtimeErrorBase - e.Code
	if i >= 0 && i < len(runtimeErrors) {
		return runtimeErrors[i]
	}
	return nil
}

// errorFromExecution classifies a failed transaction.
func errorFromExecution(err error) *RPCError {
	if code, name, ok := vault.Code(err); ok {
		return &RPCError{Code: code, Message: name, Data: err.Error()}
	}
	for i, sentinel := range runtimeErrors {
		if errors.Is(err, sentinel) {
			return &RPCError{Code: runtimeErrorBase - i, Message: "transaction rejected", Data: err.Error()}
		}
	}
	return &RPCError{Code: codeTxRejected, Message: "transaction rejected", Data: err.Error()}
}

// SendTransactionResult reports a committed transaction.
type SendTransactionResult struct {
	Hash   string         `json:"hash"`
	Events []*types.Event `json:"events"`
}

// BalanceResult is returned by ledger_getBalance and ledger_airdrop.
type BalanceResult struct {
	Address  crypto.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
}

// ConfigResult renders the vault config.
type ConfigResult struct {
	Address    crypto.PublicKey `json:"address"`
	Treasury   crypto.PublicKey `json:"treasury"`
	Authority  crypto.PublicKey `json:"authority"`
	VaultBump  uint8            `json:"vaultBump"`
	ConfigBump uint8            `json:"configBump"`
}

// SessionResult renders a player's session slot.
type SessionResult struct {
	Address       crypto.PublicKey `json:"address"`
	Player        crypto.PublicKey `json:"player"`
	DepositTier   uint8            `json:"depositTier"`
	DepositAmount uint64           `json:"depositAmount"`
	Status        string           `json:"status"`
	MaxClaimable  uint64           `json:"maxClaimable"`
	StartedAt     int64            `json:"startedAt"`
	Nonce         uint64           `json:"nonce"`
	LastAuthHash  string           `json:"lastAuthHash"`
	AuthExpiry    int64            `json:"authExpiry"`
	Bump          uint8            `json:"bump"`
}

// Active reports whether the session currently holds a live deposit.
func (s *SessionResult) Active() bool {
	return s != nil && s.Status == vault.StatusActive.String()
}

func sessionResultFrom(addr crypto.PublicKey, s *vault.Session) *SessionResult {
	return &SessionResult{
		Address:       addr,
		Player:        s.Player,
		DepositTier:   s.DepositTier,
		DepositAmount: s.DepositAmount,
		Status:        s.Status.String(),
		MaxClaimable:  s.MaxClaimable,
		StartedAt:     s.StartedAt,
		Nonce:         s.Nonce,
		LastAuthHash:  fmt.Sprintf("0x%x", s.LastAuthHash[:]),
		AuthExpiry:    s.AuthExpiry,
		Bump:          s.Bump,
	}
}

// AddressesResult lists the derived accounts of the vault program. Session is
// set when a player was supplied.
type AddressesResult struct {
	vault.Addresses
	Session *crypto.PublicKey `json:"session,omitempty"`
}
