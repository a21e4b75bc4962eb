package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessionvault/core/runtime"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/observability"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// Ledger is the node surface served over RPC. *runtime.Runtime satisfies it.
type Ledger interface {
	Execute(tx *types.Transaction) (runtime.Receipt, error)
	Account(addr crypto.PublicKey) (*types.Account, bool, error)
	Balance(addr crypto.PublicKey) (uint64, error)
	Airdrop(addr crypto.PublicKey, amount uint64) error
}

type Server struct {
	ledger  Ledger
	feed    EventSource
	program crypto.PublicKey
	logger  *slog.Logger
	router  http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer serves ledger and the vault program registered as program.
// feed may be nil, in which case the event stream is unavailable.
func NewServer(ledger Ledger, feed EventSource, program crypto.PublicKey, opts ...Option) *Server {
	s := &Server{
		ledger:  ledger,
		feed:    feed,
		program: program,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Post("/", s.handle)
	r.Get("/ws/events", s.handleEventsWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	encoded, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, &RPCError{Code: codeServerError, Message: "failed to encode result", Data: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: encoded})
}

// handlerFunc returns either a result or an RPC error with its HTTP status.
type handlerFunc func(req *RPCRequest) (interface{}, int, *RPCError)

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ledger_sendTransaction": s.handleSendTransaction,
		"ledger_getBalance":      s.handleGetBalance,
		"ledger_getAccount":      s.handleGetAccount,
		"ledger_airdrop":         s.handleAirdrop,
		"vault_getConfig":        s.handleGetConfig,
		"vault_getSession":       s.handleGetSession,
		"vault_addresses":        s.handleAddresses,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message, Data: err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: "method not found", Data: req.Method})
		return
	}

	start := time.Now()
	result, status, rpcErr := handler(req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.RPC().Observe(req.Method, code, time.Since(start))
	if rpcErr != nil {
		writeError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

func invalidParams(message string, err error) (interface{}, int, *RPCError) {
	rpcErr := &RPCError{Code: codeInvalidParams, Message: message}
	if err != nil {
		rpcErr.Data = err.Error()
	}
	return nil, http.StatusBadRequest, rpcErr
}

func serverError(message string, err error) (interface{}, int, *RPCError) {
	return nil, http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: message, Data: err.Error()}
}

func parseKeyParam(params []json.RawMessage, i int) (crypto.PublicKey, error) {
	if len(params) <= i {
		return crypto.PublicKey{}, fmt.Errorf("missing parameter %d", i)
	}
	var pk crypto.PublicKey
	if err := json.Unmarshal(params[i], &pk); err != nil {
		return crypto.PublicKey{}, err
	}
	return pk, nil
}

func parseUintParam(params []json.RawMessage, i int) (uint64, error) {
	if len(params) <= i {
		return 0, fmt.Errorf("missing parameter %d", i)
	}
	var n uint64
	if err := json.Unmarshal(params[i], &n); err == nil {
		return n, nil
	}
	var text string
	if err := json.Unmarshal(params[i], &text); err != nil {
		return 0, fmt.Errorf("parameter %d must be an unsigned integer", i)
	}
	return strconv.ParseUint(strings.TrimSpace(text), 10, 64)
}

func (s *Server) handleSendTransaction(req *RPCRequest) (interface{}, int, *RPCError) {
	if len(req.Params) != 1 {
		return invalidParams("transaction parameter required", nil)
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return invalidParams("invalid transaction format", err)
	}
	receipt, err := s.ledger.Execute(&tx)
	if err != nil {
		s.logger.Info("transaction rejected over rpc", slog.String("tx", receipt.Hash()), slog.String("error", err.Error()))
		status := http.StatusOK
		if errors.Is(err, runtime.ErrAlreadyProcessed) {
			status = http.StatusConflict
		}
		return nil, status, errorFromExecution(err)
	}
	return SendTransactionResult{Hash: receipt.Hash(), Events: receipt.Events}, http.StatusOK, nil
}

func (s *Server) handleGetBalance(req *RPCRequest) (interface{}, int, *RPCError) {
	addr, err := parseKeyParam(req.Params, 0)
	if err != nil {
		return invalidParams("address parameter required", err)
	}
	bal, err := s.ledger.Balance(addr)
	if err != nil {
		return serverError("failed to load balance", err)
	}
	return BalanceResult{Address: addr, Lamports: bal}, http.StatusOK, nil
}

func (s *Server) handleGetAccount(req *RPCRequest) (interface{}, int, *RPCError) {
	addr, err := parseKeyParam(req.Params, 0)
	if err != nil {
		return invalidParams("address parameter required", err)
	}
	acc, ok, err := s.ledger.Account(addr)
	if err != nil {
		return serverError("failed to load account", err)
	}
	if !ok {
		return nil, http.StatusOK, nil
	}
	return acc, http.StatusOK, nil
}

func (s *Server) handleAirdrop(req *RPCRequest) (interface{}, int, *RPCError) {
	addr, err := parseKeyParam(req.Params, 0)
	if err != nil {
		return invalidParams("address parameter required", err)
	}
	amount, err := parseUintParam(req.Params, 1)
	if err != nil {
		return invalidParams("amount parameter required", err)
	}
	if err := s.ledger.Airdrop(addr, amount); err != nil {
		status := http.StatusOK
		if errors.Is(err, runtime.ErrAirdropDisabled) {
			status = http.StatusForbidden
		}
		return nil, status, errorFromExecution(err)
	}
	bal, err := s.ledger.Balance(addr)
	if err != nil {
		return serverError("failed to load balance", err)
	}
	return BalanceResult{Address: addr, Lamports: bal}, http.StatusOK, nil
}

func (s *Server) handleGetConfig(_ *RPCRequest) (interface{}, int, *RPCError) {
	cfg, ok, err := vault.LoadConfig(s.ledger, s.program)
	if err != nil {
		return serverError("failed to load config", err)
	}
	if !ok {
		return nil, http.StatusOK, nil
	}
	addr, _, err := vault.ConfigAddress(s.program)
	if err != nil {
		return serverError("failed to derive config address", err)
	}
	return ConfigResult{
		Address:    addr,
		Treasury:   cfg.Treasury,
		Authority:  cfg.Authority,
		VaultBump:  cfg.VaultBump,
		ConfigBump: cfg.ConfigBump,
	}, http.StatusOK, nil
}

func (s *Server) handleGetSession(req *RPCRequest) (interface{}, int, *RPCError) {
	player, err := parseKeyParam(req.Params, 0)
	if err != nil {
		return invalidParams("player parameter required", err)
	}
	session, ok, err := vault.LoadSession(s.ledger, s.program, player)
	if err != nil {
		return serverError("failed to load session", err)
	}
	if !ok {
		return nil, http.StatusOK, nil
	}
	addr, _, err := vault.SessionAddress(s.program, player)
	if err != nil {
		return serverError("failed to derive session address", err)
	}
	return sessionResultFrom(addr, session), http.StatusOK, nil
}

func (s *Server) handleAddresses(req *RPCRequest) (interface{}, int, *RPCError) {
	addrs, err := vault.DeriveAddresses(s.program)
	if err != nil {
		return serverError("failed to derive addresses", err)
	}
	result := AddressesResult{Addresses: addrs}
	if len(req.Params) > 0 {
		player, err := parseKeyParam(req.Params, 0)
		if err != nil {
			return invalidParams("invalid player parameter", err)
		}
		session, _, err := vault.SessionAddress(s.program, player)
		if err != nil {
			return serverError("failed to derive session address", err)
		}
		result.Session = &session
	}
	return result, http.StatusOK, nil
}
