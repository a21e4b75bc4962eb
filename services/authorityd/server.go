package authorityd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/observability"
)

const maxBodyBytes = 16 << 10

// AuthorizeRequest is the body of POST /v1/authorize-cashout.
type AuthorizeRequest struct {
	Player       string `json:"player"`
	MaxClaimable uint64 `json:"max_claimable"`
}

// AuthorizeResponse carries everything a player needs to redeem a cashout.
type AuthorizeResponse struct {
	ID           string           `json:"id"`
	Player       crypto.PublicKey `json:"player"`
	Authority    crypto.PublicKey `json:"authority"`
	MaxClaimable uint64           `json:"max_claimable"`
	Nonce        uint64           `json:"nonce"`
	Expiry       int64            `json:"expiry"`
	Signature    crypto.Signature `json:"signature"`
	Message      string           `json:"message"`
}

// Authorization converts the response back into the on-ledger form.
func (r AuthorizeResponse) Authorization() vault.Authorization {
	return vault.Authorization{
		Player:       r.Player,
		Authority:    r.Authority,
		MaxClaimable: r.MaxClaimable,
		Nonce:        r.Nonce,
		Expiry:       r.Expiry,
		Signature:    r.Signature,
	}
}

// ForceCloseResponse reports the submitted transaction.
type ForceCloseResponse struct {
	Player crypto.PublicKey `json:"player"`
	TxHash string           `json:"tx_hash"`
}

// Server exposes the authority HTTP API.
type Server struct {
	authorizer *Authorizer
	auth       *Authenticator
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewServer builds the API around an authorizer.
func NewServer(authorizer *Authorizer, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{authorizer: authorizer, auth: auth, limiter: limiter, logger: logger}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Post("/authorize-cashout", s.timed("authorize_cashout", s.handleAuthorize))
		r.Post("/sessions/{player}/force-close", s.timed("force_close", s.handleForceClose))
	})
	return r
}

func (s *Server) timed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		observability.Authorityd().ObserveLatency(route, time.Since(start))
	}
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateAuthorizeBody(body); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AuthorizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	player, err := crypto.ParsePublicKey(req.Player)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid player")
		return
	}
	grant, err := s.authorizer.Authorize(r.Context(), player, req.MaxClaimable)
	if err != nil {
		status := statusForAuthorizeError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("authorize cashout failed", slog.String("player", player.String()), slog.String("error", err.Error()))
		}
		writeJSONError(w, status, err.Error())
		return
	}
	auth := grant.Authorization
	writeJSON(w, http.StatusOK, AuthorizeResponse{
		ID:           grant.ID,
		Player:       auth.Player,
		Authority:    auth.Authority,
		MaxClaimable: auth.MaxClaimable,
		Nonce:        auth.Nonce,
		Expiry:       auth.Expiry,
		Signature:    auth.Signature,
		Message:      base64.StdEncoding.EncodeToString(grant.Message[:]),
	})
}

func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	player, err := crypto.ParsePublicKey(chi.URLParam(r, "player"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid player")
		return
	}
	hash, err := s.authorizer.ForceClose(r.Context(), player)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, vault.ErrSessionNotActive):
			status = http.StatusConflict
		case errors.Is(err, vault.ErrUnauthorizedAuthority), errors.Is(err, vault.ErrNotInitialized):
			status = http.StatusFailedDependency
		}
		s.logger.Warn("force-close failed", slog.String("player", player.String()), slog.String("error", err.Error()))
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ForceCloseResponse{Player: player, TxHash: hash})
}

func statusForAuthorizeError(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionInactive), errors.Is(err, ErrDuplicateAuthorization):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrCapExceeded):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
