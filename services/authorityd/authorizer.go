package authorityd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/observability"
	"sessionvault/observability/logging"
	"sessionvault/rpc"
)

var (
	ErrSessionNotFound = errors.New("authorityd: player has no session")
	ErrSessionInactive = errors.New("authorityd: session is not active")
	ErrInvalidAmount   = errors.New("authorityd: max_claimable must be greater than zero")
	ErrCapExceeded     = errors.New("authorityd: max_claimable exceeds the tier cap")
	ErrRateLimited     = errors.New("authorityd: authorization requested too soon")
)

// Ledger is the subset of the node RPC client used by the service.
// *rpc.Client satisfies it.
type Ledger interface {
	Session(ctx context.Context, player crypto.PublicKey) (*rpc.SessionResult, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (*rpc.SendTransactionResult, error)
}

// Policy bounds what the authority is willing to sign.
type Policy struct {
	Expiry         time.Duration
	PlayerInterval time.Duration
	// TierCaps in whole coins.
	TierCaps map[uint8]uint64
}

// DefaultPolicy returns the stock signing policy.
func DefaultPolicy() Policy {
	return Policy{
		Expiry:         120 * time.Second,
		PlayerInterval: 10 * time.Second,
		TierCaps:       DefaultTierCaps(),
	}
}

// Cap returns the largest ceiling in base units for tier.
func (p Policy) Cap(tier uint8) (uint64, bool) {
	coins, ok := p.TierCaps[tier]
	if !ok {
		return 0, false
	}
	return coins * vault.BaseUnitsPerCoin, true
}

// Grant is a signed authorization together with its record id.
type Grant struct {
	ID            string
	Authorization vault.Authorization
	Message       [vault.MessageLen]byte
}

// Authorizer signs cashout ceilings for active sessions and submits
// force-closes on behalf of the game authority.
type Authorizer struct {
	ledger  Ledger
	store   *Store
	signer  *crypto.Keypair
	program crypto.PublicKey
	policy  Policy
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.AuthoritydMetrics
	tracer  trace.Tracer
	salt    atomic.Uint64
}

// AuthorizerOption customises an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) AuthorizerOption {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuthorizerLogger sets the logger.
func WithAuthorizerLogger(logger *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthorizer wires the signer to the ledger and the record store.
func NewAuthorizer(ledger Ledger, store *Store, signer *crypto.Keypair, program crypto.PublicKey, policy Policy, opts ...AuthorizerOption) (*Authorizer, error) {
	if ledger == nil || store == nil || signer == nil {
		return nil, errors.New("authorityd: ledger, store and signer are required")
	}
	if len(policy.TierCaps) == 0 {
		policy.TierCaps = DefaultTierCaps()
	}
	a := &Authorizer{
		ledger:  ledger,
		store:   store,
		signer:  signer,
		program: program,
		policy:  policy,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.Authorityd(),
		tracer:  otel.Tracer("authorityd"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authority returns the public key signing authorizations.
func (a *Authorizer) Authority() crypto.PublicKey { return a.signer.PublicKey() }

// Authorize signs a ceiling of maxClaimable base units for player's current
// session nonce.
func (a *Authorizer) Authorize(ctx context.Context, player crypto.PublicKey, maxClaimable uint64) (*Grant, error) {
	ctx, span := a.tracer.Start(ctx, "authorityd.authorize",
		trace.WithAttributes(attribute.String("player", player.String())))
	defer span.End()
	grant, err := a.authorize(ctx, player, maxClaimable)
	outcome := authorizationOutcome(err)
	a.metrics.RecordAuthorization(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "authorization issued")
	return grant, nil
}

func (a *Authorizer) authorize(ctx context.Context, player crypto.PublicKey, maxClaimable uint64) (*Grant, error) {
	session, err := a.ledger.Session(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.Active() {
		return nil, ErrSessionInactive
	}
	if maxClaimable == 0 {
		return nil, ErrInvalidAmount
	}
	limit, ok := a.policy.Cap(session.DepositTier)
	if !ok || maxClaimable > limit {
		return nil, fmt.Errorf("%w: tier %d allows %d", ErrCapExceeded, session.DepositTier, limit)
	}

	now := a.now()
	last, seen, err := a.store.LastIssued(ctx, player.String())
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if seen && now.Sub(last) < a.policy.PlayerInterval {
		return nil, ErrRateLimited
	}

	expiry := now.Add(a.policy.Expiry).Unix()
	auth := vault.SignAuthorization(a.signer, a.program, player, maxClaimable, session.Nonce, expiry)
	rec := &AuthorizationRecord{
		Player:       player.String(),
		Nonce:        session.Nonce,
		MaxClaimable: maxClaimable,
		Expiry:       expiry,
		Signature:    auth.Signature.String(),
		Status:       StatusIssued,
		CreatedAt:    now,
	}
	if err := a.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	a.logger.Info("cashout authorization issued",
		slog.String("player", player.String()),
		slog.Uint64("nonce", session.Nonce),
		slog.Uint64("max_claimable", maxClaimable),
		slog.Int64("expiry", expiry),
		slog.String("signature_fp", logging.Fingerprint(auth.Signature.String())),
	)
	return &Grant{ID: rec.ID.String(), Authorization: auth, Message: auth.Message(a.program)}, nil
}

// ForceClose closes player's active session without payout and returns the
// transaction hash.
func (a *Authorizer) ForceClose(ctx context.Context, player crypto.PublicKey) (string, error) {
	ctx, span := a.tracer.Start(ctx, "authorityd.force_close",
		trace.WithAttributes(attribute.String("player", player.String())))
	defer span.End()
	hash, err := a.forceClose(ctx, player)
	outcome := "submitted"
	if err != nil {
		outcome = "failed"
		if errors.Is(err, vault.ErrSessionNotActive) {
			outcome = "not_active"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	a.metrics.RecordForceClose(outcome)
	return hash, err
}

func (a *Authorizer) forceClose(ctx context.Context, player crypto.PublicKey) (string, error) {
	ix, err := vault.NewForceCloseInstruction(a.program, a.signer.PublicKey(), player)
	if err != nil {
		return "", err
	}
	// Salt keeps retries distinct so the ledger evaluates them again.
	tx := types.NewTransaction(uint64(a.now().UnixNano())+a.salt.Add(1), ix)
	if err := tx.Sign(a.signer); err != nil {
		return "", err
	}
	res, err := a.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	a.logger.Info("session force-closed", slog.String("player", player.String()), slog.String("tx", res.Hash))
	return res.Hash, nil
}

func authorizationOutcome(err error) string {
	switch {
	case err == nil:
		return "issued"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionInactive):
		return "session_inactive"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrDuplicateAuthorization):
		return "duplicate"
	default:
		return "error"
	}
}
