package vault

import (
	"fmt"
	"math/bits"

	"sessionvault/core/runtime"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/observability"
)

// Program is the session vault: players lock tier deposits into a pooled
// custody account and redeem authority-signed payout ceilings from it.
type Program struct {
	id      crypto.PublicKey
	addrs   Addresses
	metrics *observability.VaultMetrics
}

// New creates the vault program registered under id.
func New(id crypto.PublicKey) (*Program, error) {
	addrs, err := DeriveAddresses(id)
	if err != nil {
		return nil, err
	}
	return &Program{id: id, addrs: addrs, metrics: observability.Vault()}, nil
}

// ID implements runtime.Program.
func (p *Program) ID() crypto.PublicKey { return p.id }

// Addresses returns the derived config and custody accounts.
func (p *Program) Addresses() Addresses { return p.addrs }

// ComputeFee splits amount into the treasury fee and the player payout.
func ComputeFee(amount uint64) (fee, payout uint64, err error) {
	hi, lo := bits.Mul64(amount, FeeBps)
	if hi != 0 {
		return 0, 0, ErrMathOverflow
	}
	fee = lo / BpsDenominator
	return fee, amount - fee, nil
}

// Execute implements runtime.Program by decoding ix and checking its account
// list against the derived addresses before running the operation.
func (p *Program) Execute(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Data) == 0 {
		return ErrInvalidInstruction
	}
	op := Opcode(ix.Data[0])
	payload := ix.Data[1:]
	err := p.dispatch(ctx, op, ix.Accounts, payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if _, name, ok := Code(err); ok {
			outcome = name
		}
	}
	p.metrics.RecordInstruction(op.String(), outcome)
	return err
}

func (p *Program) dispatch(ctx *runtime.InvokeContext, op Opcode, accounts []types.AccountMeta, payload []byte) error {
	switch op {
	case OpBootstrap:
		if err := expectAccounts(accounts, 3); err != nil {
			return err
		}
		treasury, err := decodeKeyPayload(op, payload)
		if err != nil {
			return err
		}
		if err := p.expect(accounts[1], p.addrs.Config); err != nil {
			return err
		}
		if err := p.expect(accounts[2], p.addrs.Vault); err != nil {
			return err
		}
		return p.Bootstrap(ctx, accounts[0].PublicKey, treasury)

	case OpDeposit:
		if err := expectAccounts(accounts, 4); err != nil {
			return err
		}
		if len(payload) != 1 {
			return fmt.Errorf("%w: deposit payload is %d bytes", ErrInvalidInstruction, len(payload))
		}
		player := accounts[0].PublicKey
		if err := p.expectSession(accounts[1], player); err != nil {
			return err
		}
		if err := p.expect(accounts[2], p.addrs.Vault); err != nil {
			return err
		}
		if err := p.expect(accounts[3], p.addrs.Config); err != nil {
			return err
		}
		return p.Deposit(ctx, player, payload[0])

	case OpCashout:
		if err := expectAccounts(accounts, 5); err != nil {
			return err
		}
		args, err := decodeCashoutArgs(payload)
		if err != nil {
			return err
		}
		player := accounts[0].PublicKey
		if err := p.expectSession(accounts[1], player); err != nil {
			return err
		}
		if err := p.expect(accounts[2], p.addrs.Vault); err != nil {
			return err
		}
		if err := p.expect(accounts[4], p.addrs.Config); err != nil {
			return err
		}
		return p.Cashout(ctx, player, accounts[3].PublicKey, args)

	case OpForceClose:
		if err := expectAccounts(accounts, 3); err != nil {
			return err
		}
		player, err := decodeKeyPayload(op, payload)
		if err != nil {
			return err
		}
		if err := p.expectSession(accounts[1], player); err != nil {
			return err
		}
		if err := p.expect(accounts[2], p.addrs.Config); err != nil {
			return err
		}
		return p.ForceClose(ctx, accounts[0].PublicKey, player)

	default:
		return fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, uint8(op))
	}
}

func expectAccounts(accounts []types.AccountMeta, n int) error {
	if len(accounts) != n {
		return fmt.Errorf("%w: want %d accounts, got %d", ErrInvalidAccount, n, len(accounts))
	}
	return nil
}

func (p *Program) expect(meta types.AccountMeta, want crypto.PublicKey) error {
	if meta.PublicKey != want {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidAccount, meta.PublicKey, want)
	}
	return nil
}

func (p *Program) expectSession(meta types.AccountMeta, player crypto.PublicKey) error {
	want, _, err := SessionAddress(p.id, player)
	if err != nil {
		return err
	}
	return p.expect(meta, want)
}

func (p *Program) loadConfig(ctx *runtime.InvokeContext) (*Config, error) {
	cfg, ok, err := loadConfigAt(ctx, p.id, p.addrs.Config)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (p *Program) storeSession(ctx *runtime.InvokeContext, addr crypto.PublicKey, session *Session, create bool) error {
	encoded, err := EncodeSession(session)
	if err != nil {
		return err
	}
	if create {
		return ctx.CreateAccount(addr, sessionSeeds(session.Player), session.Bump, encoded)
	}
	return ctx.WriteData(addr, encoded)
}

// Bootstrap writes the singleton config. The signing authority becomes the
// game authority. A second bootstrap fails because the config account is
// already in use.
func (p *Program) Bootstrap(ctx *runtime.InvokeContext, authority, treasury crypto.PublicKey) error {
	if !ctx.IsSigner(authority) {
		return fmt.Errorf("%w: %s", runtime.ErrMissingSignature, authority)
	}
	cfg := &Config{
		Treasury:   treasury,
		Authority:  authority,
		VaultBump:  p.addrs.VaultBump,
		ConfigBump: p.addrs.ConfigBump,
	}
	encoded, err := EncodeConfig(cfg)
	if err != nil {
		return err
	}
	if err := ctx.CreateAccount(p.addrs.Config, configSeeds(), p.addrs.ConfigBump, encoded); err != nil {
		return err
	}
	ctx.Emit(ConfigInitialized{Treasury: treasury, Authority: authority})
	return nil
}

// Deposit moves the tier amount from player into custody and activates the
// player's session, creating the slot on first use.
func (p *Program) Deposit(ctx *runtime.InvokeContext, player crypto.PublicKey, tier uint8) error {
	if !ctx.IsSigner(player) {
		return fmt.Errorf("%w: %s", runtime.ErrMissingSignature, player)
	}
	if _, err := p.loadConfig(ctx); err != nil {
		return err
	}
	amount, err := TierAmount(tier)
	if err != nil {
		return err
	}
	addr, bump, err := SessionAddress(p.id, player)
	if err != nil {
		return err
	}
	session, exists, err := loadSessionAt(ctx, p.id, addr)
	if err != nil {
		return err
	}
	if !exists {
		session = &Session{}
	}
	if exists && session.Status == StatusActive {
		return ErrSessionAlreadyActive
	}

	if err := ctx.Transfer(player, p.addrs.Vault, amount); err != nil {
		return err
	}

	session.Player = player
	session.DepositTier = tier
	session.DepositAmount = amount
	session.Status = StatusActive
	session.MaxClaimable = 0
	session.StartedAt = ctx.Now()
	session.bumpNonce()
	session.LastAuthHash = [32]byte{}
	session.AuthExpiry = 0
	session.Bump = bump
	if err := p.storeSession(ctx, addr, session, !exists); err != nil {
		return err
	}

	p.metrics.RecordTransfer("deposit", amount)
	ctx.Emit(SessionCreated{
		Player:    player,
		Tier:      tier,
		Amount:    amount,
		Nonce:     session.Nonce,
		Timestamp: session.StartedAt,
	})
	return nil
}

// Cashout redeems amount of an authority-signed ceiling. The guards run in a
// fixed order and the session is closed before custody is debited.
func (p *Program) Cashout(ctx *runtime.InvokeContext, player, treasury crypto.PublicKey, args CashoutArgs) error {
	if !ctx.IsSigner(player) {
		return fmt.Errorf("%w: %s", runtime.ErrMissingSignature, player)
	}
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return err
	}
	if treasury != cfg.Treasury {
		return ErrInvalidTreasury
	}
	addr, _, err := SessionAddress(p.id, player)
	if err != nil {
		return err
	}
	session, exists, err := loadSessionAt(ctx, p.id, addr)
	if err != nil {
		return err
	}

	if !exists || session.Status != StatusActive {
		return ErrSessionNotActive
	}
	if session.Player != player {
		return ErrUnauthorizedPlayer
	}
	if args.Nonce != session.Nonce {
		return ErrInvalidNonce
	}
	if ctx.Now() >= args.Expiry {
		return ErrAuthorizationExpired
	}
	if args.Amount > args.MaxClaimable {
		return ErrAmountExceedsAuthorized
	}
	if args.Amount == 0 {
		return ErrZeroCashout
	}
	preceding := ctx.Instructions()[:ctx.CurrentIndex()]
	if err := VerifyAuthorization(preceding, cfg.Authority, player, args.MaxClaimable, args.Nonce, args.Expiry, p.id); err != nil {
		return err
	}
	digest := ComputeReplayDigest(player, args.MaxClaimable, args.Nonce, args.Expiry)
	if digest == session.LastAuthHash {
		return ErrReplayDetected
	}

	session.Status = StatusClosed
	session.MaxClaimable = args.MaxClaimable
	session.LastAuthHash = digest
	session.AuthExpiry = args.Expiry
	session.bumpNonce()
	if err := p.storeSession(ctx, addr, session, false); err != nil {
		return err
	}

	fee, payout, err := ComputeFee(args.Amount)
	if err != nil {
		return err
	}
	seeds := vaultSeeds()
	if payout > 0 {
		if err := ctx.TransferSigned(p.addrs.Vault, player, payout, seeds, cfg.VaultBump); err != nil {
			return err
		}
	}
	if fee > 0 {
		if err := ctx.TransferSigned(p.addrs.Vault, treasury, fee, seeds, cfg.VaultBump); err != nil {
			return err
		}
	}

	p.metrics.RecordTransfer("payout", payout)
	p.metrics.RecordTransfer("fee", fee)
	ctx.Emit(SessionCashedOut{
		Player: player,
		Amount: args.Amount,
		Fee:    fee,
		Payout: payout,
		Nonce:  args.Nonce,
	})
	return nil
}

// ForceClose lets the game authority end an active session without payout.
// The deposit stays in custody.
func (p *Program) ForceClose(ctx *runtime.InvokeContext, authority, player crypto.PublicKey) error {
	if !ctx.IsSigner(authority) {
		return fmt.Errorf("%w: %s", runtime.ErrMissingSignature, authority)
	}
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return err
	}
	if authority != cfg.Authority {
		return ErrUnauthorizedAuthority
	}
	addr, _, err := SessionAddress(p.id, player)
	if err != nil {
		return err
	}
	session, exists, err := loadSessionAt(ctx, p.id, addr)
	if err != nil {
		return err
	}
	if !exists || session.Status != StatusActive {
		return ErrSessionNotActive
	}

	session.Status = StatusClosed
	session.MaxClaimable = 0
	session.bumpNonce()
	if err := p.storeSession(ctx, addr, session, false); err != nil {
		return err
	}
	ctx.Emit(SessionForceClosed{Player: session.Player, Authority: authority, Nonce: session.Nonce})
	return nil
}
