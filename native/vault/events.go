package vault

import (
	"strconv"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

const (
	EventTypeConfigInitialized  = "vault.config_initialized"
	EventTypeSessionCreated     = "vault.session_created"
	EventTypeSessionCashedOut   = "vault.session_cashed_out"
	EventTypeSessionForceClosed = "vault.session_force_closed"
)

// ConfigInitialized is emitted once by bootstrap.
type ConfigInitialized struct {
	Treasury  crypto.PublicKey
	Authority crypto.PublicKey
}

func (ConfigInitialized) EventType() string { return EventTypeConfigInitialized }

func (e ConfigInitialized) Event() *types.Event {
	return &types.Event{Type: EventTypeConfigInitialized, Attributes: map[string]string{
		"treasury":  e.Treasury.String(),
		"authority": e.Authority.String(),
	}}
}

// SessionCreated is emitted by every deposit.
type SessionCreated struct {
	Player    crypto.PublicKey
	Tier      uint8
	Amount    uint64
	Nonce     uint64
	Timestamp int64
}

func (SessionCreated) EventType() string { return EventTypeSessionCreated }

func (e SessionCreated) Event() *types.Event {
	return &types.Event{Type: EventTypeSessionCreated, Attributes: map[string]string{
		"player":    e.Player.String(),
		"tier":      strconv.FormatUint(uint64(e.Tier), 10),
		"amount":    strconv.FormatUint(e.Amount, 10),
		"nonce":     strconv.FormatUint(e.Nonce, 10),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}}
}

// SessionCashedOut reports the split of a cashout. Nonce is the value the
// authorization was issued for.
type SessionCashedOut struct {
	Player crypto.PublicKey
	Amount uint64
	Fee    uint64
	Payout uint64
	Nonce  uint64
}

func (SessionCashedOut) EventType() string { return EventTypeSessionCashedOut }

func (e SessionCashedOut) Event() *types.Event {
	return &types.Event{Type: EventTypeSessionCashedOut, Attributes: map[string]string{
		"player": e.Player.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
		"fee":    strconv.FormatUint(e.Fee, 10),
		"payout": strconv.FormatUint(e.Payout, 10),
		"nonce":  strconv.FormatUint(e.Nonce, 10),
	}}
}

// SessionForceClosed is emitted when the authority closes a session.
type SessionForceClosed struct {
	Player    crypto.PublicKey
	Authority crypto.PublicKey
	Nonce     uint64
}

func (SessionForceClosed) EventType() string { return EventTypeSessionForceClosed }

func (e SessionForceClosed) Event() *types.Event {
	return &types.Event{Type: EventTypeSessionForceClosed, Attributes: map[string]string{
		"player":    e.Player.String(),
		"authority": e.Authority.String(),
		"nonce":     strconv.FormatUint(e.Nonce, 10),
	}}
}
