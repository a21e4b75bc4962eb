package events

import (
	"encoding/hex"
	"strconv"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

const (
	// TypeTransfer is emitted for every native balance movement.
	TypeTransfer = "transfer.native"
)

// Transfer describes a native value movement between two accounts. Program
// marks transfers authorized by a derivation proof rather than a signature.
type Transfer struct {
	From    crypto.PublicKey
	To      crypto.PublicKey
	Amount  uint64
	Program crypto.PublicKey
	TxHash  [32]byte
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}
	if !e.Program.IsZero() {
		attrs["program"] = e.Program.String()
	}
	if e.TxHash != ([32]byte{}) {
		attrs["txHash"] = "0x" + hex.EncodeToString(e.TxHash[:])
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
