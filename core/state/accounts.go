package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

type storedAccount struct {
	Lamports uint64
	Owner    [32]byte
	Data     []byte
}

func accountKey(addr crypto.PublicKey) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

func processedKey(hash [32]byte) []byte {
	return prefixedKey(processedPrefix, hash[:])
}

func decodeAccount(raw []byte) (*types.Account, error) {
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return &types.Account{
		Lamports: stored.Lamports,
		Owner:    crypto.PublicKey(stored.Owner),
		Data:     stored.Data,
	}, nil
}

func encodeAccount(acc *types.Account) ([]byte, error) {
	if acc == nil {
		return nil, fmt.Errorf("state: nil account")
	}
	return rlp.EncodeToBytes(&storedAccount{
		Lamports: acc.Lamports,
		Owner:    acc.Owner,
		Data:     acc.Data,
	})
}

// GetAccount returns the committed account at addr.
func (m *Manager) GetAccount(addr crypto.PublicKey) (*types.Account, bool, error) {
	raw, ok, err := m.get(accountKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	acc, err := decodeAccount(raw)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// IsProcessed reports whether a transaction hash has been committed.
func (m *Manager) IsProcessed(hash [32]byte) (bool, error) {
	_, ok, err := m.get(processedKey(hash))
	return ok, err
}

// GetAccount returns the account at addr as seen by the overlay.
func (o *Overlay) GetAccount(addr crypto.PublicKey) (*types.Account, bool, error) {
	raw, ok, err := o.get(accountKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	acc, err := decodeAccount(raw)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// PutAccount stages the account for commit.
func (o *Overlay) PutAccount(addr crypto.PublicKey, acc *types.Account) error {
	encoded, err := encodeAccount(acc)
	if err != nil {
		return err
	}
	return o.put(accountKey(addr), encoded)
}

// IsProcessed reports whether hash was committed or already marked in this overlay.
func (o *Overlay) IsProcessed(hash [32]byte) (bool, error) {
	_, ok, err := o.get(processedKey(hash))
	return ok, err
}

// MarkProcessed records hash so the transaction cannot be applied twice.
func (o *Overlay) MarkProcessed(hash [32]byte) error {
	return o.put(processedKey(hash), []byte{1})
}
