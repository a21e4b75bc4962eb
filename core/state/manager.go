package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"sessionvault/storage"
)

var errOverlayClosed = errors.New("state: overlay already committed or discarded")

// Manager reads committed ledger state and hands out overlays for applying a
// transaction. Manager itself never writes; only Overlay.Commit does.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, id []byte) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Begin opens a copy-on-write overlay on top of the committed state.
func (m *Manager) Begin() *Overlay {
	return &Overlay{base: m, writes: make(map[string][]byte)}
}

// Overlay buffers writes for a single transaction. Reads observe the overlay's
// own writes first. Nothing reaches the database until Commit, which applies
// every write in one batch.
type Overlay struct {
	base   *Manager
	writes map[string][]byte
	closed bool
}

func (o *Overlay) get(key []byte) ([]byte, bool, error) {
	if o.closed {
		return nil, false, errOverlayClosed
	}
	if value, ok := o.writes[string(key)]; ok {
		return append([]byte(nil), value...), true, nil
	}
	return o.base.get(key)
}

func (o *Overlay) put(key, value []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Dirty reports the number of keys written so far.
func (o *Overlay) Dirty() int { return len(o.writes) }

// Commit atomically persists the overlay and closes it.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := o.base.db.NewBatch()
	for _, key := range keys {
		batch.Put([]byte(key), o.writes[key])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	o.closed = true
	o.writes = nil
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.closed = true
	o.writes = nil
}
