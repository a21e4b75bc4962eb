package types

import "sessionvault/crypto"

// Account is the ledger's unit of storage. System-owned accounts (zero owner)
// hold only native balance; program-owned accounts carry opaque Data that only
// the owning program may rewrite.
type Account struct {
	Lamports uint64           `json:"lamports"`
	Owner    crypto.PublicKey `json:"owner"`
	Data     []byte           `json:"data,omitempty"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Data != nil {
		clone.Data = append([]byte(nil), a.Data...)
	}
	return &clone
}

// IsSystemOwned reports whether the account is owned by the native system
// program, i.e. it can be debited by a signature or a derivation proof.
func (a *Account) IsSystemOwned() bool {
	return a == nil || a.Owner.IsZero()
}
