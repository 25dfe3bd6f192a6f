package domain

// WalletRole classifies a wallet by the size of trades it participates in.
// Patterns use the role to bias counterparty selection.
type WalletRole string

const (
	RoleLarge WalletRole = "large"
	RoleSmall WalletRole = "small"
)

// Signer produces a ledger signature over a serialized operation payload.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
}

// Wallet is one participant in the trading pool. Wallets are loaded once at
// run start and are immutable afterwards.
type Wallet struct {
	Address string
	Role    WalletRole
	Signer  Signer
}

// WalletRegistry is the read-only view of the loaded wallet pool.
type WalletRegistry interface {
	// Get returns the wallet for an address, or ErrNotFound.
	Get(address string) (Wallet, error)
	// ByRole returns all wallets with the given role, in load order.
	ByRole(role WalletRole) []Wallet
	// All returns every loaded wallet in load order.
	All() []Wallet
	// Len returns the number of loaded wallets.
	Len() int
}
