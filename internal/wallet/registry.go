// Package wallet loads the trading wallet pool and exposes it as an
// immutable registry. The pool file is plain JSON or an encrypted blob
// produced by EncryptPool.
package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// poolEntry is the on-disk form of one wallet.
type poolEntry struct {
	Address string `json:"address"`
	Role    string `json:"role"` // "large" or "small"
	Seed    string `json:"seed"` // base64 standard encoding, 32-byte ed25519 seed
}

// Registry is the loaded wallet pool. It is read-only after Load and safe for
// unsynchronized concurrent reads.
type Registry struct {
	wallets []domain.Wallet
	byAddr  map[string]domain.Wallet
	byRole  map[domain.WalletRole][]domain.Wallet
}

// Load reads the pool file at path. When password is non-empty the file is
// treated as an encrypted blob and decrypted first.
func Load(path, password string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read pool file: %w", err)
	}

	if password != "" {
		data, err = decryptPool(data, password)
		if err != nil {
			return nil, fmt.Errorf("wallet: decrypt pool file: %w", err)
		}
	}

	var entries []poolEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("wallet: parse pool file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("wallet: pool file %s contains no wallets", path)
	}

	r := &Registry{
		byAddr: make(map[string]domain.Wallet, len(entries)),
		byRole: make(map[domain.WalletRole][]domain.Wallet),
	}
	for i, e := range entries {
		w, err := fromEntry(e)
		if err != nil {
			return nil, fmt.Errorf("wallet: entry %d (%s): %w", i, e.Address, err)
		}
		if _, dup := r.byAddr[w.Address]; dup {
			return nil, fmt.Errorf("wallet: entry %d: duplicate address %s", i, w.Address)
		}
		r.wallets = append(r.wallets, w)
		r.byAddr[w.Address] = w
		r.byRole[w.Role] = append(r.byRole[w.Role], w)
	}
	return r, nil
}

func fromEntry(e poolEntry) (domain.Wallet, error) {
	if e.Address == "" {
		return domain.Wallet{}, fmt.Errorf("address must not be empty")
	}
	role := domain.WalletRole(strings.ToLower(e.Role))
	if role != domain.RoleLarge && role != domain.RoleSmall {
		return domain.Wallet{}, fmt.Errorf("unknown role %q", e.Role)
	}
	seed, err := base64.StdEncoding.DecodeString(e.Seed)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("invalid seed encoding: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return domain.Wallet{}, fmt.Errorf("expected %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	return domain.Wallet{
		Address: e.Address,
		Role:    role,
		Signer:  &edSigner{key: ed25519.NewKeyFromSeed(seed)},
	}, nil
}

// edSigner signs payloads with a wallet's ed25519 key.
type edSigner struct {
	key ed25519.PrivateKey
}

// Sign implements domain.Signer.
func (s *edSigner) Sign(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("wallet: empty payload")
	}
	return ed25519.Sign(s.key, payload), nil
}

// Get returns the wallet for an address, or domain.ErrNotFound.
func (r *Registry) Get(address string) (domain.Wallet, error) {
	w, ok := r.byAddr[address]
	if !ok {
		return domain.Wallet{}, fmt.Errorf("wallet %s: %w", address, domain.ErrNotFound)
	}
	return w, nil
}

// ByRole returns all wallets with the given role, in load order. The returned
// slice is shared; callers must not mutate it.
func (r *Registry) ByRole(role domain.WalletRole) []domain.Wallet {
	return r.byRole[role]
}

// All returns every loaded wallet in load order.
func (r *Registry) All() []domain.Wallet {
	return r.wallets
}

// Len returns the number of loaded wallets.
func (r *Registry) Len() int {
	return len(r.wallets)
}

// Compile-time interface check.
var _ domain.WalletRegistry = (*Registry)(nil)
