package signing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/apex/internal/core/domain"
)

// Keyring indexes signers by the canonical address they control and
// resolves accounts for the transaction builder. The canonical key
// carries no SS58 prefix, so one registration covers every chain in
// the signer's ecosystem regardless of how the address is rendered.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[string]Signer)}
}

// Add registers a signer under its derived address. With no chains given
// the address derives on the scheme's home ecosystem; passing chains pins
// the derivation for custom networks.
func (k *Keyring) Add(s Signer, chains ...domain.ChainID) error {
	if len(chains) == 0 {
		chains = []domain.ChainID{homeChain(s.Scheme())}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, chain := range chains {
		addr, err := s.Address(chain)
		if err != nil {
			return fmt.Errorf("derive address on %s: %w", chain, err)
		}
		k.signers[addr.Key()] = s
	}
	return nil
}

// SignerFor resolves the signer holding the account's key. The miss wraps
// ErrSigningUnavailable so callers can tell a missing key from a malformed
// intent.
func (k *Keyring) SignerFor(account domain.Account) (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if s, ok := k.signers[account.Address.Key()]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: no key for %s", domain.ErrSigningUnavailable, account.Address)
}

// Len reports how many distinct addresses have keys.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.signers)
}

// Keys lists the canonical address keys in stable order.
func (k *Keyring) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([]string, 0, len(k.signers))
	for key := range k.signers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func homeChain(scheme domain.SignatureScheme) domain.ChainID {
	if scheme == domain.SchemeECDSA {
		return domain.ChainIDEthereum
	}
	return domain.ChainIDPolkadot
}
