package signing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/vietddude/apex/internal/core/domain"
)

// ErrUnknownWallet is returned by WalletManager lookups for names that were
// never registered.
var ErrUnknownWallet = errors.New("signing: unknown wallet")

// Wallet derives signers for every supported scheme from a single root
// secret. It holds a BIP-39 seed for the EVM side and the Substrate mini
// secret for sr25519/ed25519; both come from the same mnemonic, so one
// phrase controls accounts across ecosystems.
type Wallet struct {
	evmSeed []byte
	subSeed [32]byte
	ss58    *uint16
}

// NewWalletFromMnemonic builds a wallet from a BIP-39 phrase. The phrase is
// checksum-validated before any key material is derived.
func NewWalletFromMnemonic(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", domain.ErrInvalidFormat)
	}
	mini, err := substrateMiniSecret(mnemonic, "")
	if err != nil {
		return nil, err
	}
	return &Wallet{
		evmSeed: bip39.NewSeed(mnemonic, ""),
		subSeed: mini,
	}, nil
}

// NewWalletFromSeed builds a wallet from a raw 32-byte seed. The seed feeds
// the BIP-32 master key directly and doubles as the Substrate mini secret.
func NewWalletFromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: seed must be 32 bytes, got %d", domain.ErrInvalidFormat, len(seed))
	}
	w := &Wallet{evmSeed: append([]byte(nil), seed...)}
	copy(w.subSeed[:], seed)
	return w, nil
}

// GenerateWallet creates a wallet from a fresh 12-word mnemonic and returns
// both so the caller can persist the phrase.
func GenerateWallet() (*Wallet, string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	w, err := NewWalletFromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WithSS58Prefix returns a copy whose substrate addresses render under the
// given network prefix instead of the chain registry default.
func (w *Wallet) WithSS58Prefix(prefix uint16) *Wallet {
	dup := *w
	dup.ss58 = &prefix
	return &dup
}

// Signer derives a signer for the scheme at the given path. For ECDSA the
// path is BIP-44 ("m/44'/60'/0'/0/0", used when empty); for sr25519 and
// ed25519 it is a Substrate hard junction path ("//alice//stash", root when
// empty).
func (w *Wallet) Signer(scheme domain.SignatureScheme, path string) (Signer, error) {
	switch scheme {
	case domain.SchemeECDSA:
		if path == "" {
			path = DefaultEVMPath
		}
		raw, err := deriveECDSAKey(w.evmSeed, path)
		if err != nil {
			return nil, err
		}
		return NewECDSASignerFromBytes(raw)
	case domain.SchemeSr25519:
		junctions, err := parseJunctions(path)
		if err != nil {
			return nil, err
		}
		mini, err := schnorrkelMini(w.subSeed)
		if err != nil {
			return nil, err
		}
		mini, err = deriveSr25519(mini, junctions)
		if err != nil {
			return nil, err
		}
		enc := mini.Encode()
		return NewSr25519Signer(enc[:])
	case domain.SchemeEd25519:
		junctions, err := parseJunctions(path)
		if err != nil {
			return nil, err
		}
		seed := deriveEd25519Seed(w.subSeed, junctions)
		return NewEd25519Signer(seed[:])
	default:
		return nil, fmt.Errorf("%w: scheme %q", domain.ErrUnsupportedChain, scheme)
	}
}

// Address derives the signer at path and formats its address for the chain,
// honoring the wallet's SS58 prefix override when one is set.
func (w *Wallet) Address(chain domain.ChainID, scheme domain.SignatureScheme, path string) (domain.Address, error) {
	signer, err := w.Signer(scheme, path)
	if err != nil {
		return domain.Address{}, err
	}
	addr, err := signer.Address(chain)
	if err != nil {
		return domain.Address{}, err
	}
	if w.ss58 != nil && addr.Ecosystem() == domain.EcosystemSubstrate {
		addr = addr.WithPrefix(*w.ss58)
	}
	return addr, nil
}

// WalletManager keeps named wallets for callers that juggle several roots,
// typically one per environment or customer.
type WalletManager struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

func NewWalletManager() *WalletManager {
	return &WalletManager{wallets: make(map[string]*Wallet)}
}

// Add registers a wallet under a unique name.
func (m *WalletManager) Add(name string, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[name]; ok {
		return fmt.Errorf("signing: wallet %q already registered", name)
	}
	m.wallets[name] = w
	return nil
}

func (m *WalletManager) Get(name string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWallet, name)
	}
	return w, nil
}

func (m *WalletManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wallets, name)
}

// Names lists registered wallets in stable order.
func (m *WalletManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.wallets))
	for name := range m.wallets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
