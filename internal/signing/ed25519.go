package signing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/vietddude/apex/internal/core/domain"
)

// Ed25519Signer signs arbitrary payloads with the stdlib Ed25519
// implementation. Signatures are deterministic.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", domain.ErrInvalidFormat, ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Ed25519Signer) Sign(payload []byte) (domain.Signature, error) {
	if len(s.priv) == 0 {
		return domain.Signature{}, domain.ErrSigningUnavailable
	}
	sig := ed25519.Sign(s.priv, payload)
	return domain.NewSignature(domain.SchemeEd25519, sig)
}

func (s *Ed25519Signer) PublicKey() []byte {
	pub := s.priv.Public().(ed25519.PublicKey)
	out := make([]byte, len(pub))
	copy(out, pub)
	return out
}

func (s *Ed25519Signer) Address(chain domain.ChainID) (domain.Address, error) {
	if domain.EcosystemOf(chain) != domain.EcosystemSubstrate {
		return domain.Address{}, fmt.Errorf("%w: ed25519 signer cannot address %s chain %s", domain.ErrUnsupportedChain, domain.EcosystemOf(chain), chain)
	}
	return domain.NewSubstrateAddress(s.PublicKey(), domain.SS58PrefixOf(chain))
}

func (s *Ed25519Signer) Scheme() domain.SignatureScheme { return domain.SchemeEd25519 }
