package signing

import (
	"fmt"

	"github.com/ChainSafe/go-schnorrkel"

	"github.com/vietddude/apex/internal/core/domain"
)

// signingContext is the transcript label Substrate runtimes verify
// signatures under.
var signingContext = []byte("substrate")

// Sr25519Signer holds a schnorrkel mini secret key. Signatures use the
// substrate signing context and are randomized per the Schnorr scheme;
// verification and the derived public key are deterministic.
type Sr25519Signer struct {
	mini *schnorrkel.MiniSecretKey
	pub  [32]byte
}

// NewSr25519Signer builds a signer from a 32-byte mini secret seed.
func NewSr25519Signer(seed []byte) (*Sr25519Signer, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: sr25519 seed must be 32 bytes, got %d", domain.ErrInvalidFormat, len(seed))
	}
	var raw [32]byte
	copy(raw[:], seed)
	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("sr25519 key: %w", err)
	}
	return &Sr25519Signer{mini: mini, pub: mini.Public().Encode()}, nil
}

func (s *Sr25519Signer) Sign(payload []byte) (domain.Signature, error) {
	if s.mini == nil {
		return domain.Signature{}, domain.ErrSigningUnavailable
	}
	t := schnorrkel.NewSigningContext(signingContext, payload)
	sig, err := s.mini.ExpandEd25519().Sign(t)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("sr25519 sign: %w", err)
	}
	enc := sig.Encode()
	return domain.NewSignature(domain.SchemeSr25519, enc[:])
}

// Verify checks a signature produced by this key over payload. Used by
// tests and by callers double-checking externally produced signatures.
func (s *Sr25519Signer) Verify(payload []byte, sig domain.Signature) bool {
	if sig.Scheme != domain.SchemeSr25519 || len(sig.Bytes) != 64 {
		return false
	}
	var raw [64]byte
	copy(raw[:], sig.Bytes)
	decoded := new(schnorrkel.Signature)
	if err := decoded.Decode(raw); err != nil {
		return false
	}
	t := schnorrkel.NewSigningContext(signingContext, payload)
	ok, err := s.mini.Public().Verify(decoded, t)
	return err == nil && ok
}

func (s *Sr25519Signer) PublicKey() []byte {
	out := make([]byte, 32)
	copy(out, s.pub[:])
	return out
}

func (s *Sr25519Signer) Address(chain domain.ChainID) (domain.Address, error) {
	if domain.EcosystemOf(chain) != domain.EcosystemSubstrate {
		return domain.Address{}, fmt.Errorf("%w: sr25519 signer cannot address %s chain %s", domain.ErrUnsupportedChain, domain.EcosystemOf(chain), chain)
	}
	return domain.NewSubstrateAddress(s.pub[:], domain.SS58PrefixOf(chain))
}

func (s *Sr25519Signer) Scheme() domain.SignatureScheme { return domain.SchemeSr25519 }
