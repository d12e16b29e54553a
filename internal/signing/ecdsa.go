package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/apex/internal/core/domain"
)

// ECDSASigner signs 32-byte digests on secp256k1 with the deterministic
// nonce scheme go-ethereum implements (RFC 6979 style), producing the
// 65-byte r||s||v recoverable form EVM transactions carry.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

// NewECDSASigner wraps an existing private key.
func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

// NewECDSASignerFromBytes builds a signer from a raw 32-byte private key.
func NewECDSASignerFromBytes(b []byte) (*ECDSASigner, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	return &ECDSASigner{key: key}, nil
}

func (s *ECDSASigner) Sign(payload []byte) (domain.Signature, error) {
	if s.key == nil {
		return domain.Signature{}, domain.ErrSigningUnavailable
	}
	if len(payload) != 32 {
		return domain.Signature{}, fmt.Errorf("%w: ecdsa payload must be a 32-byte digest, got %d bytes", domain.ErrInvalidFormat, len(payload))
	}
	sig, err := crypto.Sign(payload, s.key)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("ecdsa sign: %w", err)
	}
	return domain.NewSignature(domain.SchemeECDSA, sig)
}

// PublicKey returns the uncompressed 65-byte secp256k1 public key.
func (s *ECDSASigner) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

func (s *ECDSASigner) Address(chain domain.ChainID) (domain.Address, error) {
	if domain.EcosystemOf(chain) != domain.EcosystemEVM {
		return domain.Address{}, fmt.Errorf("%w: ecdsa signer cannot address %s chain %s", domain.ErrUnsupportedChain, domain.EcosystemOf(chain), chain)
	}
	addr := crypto.PubkeyToAddress(s.key.PublicKey)
	return domain.NewEVMAddress(addr.Bytes())
}

func (s *ECDSASigner) Scheme() domain.SignatureScheme { return domain.SchemeECDSA }
