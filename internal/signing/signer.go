// Package signing provides the polymorphic signing capability over the two
// cryptographic families the SDK supports: ECDSA/secp256k1 for EVM chains
// and SR25519/Ed25519 for Substrate chains. Signers are immutable; every
// Sign call is independent and never mutates the signer.
package signing

import (
	"github.com/vietddude/apex/internal/core/domain"
)

// Signer is the capability surface the transaction builder depends on.
//
// Sign consumes the chain-native signing payload. The ECDSA variant expects
// the 32-byte digest prepared by the transaction codec; Substrate variants
// sign arbitrary bytes (the extrinsic codec pre-hashes payloads over 256
// bytes per the Substrate convention). Sign returns ErrSigningUnavailable
// when key material cannot be used right now; callers may retry.
type Signer interface {
	Sign(payload []byte) (domain.Signature, error)
	PublicKey() []byte
	Address(chain domain.ChainID) (domain.Address, error)
	Scheme() domain.SignatureScheme
}
