package domain

import (
	"fmt"
	"strings"
)

// SignatureScheme distinguishes the three supported signing algorithms.
type SignatureScheme string

const (
	SchemeECDSA   SignatureScheme = "ecdsa-secp256k1"
	SchemeSr25519 SignatureScheme = "sr25519"
	SchemeEd25519 SignatureScheme = "ed25519"
)

// ParseScheme resolves the common spellings of a scheme name.
func ParseScheme(s string) (SignatureScheme, error) {
	switch strings.ToLower(s) {
	case "ecdsa", "secp256k1", "ecdsa-secp256k1":
		return SchemeECDSA, nil
	case "sr25519":
		return SchemeSr25519, nil
	case "ed25519":
		return SchemeEd25519, nil
	}
	return "", fmt.Errorf("%w: unknown signature scheme %q", ErrInvalidFormat, s)
}

// Signature is a tagged union over the supported schemes. ECDSA carries the
// 65-byte r||s||v recoverable form; SR25519 and Ed25519 carry 64 bytes.
type Signature struct {
	Scheme SignatureScheme
	Bytes  []byte
}

// NewSignature validates the byte length for the scheme.
func NewSignature(scheme SignatureScheme, b []byte) (Signature, error) {
	want := 64
	if scheme == SchemeECDSA {
		want = 65
	}
	if len(b) != want {
		return Signature{}, fmt.Errorf("%w: %s signature needs %d bytes, got %d", ErrInvalidFormat, scheme, want, len(b))
	}
	out := make([]byte, len(b))
	copy(out, b)
	return Signature{Scheme: scheme, Bytes: out}, nil
}

// EcosystemFor reports which ecosystem a scheme signs for.
func (s SignatureScheme) EcosystemFor() Ecosystem {
	if s == SchemeECDSA {
		return EcosystemEVM
	}
	return EcosystemSubstrate
}
