package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const (
	evmAddressLen       = 20
	substrateAddressLen = 32
)

// ss58Preamble is prepended before checksumming per the SS58 spec.
var ss58Preamble = []byte("SS58PRE")

// Address is the single account representation both adapters accept: a
// 20-byte EVM address or a 32-byte Substrate public key with its network
// prefix. Construction validates the source encoding; the value is
// immutable afterwards. Equality and map keys operate on the canonical
// bytes, never on a display string, so the same Substrate key rendered
// under two prefixes compares equal while EVM and Substrate values never do.
type Address struct {
	ecosystem Ecosystem
	raw       [substrateAddressLen]byte
	size      uint8
	prefix    uint16
}

// ParseAddress infers the ecosystem from the raw string: 0x-prefixed hex is
// EVM, anything else is decoded as SS58. Returns ErrInvalidFormat (wrapped)
// when neither decoding succeeds.
func ParseAddress(raw string) (Address, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return ParseEVMAddress(raw)
	}
	return ParseSS58Address(raw)
}

// ParseAddressFor parses with an explicit ecosystem hint, rejecting input
// that decodes under the other ecosystem's rules.
func ParseAddressFor(raw string, eco Ecosystem) (Address, error) {
	switch eco {
	case EcosystemEVM:
		return ParseEVMAddress(raw)
	case EcosystemSubstrate:
		return ParseSS58Address(raw)
	default:
		return Address{}, fmt.Errorf("%w: unknown ecosystem %q", ErrInvalidFormat, eco)
	}
}

// ParseEVMAddress validates a 0x-prefixed 40-hex-char address. Mixed-case
// input must satisfy the EIP-55 checksum; all-lowercase and all-uppercase
// forms are accepted without a checksum per common tooling behavior.
func ParseEVMAddress(raw string) (Address, error) {
	if len(raw) != 2+2*evmAddressLen || (raw[:2] != "0x" && raw[:2] != "0X") {
		return Address{}, fmt.Errorf("%w: evm address must be 0x + 40 hex chars, got %q", ErrInvalidFormat, raw)
	}
	body := raw[2:]
	b, err := hex.DecodeString(body)
	if err != nil {
		return Address{}, fmt.Errorf("%w: evm address %q: %v", ErrInvalidFormat, raw, err)
	}
	if hasMixedCase(body) && checksumEVM(b) != body {
		return Address{}, fmt.Errorf("%w: evm address %q fails EIP-55 checksum", ErrInvalidFormat, raw)
	}
	return newEVMAddress(b), nil
}

// ParseSS58Address decodes an SS58 string, verifying the blake2b checksum
// and that the embedded network prefix round-trips.
func ParseSS58Address(raw string) (Address, error) {
	data := base58.Decode(raw)
	if len(data) == 0 {
		return Address{}, fmt.Errorf("%w: %q is not valid base58", ErrInvalidFormat, raw)
	}
	prefix, prefixLen, err := decodeSS58Prefix(data)
	if err != nil {
		return Address{}, err
	}
	// simple account format: prefix + 32-byte key + 2-byte checksum
	if len(data) != prefixLen+substrateAddressLen+2 {
		return Address{}, fmt.Errorf("%w: ss58 payload length %d unsupported", ErrInvalidFormat, len(data))
	}
	body := data[:len(data)-2]
	sum := ss58Checksum(body)
	if !bytes.Equal(sum[:2], data[len(data)-2:]) {
		return Address{}, fmt.Errorf("%w: ss58 address %q fails checksum", ErrInvalidFormat, raw)
	}
	var a Address
	a.ecosystem = EcosystemSubstrate
	a.size = substrateAddressLen
	a.prefix = prefix
	copy(a.raw[:], body[prefixLen:])
	return a, nil
}

// NewEVMAddress wraps 20 raw bytes.
func NewEVMAddress(b []byte) (Address, error) {
	if len(b) != evmAddressLen {
		return Address{}, fmt.Errorf("%w: evm address needs %d bytes, got %d", ErrInvalidFormat, evmAddressLen, len(b))
	}
	return newEVMAddress(b), nil
}

// NewSubstrateAddress wraps a 32-byte public key under a network prefix.
func NewSubstrateAddress(pub []byte, prefix uint16) (Address, error) {
	if len(pub) != substrateAddressLen {
		return Address{}, fmt.Errorf("%w: substrate address needs %d bytes, got %d", ErrInvalidFormat, substrateAddressLen, len(pub))
	}
	var a Address
	a.ecosystem = EcosystemSubstrate
	a.size = substrateAddressLen
	a.prefix = prefix
	copy(a.raw[:], pub)
	return a, nil
}

func newEVMAddress(b []byte) Address {
	var a Address
	a.ecosystem = EcosystemEVM
	a.size = evmAddressLen
	copy(a.raw[:], b)
	return a
}

func (a Address) Ecosystem() Ecosystem { return a.ecosystem }

// Bytes returns a copy of the canonical bytes (20 or 32).
func (a Address) Bytes() []byte {
	out := make([]byte, a.size)
	copy(out, a.raw[:a.size])
	return out
}

// Prefix reports the SS58 network prefix; zero for EVM addresses.
func (a Address) Prefix() uint16 { return a.prefix }

func (a Address) IsZero() bool { return a.size == 0 }

// Equal compares canonical bytes within the same ecosystem. The SS58 prefix
// is a display concern and does not participate.
func (a Address) Equal(b Address) bool {
	return a.ecosystem == b.ecosystem && a.size == b.size && a.raw == b.raw
}

// Key returns a canonical form usable as a map key.
func (a Address) Key() string {
	return string(a.ecosystem) + ":" + hex.EncodeToString(a.raw[:a.size])
}

// WithPrefix re-targets a Substrate address to another network prefix (the
// key is unchanged, only the rendering). EVM addresses are returned as is.
func (a Address) WithPrefix(prefix uint16) Address {
	if a.ecosystem != EcosystemSubstrate {
		return a
	}
	a.prefix = prefix
	return a
}

// String renders the display form: lowercase 0x hex for EVM, SS58 under the
// address's prefix for Substrate. Pure projection, no side effects.
func (a Address) String() string {
	switch a.ecosystem {
	case EcosystemEVM:
		return "0x" + hex.EncodeToString(a.raw[:a.size])
	case EcosystemSubstrate:
		return encodeSS58(a.raw[:a.size], a.prefix)
	default:
		return ""
	}
}

// Checksummed renders an EVM address with its EIP-55 mixed-case checksum.
// Substrate addresses fall back to String.
func (a Address) Checksummed() string {
	if a.ecosystem != EcosystemEVM {
		return a.String()
	}
	return "0x" + checksumEVM(a.raw[:a.size])
}

func hasMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}

// checksumEVM produces the EIP-55 mixed-case hex body (no 0x prefix).
func checksumEVM(addr []byte) string {
	body := hex.EncodeToString(addr)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(body))
	digest := h.Sum(nil)
	out := []byte(body)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

func encodeSS58(pub []byte, prefix uint16) string {
	data := append(encodeSS58Prefix(prefix), pub...)
	sum := ss58Checksum(data)
	return base58.Encode(append(data, sum[:2]...))
}

// encodeSS58Prefix applies the one- or two-byte SS58 identifier encoding.
func encodeSS58Prefix(prefix uint16) []byte {
	ident := prefix & 0x3fff
	if ident < 64 {
		return []byte{byte(ident)}
	}
	return []byte{
		0x40 | byte((ident>>2)&0x3f),
		byte(ident>>8) | byte(ident&0x03)<<6,
	}
}

func decodeSS58Prefix(data []byte) (uint16, int, error) {
	switch {
	case len(data) == 0:
		return 0, 0, fmt.Errorf("%w: empty ss58 payload", ErrInvalidFormat)
	case data[0] < 64:
		return uint16(data[0]), 1, nil
	case data[0] < 128:
		if len(data) < 2 {
			return 0, 0, fmt.Errorf("%w: truncated ss58 prefix", ErrInvalidFormat)
		}
		lower := uint16(data[0]&0x3f)<<2 | uint16(data[1]>>6)
		upper := uint16(data[1]&0x3f) << 8
		return lower | upper, 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: reserved ss58 prefix byte %#x", ErrInvalidFormat, data[0])
	}
}

func ss58Checksum(data []byte) [64]byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Preamble)
	h.Write(data)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
