package signing

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vietddude/apex/internal/core/domain"
)

// DefaultEVMPath is the ecosystem-standard BIP-44 path for the first
// Ethereum account.
const DefaultEVMPath = "m/44'/60'/0'/0/0"

const hardenedOffset = uint32(hdkeychain.HardenedKeyStart)

// deriveECDSAKey walks a BIP-44 style path from a BIP-39 seed and returns
// the raw 32-byte secp256k1 private key. Identical (seed, path) inputs
// always produce identical keys.
func deriveECDSAKey(seed []byte, path string) ([]byte, error) {
	indices, err := parseBIP44Path(path)
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("bip32 master: %w", err)
	}
	for _, idx := range indices {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("bip32 derive index %d: %w", idx, err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("bip32 private key: %w", err)
	}
	return priv.Serialize(), nil
}

// parseBIP44Path accepts "m/44'/60'/0'/0/0" style paths; an apostrophe or
// trailing "h" marks a hardened index.
func parseBIP44Path(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: derivation path must start with m/, got %q", domain.ErrInvalidFormat, path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			return nil, fmt.Errorf("%w: empty path segment in %q", domain.ErrInvalidFormat, path)
		}
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			hardened = true
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: path segment %q: %v", domain.ErrInvalidFormat, part, err)
		}
		idx := uint32(n)
		if hardened {
			idx += hardenedOffset
		}
		out = append(out, idx)
	}
	return out, nil
}

// substrateMiniSecret reproduces the Substrate mnemonic-to-seed scheme:
// PBKDF2-SHA512 over the mnemonic ENTROPY (not the phrase, which is where
// it deviates from plain BIP-39), truncated to the 32-byte mini secret.
func substrateMiniSecret(mnemonic, password string) ([32]byte, error) {
	var out [32]byte
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	seed := pbkdf2.Key(entropy, []byte("mnemonic"+password), 2048, 64, sha512.New)
	copy(out[:], seed[:32])
	return out, nil
}

// parseJunctions splits a "//alice//stash" suffix into hard junctions.
// Soft junctions ("/one-slash") are rejected: the SDK derives hard paths
// only, matching what both supported schemes can do.
func parseJunctions(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: substrate derivation path must start with //, got %q", domain.ErrInvalidFormat, path)
	}
	var junctions []string
	rest := path
	for rest != "" {
		if !strings.HasPrefix(rest, "//") {
			return nil, fmt.Errorf("%w: soft junctions are not supported in %q", domain.ErrInvalidFormat, path)
		}
		rest = rest[2:]
		end := strings.Index(rest, "/")
		if end == -1 {
			end = len(rest)
		}
		if end == 0 {
			return nil, fmt.Errorf("%w: empty junction in %q", domain.ErrInvalidFormat, path)
		}
		junctions = append(junctions, rest[:end])
		rest = rest[end:]
	}
	return junctions, nil
}

// junctionChainCode encodes one junction the way Substrate does: numeric
// junctions as SCALE u64, everything else as a SCALE byte string; encodings
// longer than 32 bytes are blake2b-hashed, shorter ones zero-padded.
func junctionChainCode(j string) [32]byte {
	var enc []byte
	if n, err := strconv.ParseUint(j, 10, 64); err == nil && strconv.FormatUint(n, 10) == j {
		enc = make([]byte, 8)
		binary.LittleEndian.PutUint64(enc, n)
	} else {
		enc = append(scaleCompactLen(len(j)), []byte(j)...)
	}
	var cc [32]byte
	if len(enc) > 32 {
		cc = blake2b.Sum256(enc)
	} else {
		copy(cc[:], enc)
	}
	return cc
}

// scaleCompactLen emits the SCALE compact encoding for small lengths; two
// modes cover every junction string that fits a chain code.
func scaleCompactLen(n int) []byte {
	if n < 1<<6 {
		return []byte{byte(n) << 2}
	}
	v := uint16(n)<<2 | 0x01
	return []byte{byte(v), byte(v >> 8)}
}

func schnorrkelMini(seed [32]byte) (*schnorrkel.MiniSecretKey, error) {
	return schnorrkel.NewMiniSecretKeyFromRaw(seed)
}

// deriveSr25519 applies hard HDKD junctions to a mini secret.
func deriveSr25519(mini *schnorrkel.MiniSecretKey, junctions []string) (*schnorrkel.MiniSecretKey, error) {
	out := mini
	for _, j := range junctions {
		next, _, err := out.HardDeriveMiniSecretKey(nil, junctionChainCode(j))
		if err != nil {
			return nil, fmt.Errorf("sr25519 hard derive %q: %w", j, err)
		}
		out = next
	}
	return out, nil
}

// deriveEd25519Seed applies the Ed25519 HDKD construction: each junction
// hashes ("Ed25519HDKD", seed, chain-code) SCALE-encoded into the next seed.
func deriveEd25519Seed(seed [32]byte, junctions []string) [32]byte {
	label := "Ed25519HDKD"
	for _, j := range junctions {
		cc := junctionChainCode(j)
		buf := make([]byte, 0, 1+len(label)+64)
		buf = append(buf, scaleCompactLen(len(label))...)
		buf = append(buf, label...)
		buf = append(buf, seed[:]...)
		buf = append(buf, cc[:]...)
		seed = blake2b.Sum256(buf)
	}
	return seed
}
