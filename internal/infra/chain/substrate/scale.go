// Package substrate adapts Substrate-based chains to the unified adapter
// contract over plain JSON-RPC. Only the narrow surface the SDK needs is
// implemented: header queries, System.Account storage reads, extrinsic
// submission and finality tracking. No runtime metadata is downloaded; the
// storage layout and call indices in use here are stable across the
// supported relay chains.
package substrate

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/vietddude/apex/internal/core/domain"
)

// compactEncode applies SCALE compact encoding to an unsigned integer.
// The shortest of the four modes is always chosen.
func compactEncode(n uint64) []byte {
	switch {
	case n < 1<<6:
		return []byte{byte(n) << 2}
	case n < 1<<14:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(n)<<2|0b01)
		return buf
	case n < 1<<30:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n)<<2|0b10)
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = (8-4)<<2 | 0b11
		binary.LittleEndian.PutUint64(buf[1:], n)
		return trimCompactBig(buf)
	}
}

// compactEncodeBig handles values beyond uint64 (u128 balances).
func compactEncodeBig(n *big.Int) ([]byte, error) {
	if n == nil || n.Sign() == 0 {
		return []byte{0}, nil
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: compact encoding is unsigned, got %s", domain.ErrInvalidFormat, n)
	}
	if n.IsUint64() {
		return compactEncode(n.Uint64()), nil
	}
	le := reverseBytes(n.Bytes())
	if len(le) > 67 {
		return nil, fmt.Errorf("%w: compact value exceeds 536 bits", domain.ErrInvalidFormat)
	}
	out := make([]byte, 0, 1+len(le))
	out = append(out, byte(len(le)-4)<<2|0b11)
	return append(out, le...), nil
}

// trimCompactBig strips trailing zero bytes from a big-integer-mode
// encoding and fixes up the length nibble.
func trimCompactBig(buf []byte) []byte {
	end := len(buf)
	for end > 5 && buf[end-1] == 0 {
		end--
	}
	buf[0] = byte(end-1-4)<<2 | 0b11
	return buf[:end]
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// twox128 is the xxhash64-based hasher Substrate uses for pallet and item
// name prefixes: two seeded xxhash64 runs concatenated little-endian.
func twox128(data []byte) []byte {
	h0 := xxhash.NewWithSeed(0)
	h0.Write(data)
	h1 := xxhash.NewWithSeed(1)
	h1.Write(data)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], h0.Sum64())
	binary.LittleEndian.PutUint64(out[8:], h1.Sum64())
	return out
}

// blake2b128Concat is the map-key hasher for System.Account: a 16-byte
// blake2b digest followed by the key itself so the key stays recoverable.
func blake2b128Concat(key []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(key)
	return append(h.Sum(nil), key...)
}

// systemAccountKey builds the full storage key for System.Account(account).
func systemAccountKey(accountID []byte) []byte {
	key := make([]byte, 0, 32+16+len(accountID))
	key = append(key, twox128([]byte("System"))...)
	key = append(key, twox128([]byte("Account"))...)
	return append(key, blake2b128Concat(accountID)...)
}

// accountInfoMinLen covers nonce, consumers, providers, sufficients (u32
// each) and the free balance (u128) of AccountData.
const accountInfoMinLen = 32

// decodeAccountInfo extracts the nonce and free balance from a SCALE
// encoded frame_system::AccountInfo. All leading fields are fixed width,
// so plain offsets suffice without metadata.
func decodeAccountInfo(data []byte) (nonce uint64, free *big.Int, err error) {
	if len(data) < accountInfoMinLen {
		return 0, nil, fmt.Errorf("%w: account info needs %d bytes, got %d", domain.ErrInvalidFormat, accountInfoMinLen, len(data))
	}
	nonce = uint64(binary.LittleEndian.Uint32(data[0:4]))
	free = new(big.Int).SetBytes(reverseBytes(data[16:32]))
	return nonce, free, nil
}

// blake2b256 hashes extrinsic bytes the way the chain derives extrinsic
// and block hashes.
func blake2b256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}
