package substrate

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/signing"
)

// extrinsicV4Signed is the version byte of a signed v4 extrinsic.
const extrinsicV4Signed = 0x84

// multiAddressID tags MultiAddress::Id, the 32-byte AccountId variant.
const multiAddressID = 0x00

// immortalEra keeps extrinsics valid until included. Mortal eras would
// need the current block hash in the signing payload and re-signing on
// expiry; the executor relies on nonce serialization instead.
const immortalEra = 0x00

// signingPayloadHashThreshold: payloads longer than this are signed via
// their blake2b-256 digest per the Substrate convention.
const signingPayloadHashThreshold = 256

// Signature scheme tags inside MultiSignature.
const (
	sigTagEd25519 = 0x00
	sigTagSr25519 = 0x01
)

// CallIndex locates a dispatchable in the runtime: pallet index and
// method index within the pallet.
type CallIndex struct {
	Pallet byte
	Method byte
}

// transferCallIndices maps chains to their Balances.transfer_keep_alive
// location. Relay chains differ because pallet order differs between
// runtimes; chains not listed use the Polkadot layout.
var transferCallIndices = map[domain.ChainID]CallIndex{
	domain.ChainIDPolkadot: {Pallet: 5, Method: 3},
	domain.ChainIDKusama:   {Pallet: 4, Method: 3},
	domain.ChainIDWestend:  {Pallet: 4, Method: 3},
	domain.ChainIDAcala:    {Pallet: 10, Method: 3},
}

// TransferCallIndex returns the Balances.transfer_keep_alive call index
// for a chain.
func TransferCallIndex(chain domain.ChainID) CallIndex {
	if idx, ok := transferCallIndices[chain]; ok {
		return idx
	}
	return CallIndex{Pallet: 5, Method: 3}
}

// RuntimeContext carries the runtime facts an offline signer needs. The
// adapter fetches and caches it; a spec bump invalidates signatures made
// under the old context.
type RuntimeContext struct {
	SpecVersion uint32
	TxVersion   uint32
	GenesisHash []byte
}

func (rt RuntimeContext) validate() error {
	if len(rt.GenesisHash) != 32 {
		return fmt.Errorf("%w: genesis hash must be 32 bytes, got %d", domain.ErrInvalidFormat, len(rt.GenesisHash))
	}
	return nil
}

// ExtrinsicParams are the per-submission inputs of a balance transfer.
type ExtrinsicParams struct {
	To     domain.Address
	Amount *big.Int
	Nonce  uint64
	Tip    *big.Int
}

// encodeTransferCall produces pallet/method bytes, MultiAddress::Id
// destination and the compact amount.
func encodeTransferCall(idx CallIndex, to domain.Address, amount *big.Int) ([]byte, error) {
	if to.Ecosystem() != domain.EcosystemSubstrate {
		return nil, fmt.Errorf("%w: destination is not a Substrate address", domain.ErrInvalidFormat)
	}
	compactAmount, err := compactEncodeBig(amount)
	if err != nil {
		return nil, err
	}

	call := make([]byte, 0, 2+1+32+len(compactAmount))
	call = append(call, idx.Pallet, idx.Method)
	call = append(call, multiAddressID)
	call = append(call, to.Bytes()...)
	return append(call, compactAmount...), nil
}

// encodeExtra is the signed-extension data included both in the payload
// and in the extrinsic body: era, compact nonce, compact tip.
func encodeExtra(nonce uint64, tip *big.Int) ([]byte, error) {
	compactTip, err := compactEncodeBig(tip)
	if err != nil {
		return nil, err
	}
	extra := []byte{immortalEra}
	extra = append(extra, compactEncode(nonce)...)
	return append(extra, compactTip...), nil
}

// signingPayload assembles call ++ extra ++ additional. For an immortal
// era the checkpoint block hash is the genesis hash.
func signingPayload(call, extra []byte, rt RuntimeContext) []byte {
	payload := make([]byte, 0, len(call)+len(extra)+8+64)
	payload = append(payload, call...)
	payload = append(payload, extra...)
	payload = binary.LittleEndian.AppendUint32(payload, rt.SpecVersion)
	payload = binary.LittleEndian.AppendUint32(payload, rt.TxVersion)
	payload = append(payload, rt.GenesisHash...)
	payload = append(payload, rt.GenesisHash...)

	if len(payload) > signingPayloadHashThreshold {
		return blake2b256(payload)
	}
	return payload
}

func sigTag(scheme domain.SignatureScheme) (byte, error) {
	switch scheme {
	case domain.SchemeSr25519:
		return sigTagSr25519, nil
	case domain.SchemeEd25519:
		return sigTagEd25519, nil
	default:
		return 0, fmt.Errorf("%w: %s cannot sign Substrate extrinsics", domain.ErrUnsupportedChain, scheme)
	}
}

// assembleExtrinsic wraps the signed pieces into the length-prefixed v4
// wire form.
func assembleExtrinsic(signerPub []byte, tag byte, sig []byte, extra, call []byte) []byte {
	body := make([]byte, 0, 1+1+32+1+64+len(extra)+len(call))
	body = append(body, extrinsicV4Signed)
	body = append(body, multiAddressID)
	body = append(body, signerPub...)
	body = append(body, tag)
	body = append(body, sig...)
	body = append(body, extra...)
	body = append(body, call...)

	full := compactEncode(uint64(len(body)))
	return append(full, body...)
}

// BuildTransferExtrinsic signs a Balances.transfer_keep_alive and returns
// the wire-ready transaction. The hash is the blake2b-256 of the exact
// bytes submitted, matching what the node reports back.
func BuildTransferExtrinsic(chain domain.ChainID, signer signing.Signer, rt RuntimeContext, p ExtrinsicParams) (*domain.SignedTransaction, error) {
	if err := rt.validate(); err != nil {
		return nil, err
	}
	tag, err := sigTag(signer.Scheme())
	if err != nil {
		return nil, err
	}

	call, err := encodeTransferCall(TransferCallIndex(chain), p.To, p.Amount)
	if err != nil {
		return nil, err
	}
	extra, err := encodeExtra(p.Nonce, p.Tip)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(signingPayload(call, extra, rt))
	if err != nil {
		return nil, fmt.Errorf("sign extrinsic: %w", err)
	}

	pub := signer.PublicKey()
	if len(pub) != 32 {
		return nil, fmt.Errorf("%w: substrate signer public key must be 32 bytes, got %d", domain.ErrInvalidFormat, len(pub))
	}
	raw := assembleExtrinsic(pub, tag, sig.Bytes, extra, call)

	from, err := signer.Address(chain)
	if err != nil {
		return nil, err
	}
	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	nonce := p.Nonce
	return &domain.SignedTransaction{
		Chain:  chain,
		From:   domain.Account{Address: from, Chain: chain, Nonce: &nonce},
		To:     p.To,
		Amount: amount,
		Nonce:  p.Nonce,
		Hash:   domain.TxHash("0x" + hex.EncodeToString(blake2b256(raw))),
		Raw:    raw,
		Sig:    sig,
	}, nil
}

// BuildEstimationExtrinsic assembles a transfer with a zeroed sr25519
// signature, sized identically to the real one, for payment_queryInfo.
func BuildEstimationExtrinsic(chain domain.ChainID, from domain.Address, p ExtrinsicParams) ([]byte, error) {
	if from.Ecosystem() != domain.EcosystemSubstrate {
		return nil, fmt.Errorf("%w: source is not a Substrate address", domain.ErrInvalidFormat)
	}
	call, err := encodeTransferCall(TransferCallIndex(chain), p.To, p.Amount)
	if err != nil {
		return nil, err
	}
	extra, err := encodeExtra(p.Nonce, p.Tip)
	if err != nil {
		return nil, err
	}
	var zeroSig [64]byte
	return assembleExtrinsic(from.Bytes(), sigTagSr25519, zeroSig[:], extra, call), nil
}
