package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/signing"
)

// TxParams carries the resolved fields of a dynamic-fee transaction. The
// builder fills them from an intent plus live chain queries.
type TxParams struct {
	Nonce     uint64
	To        domain.Address
	Amount    *big.Int
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Data      []byte
}

// BuildSignedTx encodes an EIP-1559 transaction, signs its digest and
// returns the wire form ready for Submit. The signer must be ECDSA; the
// 65-byte recoverable signature goes straight into the typed envelope.
func BuildSignedTx(chain domain.ChainID, evmID *big.Int, signer signing.Signer, p TxParams) (*domain.SignedTransaction, error) {
	if signer.Scheme() != domain.SchemeECDSA {
		return nil, fmt.Errorf("%w: EVM transactions need an ECDSA signer, got %s", domain.ErrUnsupportedChain, signer.Scheme())
	}
	if p.To.Ecosystem() != domain.EcosystemEVM {
		return nil, fmt.Errorf("%w: destination is not an EVM address", domain.ErrInvalidFormat)
	}
	if p.GasLimit == 0 {
		p.GasLimit = DefaultTransferGas
	}
	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}

	to := common.HexToAddress(p.To.String())
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   evmID,
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.GasLimit,
		To:        &to,
		Value:     amount,
		Data:      p.Data,
	})

	ethSigner := types.LatestSignerForChainID(evmID)
	digest := ethSigner.Hash(tx)
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	signed, err := tx.WithSignature(ethSigner, sig.Bytes)
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	from, err := signer.Address(chain)
	if err != nil {
		return nil, err
	}
	nonce := p.Nonce
	return &domain.SignedTransaction{
		Chain:  chain,
		From:   domain.Account{Address: from, Chain: chain, Nonce: &nonce},
		To:     p.To,
		Amount: amount,
		Nonce:  p.Nonce,
		Hash:   domain.TxHash(signed.Hash().Hex()),
		Raw:    raw,
		Sig:    sig,
	}, nil
}
