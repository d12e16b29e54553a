// Package evm adapts account-based EVM chains to the unified adapter
// contract: JSON-RPC queries, raw-transaction submission and depth-based
// confirmation with a reorg guard.
package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	logger "log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/rpc"
	"github.com/vietddude/apex/internal/metrics"
)

// DefaultTransferGas is the intrinsic gas of a plain value transfer.
const DefaultTransferGas = 21000

type EVMAdapter struct {
	chainID domain.ChainID
	evmID   *big.Int
	client  rpc.RPCClient
	bus     *events.Bus
	log     logger.Logger
}

// NewEVMAdapter builds an adapter for one EVM chain. A nil bus gets a
// private one so SubscribeEvents always works.
func NewEVMAdapter(chainID domain.ChainID, client rpc.RPCClient, bus *events.Bus) (*EVMAdapter, error) {
	if domain.EcosystemOf(chainID) != domain.EcosystemEVM {
		return nil, fmt.Errorf("%w: %s is not an EVM chain", domain.ErrUnsupportedChain, chainID)
	}
	evmID, ok := new(big.Int).SetString(string(chainID), 10)
	if !ok {
		return nil, fmt.Errorf("%w: EVM chain id must be decimal, got %q", domain.ErrInvalidFormat, chainID)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &EVMAdapter{
		chainID: chainID,
		evmID:   evmID,
		client:  client,
		bus:     bus,
		log:     *logger.Default(),
	}, nil
}

func (a *EVMAdapter) ChainID() domain.ChainID {
	return a.chainID
}

func (a *EVMAdapter) Ecosystem() domain.Ecosystem {
	return domain.EcosystemEVM
}

// NumericChainID returns the EIP-155 chain id used for signing.
func (a *EVMAdapter) NumericChainID() *big.Int {
	return new(big.Int).Set(a.evmID)
}

func (a *EVMAdapter) LatestBlock(ctx context.Context) (*domain.Block, error) {
	op := rpc.NewHTTPOperation("eth_getBlockByNumber", []any{"latest", false})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	rawBlock, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid block format")
	}
	return a.parseBlock(rawBlock), nil
}

func (a *EVMAdapter) parseBlock(raw map[string]any) *domain.Block {
	number, _ := parseHexString(getString(raw["number"]))
	timestamp, _ := parseHexString(getString(raw["timestamp"]))

	return &domain.Block{
		ChainID:    a.chainID,
		Number:     number,
		Hash:       getString(raw["hash"]),
		ParentHash: getString(raw["parentHash"]),
		Timestamp:  timestamp,
	}
}

func (a *EVMAdapter) Balance(ctx context.Context, account domain.Account) (*big.Int, error) {
	if account.Address.Ecosystem() != domain.EcosystemEVM {
		return nil, fmt.Errorf("%w: account is not an EVM address", domain.ErrInvalidFormat)
	}
	op := rpc.NewHTTPOperation("eth_getBalance", []any{account.Address.String(), "latest"})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	balanceHex, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("invalid balance response")
	}
	return parseHexToBigInt(balanceHex)
}

// Nonce returns the next usable nonce, counting mempool transactions so
// sequential submissions do not collide.
func (a *EVMAdapter) Nonce(ctx context.Context, account domain.Account) (uint64, error) {
	if account.Address.Ecosystem() != domain.EcosystemEVM {
		return 0, fmt.Errorf("%w: account is not an EVM address", domain.ErrInvalidFormat)
	}
	op := rpc.NewHTTPOperation("eth_getTransactionCount", []any{account.Address.String(), "pending"})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount failed: %w", err)
	}
	nonceHex, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("invalid nonce response")
	}
	return parseHexString(nonceHex)
}

func (a *EVMAdapter) Submit(ctx context.Context, tx *domain.SignedTransaction) (domain.TxHash, error) {
	if len(tx.Raw) == 0 {
		return "", fmt.Errorf("%w: empty raw transaction", domain.ErrInvalidFormat)
	}

	rawHex := "0x" + hex.EncodeToString(tx.Raw)
	op := rpc.NewHTTPOperation("eth_sendRawTransaction", []any{rawHex})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		mapped := mapSubmitError(err)
		// The node already has this exact transaction; the submission
		// it refers to is ours, so report the hash we computed.
		if errors.Is(mapped, errAlreadyKnown) && tx.Hash != "" {
			a.emitSubmitted(tx)
			return tx.Hash, nil
		}
		if errors.Is(mapped, domain.ErrNonceConflict) {
			metrics.NonceConflicts.WithLabelValues(string(a.chainID)).Inc()
		}
		return "", mapped
	}

	hashHex, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("invalid submit response")
	}

	metrics.TxSubmitted.WithLabelValues(string(a.chainID)).Inc()
	a.emitSubmitted(tx)
	return domain.TxHash(hashHex), nil
}

func (a *EVMAdapter) TxStatus(ctx context.Context, hash domain.TxHash) (*domain.Receipt, error) {
	op := rpc.NewHTTPOperation("eth_getTransactionReceipt", []any{string(hash)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}

	if result == nil {
		return a.mempoolStatus(ctx, hash)
	}
	rawReceipt, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid receipt format")
	}

	receipt := a.parseReceipt(hash, rawReceipt)
	if receipt.Status == domain.TxStatusFailed {
		return receipt, nil
	}

	head, err := a.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if head.Number >= receipt.BlockNumber {
		receipt.Confirmations = head.Number - receipt.BlockNumber + 1
	}
	depth := domain.DefaultConfirmPolicy(a.chainID).Depth
	if receipt.BlockNumber > 0 && head.Number >= receipt.BlockNumber+depth {
		receipt.Status = domain.TxStatusFinalized
	}
	return receipt, nil
}

// mempoolStatus distinguishes a transaction the node has but has not mined
// from one it has never seen.
func (a *EVMAdapter) mempoolStatus(ctx context.Context, hash domain.TxHash) (*domain.Receipt, error) {
	op := rpc.NewHTTPOperation("eth_getTransactionByHash", []any{string(hash)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash failed: %w", err)
	}

	receipt := &domain.Receipt{TxHash: hash, ChainID: a.chainID, Status: domain.TxStatusUnknown}
	if rawTx, ok := result.(map[string]any); ok && rawTx != nil {
		if getString(rawTx["blockHash"]) == "" {
			receipt.Status = domain.TxStatusInMempool
		} else {
			// Mined between the two calls; the next poll sees the receipt.
			receipt.Status = domain.TxStatusPending
		}
	}
	return receipt, nil
}

func (a *EVMAdapter) parseReceipt(hash domain.TxHash, raw map[string]any) *domain.Receipt {
	blockNumber, _ := parseHexString(getString(raw["blockNumber"]))
	gasUsed, _ := parseHexString(getString(raw["gasUsed"]))

	receipt := &domain.Receipt{
		TxHash:      hash,
		ChainID:     a.chainID,
		Status:      domain.TxStatusConfirmed,
		BlockNumber: blockNumber,
		BlockHash:   getString(raw["blockHash"]),
		GasUsed:     gasUsed,
	}

	if getString(raw["status"]) == "0x0" {
		receipt.Status = domain.TxStatusFailed
		receipt.FailureReason = "execution reverted"
	}

	if effective, err := parseHexToBigInt(getString(raw["effectiveGasPrice"])); err == nil && gasUsed > 0 {
		receipt.Fee = new(big.Int).Mul(effective, new(big.Int).SetUint64(gasUsed))
	}
	return receipt
}

// WaitForConfirmation polls until Depth blocks are built on top of a
// stable inclusion block. A reorg that moves the transaction to another
// block restarts the count; one that drops it entirely sends the wait back
// to watching the mempool.
func (a *EVMAdapter) WaitForConfirmation(ctx context.Context, hash domain.TxHash, policy domain.ConfirmPolicy) (*domain.Receipt, error) {
	if policy.PollInterval <= 0 {
		policy.PollInterval = domain.DefaultConfirmPolicy(a.chainID).PollInterval
	}
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	var inclusionHash string
	for {
		receipt, err := a.pollOnce(ctx, hash, policy.Depth, &inclusionHash)
		if err != nil {
			if ctxErr := confirmationCtxErr(ctx, err); ctxErr != nil {
				return nil, ctxErr
			}
			a.log.Warn("confirmation poll failed", "chain", a.chainID, "tx", hash, "error", err)
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s not confirmed on %s", domain.ErrConfirmationTimeout, hash, a.chainID)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce returns a non-nil receipt when the policy is met or the
// transaction failed. inclusionHash carries the block hash across polls so
// a reorg is observable.
func (a *EVMAdapter) pollOnce(ctx context.Context, hash domain.TxHash, depth uint64, inclusionHash *string) (*domain.Receipt, error) {
	op := rpc.NewHTTPOperation("eth_getTransactionReceipt", []any{string(hash)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	if result == nil {
		*inclusionHash = ""
		return nil, nil
	}
	rawReceipt, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid receipt format")
	}

	receipt := a.parseReceipt(hash, rawReceipt)
	if receipt.Status == domain.TxStatusFailed {
		metrics.TxFailed.WithLabelValues(string(a.chainID)).Inc()
		a.emitLifecycle(domain.EventTypeTransactionFailed, hash, receipt.BlockNumber)
		return receipt, nil
	}

	if *inclusionHash != "" && *inclusionHash != receipt.BlockHash {
		a.log.Warn("reorg moved transaction", "chain", a.chainID, "tx", hash,
			"old_block", *inclusionHash, "new_block", receipt.BlockHash)
	}
	*inclusionHash = receipt.BlockHash

	head, err := a.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if head.Number < receipt.BlockNumber+depth {
		return nil, nil
	}

	// Depth reached; re-check the inclusion block is still canonical
	// before declaring finality.
	stable, err := a.verifyBlockHash(ctx, receipt.BlockNumber, receipt.BlockHash)
	if err != nil {
		return nil, err
	}
	if !stable {
		*inclusionHash = ""
		return nil, nil
	}

	receipt.Confirmations = head.Number - receipt.BlockNumber + 1
	receipt.Status = domain.TxStatusFinalized
	metrics.TxConfirmed.WithLabelValues(string(a.chainID)).Inc()
	a.emitLifecycle(domain.EventTypeTransactionConfirmed, hash, receipt.BlockNumber)
	return receipt, nil
}

func (a *EVMAdapter) verifyBlockHash(ctx context.Context, blockNumber uint64, expectedHash string) (bool, error) {
	blockHex := fmt.Sprintf("0x%x", blockNumber)
	op := rpc.NewHTTPOperation("eth_getBlockByNumber", []any{blockHex, false})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return false, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	rawBlock, ok := result.(map[string]any)
	if !ok {
		return false, fmt.Errorf("block not found for verification")
	}
	return getString(rawBlock["hash"]) == expectedHash, nil
}

// EstimateFee predicts gas_price * gas_limit for the intent. Contract
// calls without an explicit limit are estimated through the node.
func (a *EVMAdapter) EstimateFee(ctx context.Context, intent *domain.TransactionIntent) (*big.Int, error) {
	gasPrice, err := a.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := a.GasLimitFor(ctx, intent)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit)), nil
}

// GasLimitFor resolves the gas limit for an intent: the explicit limit
// when set, the flat transfer cost for plain sends, eth_estimateGas for
// contract calls.
func (a *EVMAdapter) GasLimitFor(ctx context.Context, intent *domain.TransactionIntent) (uint64, error) {
	if intent.GasLimit > 0 {
		return intent.GasLimit, nil
	}
	if len(intent.CallData) > 0 {
		return a.estimateGas(ctx, intent)
	}
	return DefaultTransferGas, nil
}

// GasPrice returns the node's suggested gas price.
func (a *EVMAdapter) GasPrice(ctx context.Context) (*big.Int, error) {
	op := rpc.NewHTTPOperation("eth_gasPrice", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_gasPrice failed: %w", err)
	}
	priceHex, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("invalid gas price response")
	}
	return parseHexToBigInt(priceHex)
}

// SuggestFees returns (fee cap, tip) for a dynamic-fee transaction. The
// cap carries 2x headroom over the suggested price so the transaction
// survives a base-fee climb while pending.
func (a *EVMAdapter) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	gasPrice, err := a.GasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}

	tip := new(big.Int).Div(gasPrice, big.NewInt(10))
	op := rpc.NewHTTPOperation("eth_maxPriorityFeePerGas", nil)
	if result, err := a.client.Execute(ctx, op); err == nil {
		if tipHex, ok := result.(string); ok {
			if suggested, err := parseHexToBigInt(tipHex); err == nil {
				tip = suggested
			}
		}
	}

	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}
	return feeCap, tip, nil
}

func (a *EVMAdapter) estimateGas(ctx context.Context, intent *domain.TransactionIntent) (uint64, error) {
	call := map[string]any{
		"from": intent.Source.Address.String(),
		"to":   intent.Destination.Address.String(),
		"data": "0x" + hex.EncodeToString(intent.CallData),
	}
	if intent.Amount != nil && intent.Amount.Sign() > 0 {
		call["value"] = "0x" + intent.Amount.Text(16)
	}

	op := rpc.NewHTTPOperation("eth_estimateGas", []any{call})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("eth_estimateGas failed: %w", err)
	}
	gasHex, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("invalid gas estimate response")
	}
	return parseHexString(gasHex)
}

func (a *EVMAdapter) ValidateAddress(raw string) (domain.Address, error) {
	return domain.ParseEVMAddress(raw)
}

// SubscribeEvents streams this chain's events. The filter's chain set is
// forced to this chain.
func (a *EVMAdapter) SubscribeEvents(filter events.Filter) (*events.Subscription, error) {
	filter.Chains = []domain.ChainID{a.chainID}
	return a.bus.Subscribe(filter), nil
}

func (a *EVMAdapter) emitSubmitted(tx *domain.SignedTransaction) {
	ev := &domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeTransactionSubmitted,
		ChainID:   a.chainID,
		TxHash:    tx.Hash,
		Address:   tx.From.Address.String(),
		EmittedAt: time.Now(),
	}
	if err := a.bus.Emit(context.Background(), ev); err != nil {
		a.log.Warn("event emit failed", "chain", a.chainID, "error", err)
	}
}

func (a *EVMAdapter) emitLifecycle(eventType domain.EventType, hash domain.TxHash, blockNumber uint64) {
	ev := &domain.Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		ChainID:     a.chainID,
		TxHash:      hash,
		BlockNumber: blockNumber,
		EmittedAt:   time.Now(),
	}
	if err := a.bus.Emit(context.Background(), ev); err != nil {
		a.log.Warn("event emit failed", "chain", a.chainID, "error", err)
	}
}

// errAlreadyKnown marks a resubmission of bytes the node already holds.
var errAlreadyKnown = errors.New("transaction already known")

// mapSubmitError lifts node rejection strings into the typed taxonomy.
// The raw reason stays available through the wrapped NodeError.
func mapSubmitError(err error) error {
	node, ok := domain.AsNodeError(err)
	if !ok {
		return err
	}

	reason := strings.ToLower(node.Reason)
	switch {
	case strings.Contains(reason, "nonce too low"),
		strings.Contains(reason, "invalid nonce"),
		strings.Contains(reason, "replacement transaction underpriced"):
		return fmt.Errorf("%w: %w", domain.ErrNonceConflict, err)
	case strings.Contains(reason, "insufficient funds"):
		return fmt.Errorf("%w: %w", domain.ErrInsufficientFunds, err)
	case strings.Contains(reason, "already known"),
		strings.Contains(reason, "known transaction"):
		return fmt.Errorf("%w: %w", errAlreadyKnown, err)
	default:
		return err
	}
}

func confirmationCtxErr(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrConfirmationTimeout, err)
	}
	return ctx.Err()
}

func parseHexToBigInt(hexStr string) (*big.Int, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(hexStr, "0x"), 16); !ok {
		return nil, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return n, nil
}

func parseHexString(hexStr string) (uint64, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(hexStr, "0x"), 16); !ok {
		return 0, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return n.Uint64(), nil
}

func getString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
