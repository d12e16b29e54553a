package substrate

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/rpc"
	"github.com/vietddude/apex/internal/metrics"
)

// Substrate transaction-pool rejection codes.
const (
	poolInvalidTx       = 1010
	poolAlreadyImported = 1013
	poolTooLowPriority  = 1014
)

// DefaultTxScanDepth bounds how far back TxStatus searches for an
// extrinsic. Blocks older than this window report Unknown.
const DefaultTxScanDepth = 100

// waitBackscanDepth is how many already-finalized blocks a fresh
// confirmation wait re-checks, covering submissions that finalized between
// Submit and the first poll. Resuming an old wait goes through TxStatus.
const waitBackscanDepth = 16

// fallbackFeePlanck is returned when the node does not expose
// payment_queryInfo. Generous for a transfer on every supported chain.
const fallbackFeePlanck = 1_000_000

// getBlockCost is the quota weight of chain_getBlock, which returns full
// block bodies.
const getBlockCost = 3

type SubstrateAdapter struct {
	chainID domain.ChainID
	prefix  uint16
	client  rpc.RPCClient
	bus     *events.Bus
	log     logger.Logger

	scanDepth uint64

	mu      sync.Mutex
	runtime *RuntimeContext
}

// NewSubstrateAdapter builds an adapter for one Substrate chain. A nil
// bus gets a private one so SubscribeEvents always works.
func NewSubstrateAdapter(chainID domain.ChainID, client rpc.RPCClient, bus *events.Bus) (*SubstrateAdapter, error) {
	if domain.EcosystemOf(chainID) != domain.EcosystemSubstrate {
		return nil, fmt.Errorf("%w: %s is not a Substrate chain", domain.ErrUnsupportedChain, chainID)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &SubstrateAdapter{
		chainID:   chainID,
		prefix:    domain.SS58PrefixOf(chainID),
		client:    client,
		bus:       bus,
		log:       *logger.Default(),
		scanDepth: DefaultTxScanDepth,
	}, nil
}

func (a *SubstrateAdapter) ChainID() domain.ChainID {
	return a.chainID
}

func (a *SubstrateAdapter) Ecosystem() domain.Ecosystem {
	return domain.EcosystemSubstrate
}

// Runtime returns the cached runtime context, fetching it on first use.
// Call InvalidateRuntime after a rejected signature to pick up a runtime
// upgrade.
func (a *SubstrateAdapter) Runtime(ctx context.Context) (RuntimeContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtime != nil {
		return *a.runtime, nil
	}

	op := rpc.NewHTTPOperation("state_getRuntimeVersion", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return RuntimeContext{}, fmt.Errorf("state_getRuntimeVersion failed: %w", err)
	}
	version, ok := result.(map[string]any)
	if !ok {
		return RuntimeContext{}, fmt.Errorf("invalid runtime version format")
	}
	spec, ok := version["specVersion"].(float64)
	if !ok {
		return RuntimeContext{}, fmt.Errorf("runtime version missing specVersion")
	}
	txVer, _ := version["transactionVersion"].(float64)

	genesisHex, err := a.blockHashAt(ctx, 0)
	if err != nil {
		return RuntimeContext{}, err
	}
	genesis, err := hexToBytes(genesisHex)
	if err != nil || len(genesis) != 32 {
		return RuntimeContext{}, fmt.Errorf("invalid genesis hash %q", genesisHex)
	}

	a.runtime = &RuntimeContext{
		SpecVersion: uint32(spec),
		TxVersion:   uint32(txVer),
		GenesisHash: genesis,
	}
	return *a.runtime, nil
}

// InvalidateRuntime drops the cached runtime context.
func (a *SubstrateAdapter) InvalidateRuntime() {
	a.mu.Lock()
	a.runtime = nil
	a.mu.Unlock()
}

func (a *SubstrateAdapter) LatestBlock(ctx context.Context) (*domain.Block, error) {
	op := rpc.NewHTTPOperation("chain_getBlockHash", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("chain_getBlockHash failed: %w", err)
	}
	hash, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("invalid block hash response")
	}
	return a.blockByHash(ctx, hash)
}

// FinalizedBlock returns the most recent finalized block. Confirmation
// tracking counts against this head, not the best head.
func (a *SubstrateAdapter) FinalizedBlock(ctx context.Context) (*domain.Block, error) {
	op := rpc.NewHTTPOperation("chain_getFinalizedHead", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("chain_getFinalizedHead failed: %w", err)
	}
	hash, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("invalid finalized head response")
	}
	return a.blockByHash(ctx, hash)
}

func (a *SubstrateAdapter) blockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	op := rpc.NewHTTPOperation("chain_getHeader", []any{hash})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("chain_getHeader failed: %w", err)
	}
	header, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid header format")
	}

	number, err := parseHexString(getString(header["number"]))
	if err != nil {
		return nil, fmt.Errorf("invalid header number: %w", err)
	}
	return &domain.Block{
		ChainID:    a.chainID,
		Number:     number,
		Hash:       hash,
		ParentHash: getString(header["parentHash"]),
	}, nil
}

func (a *SubstrateAdapter) blockHashAt(ctx context.Context, number uint64) (string, error) {
	op := rpc.NewHTTPOperation("chain_getBlockHash", []any{number})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return "", fmt.Errorf("chain_getBlockHash failed: %w", err)
	}
	hash, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("no block at height %d", number)
	}
	return hash, nil
}

// Balance reads System.Account storage directly. A missing entry is a
// never-seen account with zero balance, not an error.
func (a *SubstrateAdapter) Balance(ctx context.Context, account domain.Account) (*big.Int, error) {
	if account.Address.Ecosystem() != domain.EcosystemSubstrate {
		return nil, fmt.Errorf("%w: account is not a Substrate address", domain.ErrInvalidFormat)
	}
	key := systemAccountKey(account.Address.Bytes())
	op := rpc.NewHTTPOperation("state_getStorage", []any{"0x" + hex.EncodeToString(key)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("state_getStorage failed: %w", err)
	}
	if result == nil {
		return new(big.Int), nil
	}
	encoded, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("invalid storage response")
	}
	data, err := hexToBytes(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid storage hex: %w", err)
	}
	_, free, err := decodeAccountInfo(data)
	if err != nil {
		return nil, err
	}
	return free, nil
}

// Nonce asks the node for the next usable index, which includes
// transactions still in the pool.
func (a *SubstrateAdapter) Nonce(ctx context.Context, account domain.Account) (uint64, error) {
	if account.Address.Ecosystem() != domain.EcosystemSubstrate {
		return 0, fmt.Errorf("%w: account is not a Substrate address", domain.ErrInvalidFormat)
	}
	ss58 := account.Address.WithPrefix(a.prefix).String()
	op := rpc.NewHTTPOperation("system_accountNextIndex", []any{ss58})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("system_accountNextIndex failed: %w", err)
	}
	index, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("invalid account index response")
	}
	return uint64(index), nil
}

func (a *SubstrateAdapter) Submit(ctx context.Context, tx *domain.SignedTransaction) (domain.TxHash, error) {
	if len(tx.Raw) == 0 {
		return "", fmt.Errorf("%w: empty extrinsic", domain.ErrInvalidFormat)
	}

	op := rpc.NewHTTPOperation("author_submitExtrinsic", []any{"0x" + hex.EncodeToString(tx.Raw)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		mapped := mapPoolError(err)
		if errors.Is(mapped, errAlreadyImported) && tx.Hash != "" {
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

// TxStatus searches recent blocks for the extrinsic, then the pending
// pool. Substrate nodes keep no hash index, so the lookup is a bounded
// backward scan from the best head.
func (a *SubstrateAdapter) TxStatus(ctx context.Context, hash domain.TxHash) (*domain.Receipt, error) {
	target, err := hexToBytes(string(hash))
	if err != nil || len(target) != 32 {
		return nil, fmt.Errorf("%w: extrinsic hash must be 32 bytes of hex", domain.ErrInvalidFormat)
	}

	head, err := a.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	finalized, err := a.FinalizedBlock(ctx)
	if err != nil {
		return nil, err
	}

	start := uint64(0)
	if head.Number > a.scanDepth {
		start = head.Number - a.scanDepth
	}
	for n := head.Number; n >= start; n-- {
		blockHash, found, err := a.findInBlock(ctx, n, target)
		if err != nil {
			return nil, err
		}
		if found {
			receipt := &domain.Receipt{
				TxHash:        hash,
				ChainID:       a.chainID,
				Status:        domain.TxStatusConfirmed,
				BlockNumber:   n,
				BlockHash:     blockHash,
				Confirmations: head.Number - n + 1,
			}
			if n <= finalized.Number {
				receipt.Status = domain.TxStatusFinalized
			}
			return receipt, nil
		}
		if n == 0 {
			break
		}
	}

	pending, err := a.inPendingPool(ctx, target)
	if err != nil {
		return nil, err
	}
	status := domain.TxStatusUnknown
	if pending {
		status = domain.TxStatusInMempool
	}
	return &domain.Receipt{TxHash: hash, ChainID: a.chainID, Status: status}, nil
}

// findInBlock fetches one block body and hashes each extrinsic. The hash
// covers the length-prefixed bytes exactly as submitted.
func (a *SubstrateAdapter) findInBlock(ctx context.Context, number uint64, target []byte) (string, bool, error) {
	blockHash, err := a.blockHashAt(ctx, number)
	if err != nil {
		return "", false, err
	}

	op := rpc.NewHTTPOperationWithCost("chain_getBlock", []any{blockHash}, getBlockCost)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return "", false, fmt.Errorf("chain_getBlock failed: %w", err)
	}
	wrapper, ok := result.(map[string]any)
	if !ok {
		return "", false, fmt.Errorf("invalid block format")
	}
	block, _ := wrapper["block"].(map[string]any)
	extrinsics, _ := block["extrinsics"].([]any)

	for _, raw := range extrinsics {
		encoded, ok := raw.(string)
		if !ok {
			continue
		}
		data, err := hexToBytes(encoded)
		if err != nil {
			continue
		}
		if bytes.Equal(blake2b256(data), target) {
			return blockHash, true, nil
		}
	}
	return blockHash, false, nil
}

func (a *SubstrateAdapter) inPendingPool(ctx context.Context, target []byte) (bool, error) {
	op := rpc.NewHTTPOperation("author_pendingExtrinsics", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return false, fmt.Errorf("author_pendingExtrinsics failed: %w", err)
	}
	pending, _ := result.([]any)
	for _, raw := range pending {
		encoded, ok := raw.(string)
		if !ok {
			continue
		}
		data, err := hexToBytes(encoded)
		if err != nil {
			continue
		}
		if bytes.Equal(blake2b256(data), target) {
			return true, nil
		}
	}
	return false, nil
}

// WaitForConfirmation polls the finalized head and scans each newly
// finalized block for the extrinsic. Depth from the policy is ignored:
// grandpa finality is stronger than any probabilistic depth. Cancelling
// the wait never retracts the submitted extrinsic.
func (a *SubstrateAdapter) WaitForConfirmation(ctx context.Context, hash domain.TxHash, policy domain.ConfirmPolicy) (*domain.Receipt, error) {
	target, err := hexToBytes(string(hash))
	if err != nil || len(target) != 32 {
		return nil, fmt.Errorf("%w: extrinsic hash must be 32 bytes of hex", domain.ErrInvalidFormat)
	}

	if policy.PollInterval <= 0 {
		policy.PollInterval = domain.DefaultConfirmPolicy(a.chainID).PollInterval
	}
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	finalized, err := a.FinalizedBlock(ctx)
	if err != nil {
		return nil, err
	}
	lastScanned := uint64(0)
	if finalized.Number > waitBackscanDepth {
		lastScanned = finalized.Number - waitBackscanDepth
	}

	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	for {
		finalized, err := a.FinalizedBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, a.waitErr(ctx, hash)
			}
			a.log.Warn("finalized head poll failed", "chain", a.chainID, "error", err)
		} else {
			for n := lastScanned + 1; n <= finalized.Number; n++ {
				blockHash, found, err := a.findInBlock(ctx, n, target)
				if err != nil {
					if ctx.Err() != nil {
						return nil, a.waitErr(ctx, hash)
					}
					a.log.Warn("finalized block scan failed", "chain", a.chainID, "block", n, "error", err)
					break
				}
				lastScanned = n
				if found {
					receipt := &domain.Receipt{
						TxHash:        hash,
						ChainID:       a.chainID,
						Status:        domain.TxStatusFinalized,
						BlockNumber:   n,
						BlockHash:     blockHash,
						Confirmations: finalized.Number - n + 1,
					}
					metrics.TxConfirmed.WithLabelValues(string(a.chainID)).Inc()
					a.emitLifecycle(domain.EventTypeTransactionConfirmed, hash, n)
					return receipt, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, a.waitErr(ctx, hash)
		case <-ticker.C:
		}
	}
}

func (a *SubstrateAdapter) waitErr(ctx context.Context, hash domain.TxHash) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not finalized on %s", domain.ErrConfirmationTimeout, hash, a.chainID)
	}
	return ctx.Err()
}

// EstimateFee queries payment_queryInfo with a zero-signed probe
// extrinsic of the real wire size. Nodes without the payment API get a
// flat fallback.
func (a *SubstrateAdapter) EstimateFee(ctx context.Context, intent *domain.TransactionIntent) (*big.Int, error) {
	probe, err := BuildEstimationExtrinsic(a.chainID, intent.Source.Address, ExtrinsicParams{
		To:     intent.Destination.Address,
		Amount: intent.Amount,
		Tip:    intent.Tip,
	})
	if err != nil {
		return nil, err
	}

	op := rpc.NewHTTPOperation("payment_queryInfo", []any{"0x" + hex.EncodeToString(probe)})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		if node, ok := domain.AsNodeError(err); ok && node.Code == -32601 {
			return big.NewInt(fallbackFeePlanck), nil
		}
		return nil, fmt.Errorf("payment_queryInfo failed: %w", err)
	}
	info, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid fee info format")
	}
	return parsePartialFee(info["partialFee"])
}

// parsePartialFee handles the two encodings nodes use for u128 fees:
// decimal strings and hex strings.
func parsePartialFee(v any) (*big.Int, error) {
	switch fee := v.(type) {
	case string:
		base := 10
		s := fee
		if strings.HasPrefix(s, "0x") {
			base = 16
			s = s[2:]
		}
		n, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("invalid partialFee %q", fee)
		}
		return n, nil
	case float64:
		return new(big.Int).SetUint64(uint64(fee)), nil
	default:
		return nil, fmt.Errorf("missing partialFee in fee info")
	}
}

// ValidateAddress accepts any checksummed SS58 form and re-targets it to
// this chain's prefix. The underlying key, not the rendering, is the
// identity.
func (a *SubstrateAdapter) ValidateAddress(raw string) (domain.Address, error) {
	addr, err := domain.ParseSS58Address(raw)
	if err != nil {
		return domain.Address{}, err
	}
	return addr.WithPrefix(a.prefix), nil
}

// SubscribeEvents streams this chain's events. The filter's chain set is
// forced to this chain.
func (a *SubstrateAdapter) SubscribeEvents(filter events.Filter) (*events.Subscription, error) {
	filter.Chains = []domain.ChainID{a.chainID}
	return a.bus.Subscribe(filter), nil
}

// ChainName asks the node what chain it serves, used by readiness checks
// to catch endpoint misconfiguration.
func (a *SubstrateAdapter) ChainName(ctx context.Context) (string, error) {
	op := rpc.NewHTTPOperation("system_chain", nil)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return "", fmt.Errorf("system_chain failed: %w", err)
	}
	name, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("invalid chain name response")
	}
	return name, nil
}

func (a *SubstrateAdapter) emitSubmitted(tx *domain.SignedTransaction) {
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

func (a *SubstrateAdapter) emitLifecycle(eventType domain.EventType, hash domain.TxHash, blockNumber uint64) {
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

// errAlreadyImported marks a resubmission the pool already holds.
var errAlreadyImported = errors.New("extrinsic already imported")

// mapPoolError lifts transaction-pool rejections into the typed
// taxonomy. Pool codes are stable across Substrate versions; reason
// substrings cover proxies that rewrite codes.
func mapPoolError(err error) error {
	node, ok := domain.AsNodeError(err)
	if !ok {
		return err
	}

	reason := strings.ToLower(node.Reason)
	switch {
	case node.Code == poolAlreadyImported,
		strings.Contains(reason, "already imported"):
		return fmt.Errorf("%w: %w", errAlreadyImported, err)
	case node.Code == poolTooLowPriority,
		strings.Contains(reason, "priority is too low"):
		return fmt.Errorf("%w: %w", domain.ErrNonceConflict, err)
	case node.Code == poolInvalidTx && (strings.Contains(reason, "stale") || strings.Contains(reason, "outdated")),
		strings.Contains(reason, "transaction is outdated"):
		return fmt.Errorf("%w: %w", domain.ErrNonceConflict, err)
	case node.Code == poolInvalidTx && (strings.Contains(reason, "inability to pay") || strings.Contains(reason, "balance too low")):
		return fmt.Errorf("%w: %w", domain.ErrInsufficientFunds, err)
	default:
		return err
	}
}

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
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
