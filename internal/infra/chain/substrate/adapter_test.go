package substrate

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/rpc"
)

// mockClient implements rpc.RPCClient for testing
type mockClient struct {
	CallFunc func(ctx context.Context, method string, params []any) (any, error)
}

func (m *mockClient) Call(ctx context.Context, method string, params []any) (any, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, method, params)
	}
	return nil, nil
}

func (m *mockClient) Execute(ctx context.Context, op rpc.Operation) (any, error) {
	return m.Call(ctx, op.Name, op.Params)
}

func newWestendAdapter(t *testing.T, client rpc.RPCClient) *SubstrateAdapter {
	t.Helper()
	adapter, err := NewSubstrateAdapter(domain.ChainIDWestend, client, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return adapter
}

func substrateAccount(t *testing.T, fill byte) domain.Account {
	t.Helper()
	pub := make([]byte, 32)
	pub[0] = fill
	addr, err := domain.NewSubstrateAddress(pub, 42)
	if err != nil {
		t.Fatalf("build address: %v", err)
	}
	return domain.Account{Address: addr, Chain: domain.ChainIDWestend}
}

func TestNewSubstrateAdapter_RejectsEVMChain(t *testing.T) {
	_, err := NewSubstrateAdapter(domain.ChainIDEthereum, nil, nil)
	if !errors.Is(err, domain.ErrUnsupportedChain) {
		t.Errorf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestSubstrateAdapter_LatestBlock(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getBlockHash":
				if len(params) == 0 {
					return "0xbest", nil
				}
			case "chain_getHeader":
				if params[0] == "0xbest" {
					return map[string]any{"number": "0x69", "parentHash": "0xparent"}, nil
				}
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	block, err := adapter.LatestBlock(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 105 {
		t.Errorf("expected block 105, got %d", block.Number)
	}
	if block.Hash != "0xbest" {
		t.Errorf("expected the queried hash, got %s", block.Hash)
	}
	if block.ParentHash != "0xparent" {
		t.Errorf("unexpected parent hash: %s", block.ParentHash)
	}
}

func TestSubstrateAdapter_FinalizedBlock(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getFinalizedHead":
				return "0xfin", nil
			case "chain_getHeader":
				return map[string]any{"number": "0x67"}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	block, err := adapter.FinalizedBlock(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 103 {
		t.Errorf("expected block 103, got %d", block.Number)
	}
}

func TestSubstrateAdapter_Balance(t *testing.T) {
	account := substrateAccount(t, 0xaa)
	wantKey := "0x" + hex.EncodeToString(systemAccountKey(account.Address.Bytes()))

	info := make([]byte, 80)
	binary.LittleEndian.PutUint32(info[0:4], 3)
	free := big.NewInt(999_000_000_000)
	copy(info[16:], reverseBytes(free.Bytes()))

	var gotKey any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "state_getStorage" {
				gotKey = params[0]
				return "0x" + hex.EncodeToString(info), nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	balance, err := adapter.Balance(context.Background(), account)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Cmp(free) != 0 {
		t.Errorf("expected %s, got %s", free, balance)
	}
	if gotKey != wantKey {
		t.Errorf("expected storage key %s, got %v", wantKey, gotKey)
	}
}

func TestSubstrateAdapter_BalanceUnknownAccount(t *testing.T) {
	adapter := newWestendAdapter(t, &mockClient{}) // storage returns null

	balance, err := adapter.Balance(context.Background(), substrateAccount(t, 0xab))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Sign() != 0 {
		t.Errorf("expected zero balance for unseen account, got %s", balance)
	}
}

func TestSubstrateAdapter_Nonce(t *testing.T) {
	account := substrateAccount(t, 0xac)

	var gotAddr any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "system_accountNextIndex" {
				gotAddr = params[0]
				return float64(9), nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	nonce, err := adapter.Nonce(context.Background(), account)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nonce != 9 {
		t.Errorf("expected nonce 9, got %d", nonce)
	}
	if gotAddr != account.Address.WithPrefix(42).String() {
		t.Errorf("expected ss58 address param, got %v", gotAddr)
	}
}

func TestSubstrateAdapter_Runtime_CachedAcrossCalls(t *testing.T) {
	var versionCalls atomic.Int64
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "state_getRuntimeVersion":
				versionCalls.Add(1)
				return map[string]any{"specVersion": float64(1002000), "transactionVersion": float64(26)}, nil
			case "chain_getBlockHash":
				return string(domain.ChainIDWestend), nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	ctx := context.Background()

	rt, err := adapter.Runtime(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.SpecVersion != 1002000 || rt.TxVersion != 26 {
		t.Errorf("unexpected runtime context: %+v", rt)
	}
	if len(rt.GenesisHash) != 32 {
		t.Errorf("expected 32-byte genesis hash, got %d", len(rt.GenesisHash))
	}

	if _, err := adapter.Runtime(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if versionCalls.Load() != 1 {
		t.Errorf("expected cached runtime, got %d fetches", versionCalls.Load())
	}

	adapter.InvalidateRuntime()
	if _, err := adapter.Runtime(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if versionCalls.Load() != 2 {
		t.Errorf("expected refetch after invalidation, got %d fetches", versionCalls.Load())
	}
}

func TestSubstrateAdapter_Submit(t *testing.T) {
	var gotExtrinsic any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "author_submitExtrinsic" {
				gotExtrinsic = params[0]
				return "0xhash", nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	hash, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
		Chain: domain.ChainIDWestend,
		Raw:   []byte{0x84, 0x00},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xhash" {
		t.Errorf("expected node hash, got %s", hash)
	}
	if gotExtrinsic != "0x8400" {
		t.Errorf("expected hex extrinsic, got %v", gotExtrinsic)
	}
}

func TestSubstrateAdapter_SubmitMapsPoolRejections(t *testing.T) {
	tests := []struct {
		code   int
		reason string
		want   error
	}{
		{1014, "Priority is too low: (1000 vs 1000)", domain.ErrNonceConflict},
		{1010, "Invalid Transaction: Transaction is outdated", domain.ErrNonceConflict},
		{1010, "Invalid Transaction: Stale", domain.ErrNonceConflict},
		{1010, "Invalid Transaction: Inability to pay some fees (e.g. account balance too low)", domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		mock := &mockClient{
			CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
				return nil, &domain.NodeError{Code: tt.code, Reason: tt.reason}
			},
		}
		adapter := newWestendAdapter(t, mock)

		_, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
			Chain: domain.ChainIDWestend,
			Raw:   []byte{0x84},
		})
		if !errors.Is(err, tt.want) {
			t.Errorf("code %d %q: expected %v, got %v", tt.code, tt.reason, tt.want, err)
		}
	}
}

func TestSubstrateAdapter_SubmitAlreadyImportedIsSuccess(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			return nil, &domain.NodeError{Code: 1013, Reason: "Transaction Already Imported"}
		},
	}
	adapter := newWestendAdapter(t, mock)

	hash, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
		Chain: domain.ChainIDWestend,
		Hash:  "0xfeed",
		Raw:   []byte{0x84},
	})
	if err != nil {
		t.Fatalf("expected resubmission to succeed, got %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("expected own hash back, got %s", hash)
	}
}

func TestSubstrateAdapter_TxStatus(t *testing.T) {
	extrinsic := []byte{0x11, 0x22, 0x33}
	target := "0x" + hex.EncodeToString(blake2b256(extrinsic))

	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getBlockHash":
				if len(params) == 0 {
					return "0xbest", nil
				}
				return fmt.Sprintf("0xb%d", params[0]), nil
			case "chain_getFinalizedHead":
				return "0xfin", nil
			case "chain_getHeader":
				if params[0] == "0xbest" {
					return map[string]any{"number": "0x69"}, nil // 105
				}
				return map[string]any{"number": "0x67"}, nil // 103
			case "chain_getBlock":
				extrinsics := []any{}
				if params[0] == "0xb104" {
					extrinsics = []any{"0x" + hex.EncodeToString(extrinsic)}
				}
				return map[string]any{"block": map[string]any{"extrinsics": extrinsics}}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	adapter.scanDepth = 5
	receipt, err := adapter.TxStatus(context.Background(), domain.TxHash(target))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.BlockNumber != 104 {
		t.Errorf("expected block 104, got %d", receipt.BlockNumber)
	}
	if receipt.Status != domain.TxStatusConfirmed {
		t.Errorf("expected confirmed (104 above finalized 103), got %s", receipt.Status)
	}
	if receipt.Confirmations != 2 {
		t.Errorf("expected 2 confirmations, got %d", receipt.Confirmations)
	}
}

func TestSubstrateAdapter_TxStatusFinalized(t *testing.T) {
	extrinsic := []byte{0x44, 0x55}
	target := "0x" + hex.EncodeToString(blake2b256(extrinsic))

	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getBlockHash":
				if len(params) == 0 {
					return "0xbest", nil
				}
				return fmt.Sprintf("0xb%d", params[0]), nil
			case "chain_getFinalizedHead":
				return "0xfin", nil
			case "chain_getHeader":
				if params[0] == "0xbest" {
					return map[string]any{"number": "0x69"}, nil // 105
				}
				return map[string]any{"number": "0x67"}, nil // 103
			case "chain_getBlock":
				extrinsics := []any{}
				if params[0] == "0xb102" {
					extrinsics = []any{"0x" + hex.EncodeToString(extrinsic)}
				}
				return map[string]any{"block": map[string]any{"extrinsics": extrinsics}}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	adapter.scanDepth = 5
	receipt, err := adapter.TxStatus(context.Background(), domain.TxHash(target))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusFinalized {
		t.Errorf("expected finalized (102 at or below finalized 103), got %s", receipt.Status)
	}
}

func TestSubstrateAdapter_TxStatusInMempool(t *testing.T) {
	extrinsic := []byte{0x66, 0x77}
	target := "0x" + hex.EncodeToString(blake2b256(extrinsic))

	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getBlockHash":
				if len(params) == 0 {
					return "0xbest", nil
				}
				return fmt.Sprintf("0xb%d", params[0]), nil
			case "chain_getFinalizedHead":
				return "0xfin", nil
			case "chain_getHeader":
				return map[string]any{"number": "0x2"}, nil
			case "chain_getBlock":
				return map[string]any{"block": map[string]any{"extrinsics": []any{}}}, nil
			case "author_pendingExtrinsics":
				return []any{"0x" + hex.EncodeToString(extrinsic)}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	adapter.scanDepth = 5
	receipt, err := adapter.TxStatus(context.Background(), domain.TxHash(target))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusInMempool {
		t.Errorf("expected in_mempool, got %s", receipt.Status)
	}
}

func TestSubstrateAdapter_TxStatusRejectsBadHash(t *testing.T) {
	adapter := newWestendAdapter(t, &mockClient{})
	_, err := adapter.TxStatus(context.Background(), "0x1234")
	if !errors.Is(err, domain.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for short hash, got %v", err)
	}
}

func TestSubstrateAdapter_WaitForConfirmation(t *testing.T) {
	extrinsic := []byte{0x88, 0x99}
	target := "0x" + hex.EncodeToString(blake2b256(extrinsic))

	var finalizedCalls atomic.Int64
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getFinalizedHead":
				if finalizedCalls.Add(1) <= 2 {
					return "0xf2", nil
				}
				return "0xf3", nil
			case "chain_getHeader":
				if params[0] == "0xf2" {
					return map[string]any{"number": "0x2"}, nil
				}
				return map[string]any{"number": "0x3"}, nil
			case "chain_getBlockHash":
				return fmt.Sprintf("0xb%d", params[0]), nil
			case "chain_getBlock":
				extrinsics := []any{}
				if params[0] == "0xb3" {
					extrinsics = []any{"0x" + hex.EncodeToString(extrinsic)}
				}
				return map[string]any{"block": map[string]any{"extrinsics": extrinsics}}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	receipt, err := adapter.WaitForConfirmation(context.Background(), domain.TxHash(target), domain.ConfirmPolicy{
		Timeout:      2 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusFinalized {
		t.Errorf("expected finalized, got %s", receipt.Status)
	}
	if receipt.BlockNumber != 3 {
		t.Errorf("expected block 3, got %d", receipt.BlockNumber)
	}
	if receipt.Confirmations != 1 {
		t.Errorf("expected 1 confirmation, got %d", receipt.Confirmations)
	}
}

func TestSubstrateAdapter_WaitForConfirmationTimeout(t *testing.T) {
	target := "0x" + hex.EncodeToString(blake2b256([]byte{0xaa}))

	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "chain_getFinalizedHead":
				return "0xf2", nil
			case "chain_getHeader":
				return map[string]any{"number": "0x2"}, nil
			case "chain_getBlockHash":
				return fmt.Sprintf("0xb%d", params[0]), nil
			case "chain_getBlock":
				return map[string]any{"block": map[string]any{"extrinsics": []any{}}}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	_, err := adapter.WaitForConfirmation(context.Background(), domain.TxHash(target), domain.ConfirmPolicy{
		Timeout:      40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Errorf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestSubstrateAdapter_EstimateFee(t *testing.T) {
	var gotProbe string
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "payment_queryInfo" {
				gotProbe, _ = params[0].(string)
				return map[string]any{"partialFee": "157000000", "weight": map[string]any{}}, nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	src := substrateAccount(t, 0x01)
	dst := substrateAccount(t, 0x02)
	fee, err := adapter.EstimateFee(context.Background(), &domain.TransactionIntent{
		Source:      src,
		Destination: dst,
		Amount:      big.NewInt(1000),
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.Cmp(big.NewInt(157_000_000)) != 0 {
		t.Errorf("expected 157000000, got %s", fee)
	}
	probeBytes, err := hexToBytes(gotProbe)
	if err != nil || len(probeBytes) < 100 {
		t.Errorf("expected a full-size probe extrinsic, got %q (%v)", gotProbe, err)
	}
}

func TestSubstrateAdapter_EstimateFeeFallback(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			return nil, &domain.NodeError{Code: -32601, Reason: "Method not found"}
		},
	}

	adapter := newWestendAdapter(t, mock)
	fee, err := adapter.EstimateFee(context.Background(), &domain.TransactionIntent{
		Source:      substrateAccount(t, 0x01),
		Destination: substrateAccount(t, 0x02),
		Amount:      big.NewInt(1000),
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.Cmp(big.NewInt(fallbackFeePlanck)) != 0 {
		t.Errorf("expected fallback fee, got %s", fee)
	}
}

func TestSubstrateAdapter_ValidateAddress(t *testing.T) {
	adapter := newWestendAdapter(t, &mockClient{})

	addr, err := adapter.ValidateAddress("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Ecosystem() != domain.EcosystemSubstrate {
		t.Errorf("expected substrate ecosystem, got %s", addr.Ecosystem())
	}
	if addr.Prefix() != 42 {
		t.Errorf("expected westend prefix 42, got %d", addr.Prefix())
	}

	if _, err := adapter.ValidateAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8"); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for hex address, got %v", err)
	}
}

func TestSubstrateAdapter_ChainName(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "system_chain" {
				return "Westend", nil
			}
			return nil, nil
		},
	}

	adapter := newWestendAdapter(t, mock)
	name, err := adapter.ChainName(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Westend" {
		t.Errorf("expected Westend, got %s", name)
	}
}

func TestSubstrateAdapter_SubscribeEventsForcesOwnChain(t *testing.T) {
	bus := events.NewBus()
	adapter, err := NewSubstrateAdapter(domain.ChainIDWestend, &mockClient{}, bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := adapter.SubscribeEvents(events.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	ctx := context.Background()
	bus.Emit(ctx, &domain.Event{ID: "1", Type: domain.EventTypeTransactionSubmitted, ChainID: domain.ChainIDPolkadot})
	bus.Emit(ctx, &domain.Event{ID: "2", Type: domain.EventTypeTransactionSubmitted, ChainID: domain.ChainIDWestend})

	select {
	case ev := <-sub.C():
		if ev.ChainID != domain.ChainIDWestend {
			t.Errorf("expected only own-chain events, got %s", ev.ChainID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}
