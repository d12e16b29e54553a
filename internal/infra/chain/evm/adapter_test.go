package evm

import (
	"context"
	"errors"
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

func newTestAdapter(t *testing.T, client rpc.RPCClient) *EVMAdapter {
	t.Helper()
	adapter, err := NewEVMAdapter(domain.ChainIDEthereum, client, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return adapter
}

func TestNewEVMAdapter_RejectsSubstrateChain(t *testing.T) {
	_, err := NewEVMAdapter(domain.ChainIDPolkadot, nil, nil)
	if !errors.Is(err, domain.ErrUnsupportedChain) {
		t.Errorf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestEVMAdapter_LatestBlock(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_getBlockByNumber" {
				return map[string]any{
					"number":     "0x12d687",
					"hash":       "0xabc123",
					"parentHash": "0xabc122",
					"timestamp":  "0x65678900",
				}, nil
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	block, err := adapter.LatestBlock(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 1234567 {
		t.Errorf("expected block number 1234567, got %d", block.Number)
	}
	if block.Hash != "0xabc123" {
		t.Errorf("unexpected block hash: %s", block.Hash)
	}
	if block.ChainID != domain.ChainIDEthereum {
		t.Errorf("unexpected chain id: %s", block.ChainID)
	}
}

func TestEVMAdapter_Balance(t *testing.T) {
	addr, err := domain.ParseEVMAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}

	var gotParams []any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_getBalance" {
				gotParams = params
				return "0xde0b6b3a7640000", nil // 1 ETH in wei
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	balance, err := adapter.Balance(context.Background(), domain.Account{Address: addr, Chain: domain.ChainIDEthereum})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int)
	want.SetString("1000000000000000000", 10)
	if balance.Cmp(want) != 0 {
		t.Errorf("expected 1e18 wei, got %s", balance)
	}
	if len(gotParams) != 2 || gotParams[0] != addr.String() || gotParams[1] != "latest" {
		t.Errorf("unexpected eth_getBalance params: %v", gotParams)
	}
}

func TestEVMAdapter_NonceUsesPendingTag(t *testing.T) {
	addr, _ := domain.ParseEVMAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")

	var gotTag any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_getTransactionCount" {
				gotTag = params[1]
				return "0x2a", nil
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	nonce, err := adapter.Nonce(context.Background(), domain.Account{Address: addr, Chain: domain.ChainIDEthereum})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nonce != 42 {
		t.Errorf("expected nonce 42, got %d", nonce)
	}
	if gotTag != "pending" {
		t.Errorf("expected pending tag, got %v", gotTag)
	}
}

func TestEVMAdapter_Submit(t *testing.T) {
	var gotRaw any
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_sendRawTransaction" {
				gotRaw = params[0]
				return "0xdeadbeef", nil
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	hash, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
		Chain: domain.ChainIDEthereum,
		Raw:   []byte{0x02, 0xf8, 0x6f},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xdeadbeef" {
		t.Errorf("expected node hash, got %s", hash)
	}
	if gotRaw != "0x02f86f" {
		t.Errorf("expected hex-encoded raw tx, got %v", gotRaw)
	}
}

func TestEVMAdapter_SubmitEmptyRaw(t *testing.T) {
	adapter := newTestAdapter(t, &mockClient{})
	_, err := adapter.Submit(context.Background(), &domain.SignedTransaction{Chain: domain.ChainIDEthereum})
	if !errors.Is(err, domain.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestEVMAdapter_SubmitMapsNodeRejections(t *testing.T) {
	tests := []struct {
		reason string
		want   error
	}{
		{"nonce too low", domain.ErrNonceConflict},
		{"invalid nonce", domain.ErrNonceConflict},
		{"replacement transaction underpriced", domain.ErrNonceConflict},
		{"insufficient funds for gas * price + value", domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		mock := &mockClient{
			CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
				return nil, &domain.NodeError{Code: -32000, Reason: tt.reason}
			},
		}
		adapter := newTestAdapter(t, mock)

		_, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
			Chain: domain.ChainIDEthereum,
			Raw:   []byte{0x01},
		})
		if !errors.Is(err, tt.want) {
			t.Errorf("reason %q: expected %v, got %v", tt.reason, tt.want, err)
		}
		if _, ok := domain.AsNodeError(err); !ok {
			t.Errorf("reason %q: node error lost in mapping", tt.reason)
		}
	}
}

func TestEVMAdapter_SubmitAlreadyKnownIsSuccess(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			return nil, &domain.NodeError{Code: -32000, Reason: "already known"}
		},
	}
	adapter := newTestAdapter(t, mock)

	hash, err := adapter.Submit(context.Background(), &domain.SignedTransaction{
		Chain: domain.ChainIDEthereum,
		Hash:  "0xfeed",
		Raw:   []byte{0x01},
	})
	if err != nil {
		t.Fatalf("expected resubmission to succeed, got %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("expected own hash back, got %s", hash)
	}
}

func TestEVMAdapter_TxStatusUnknown(t *testing.T) {
	mock := &mockClient{} // both lookups return nil

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.TxStatus(context.Background(), "0xabc")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusUnknown {
		t.Errorf("expected unknown, got %s", receipt.Status)
	}
}

func TestEVMAdapter_TxStatusInMempool(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_getTransactionByHash" {
				return map[string]any{"hash": "0xabc", "blockHash": nil}, nil
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.TxStatus(context.Background(), "0xabc")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusInMempool {
		t.Errorf("expected in_mempool, got %s", receipt.Status)
	}
}

func TestEVMAdapter_TxStatusFailed(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_getTransactionReceipt" {
				return map[string]any{
					"blockNumber": "0x64",
					"blockHash":   "0xaaa",
					"status":      "0x0",
					"gasUsed":     "0x5208",
				}, nil
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.TxStatus(context.Background(), "0xabc")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusFailed {
		t.Errorf("expected failed, got %s", receipt.Status)
	}
	if receipt.FailureReason == "" {
		t.Error("expected a failure reason")
	}
}

func TestEVMAdapter_TxStatusConfirmations(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_getTransactionReceipt":
				return map[string]any{
					"blockNumber":       "0x64", // 100
					"blockHash":         "0xaaa",
					"status":            "0x1",
					"gasUsed":           "0x5208",
					"effectiveGasPrice": "0x3b9aca00",
				}, nil
			case "eth_getBlockByNumber":
				return map[string]any{"number": "0x69", "hash": "0xhead"}, nil // 105
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.TxStatus(context.Background(), "0xabc")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusConfirmed {
		t.Errorf("expected confirmed (5 blocks on top of 100 at depth 12), got %s", receipt.Status)
	}
	if receipt.Confirmations != 6 {
		t.Errorf("expected 6 confirmations, got %d", receipt.Confirmations)
	}
	wantFee := big.NewInt(21000 * 1_000_000_000)
	if receipt.Fee == nil || receipt.Fee.Cmp(wantFee) != 0 {
		t.Errorf("expected fee %s, got %v", wantFee, receipt.Fee)
	}
}

func TestEVMAdapter_WaitForConfirmation(t *testing.T) {
	var headCalls atomic.Int64
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_getTransactionReceipt":
				return map[string]any{
					"blockNumber": "0x64", // 100
					"blockHash":   "0xaaa",
					"status":      "0x1",
					"gasUsed":     "0x5208",
				}, nil
			case "eth_getBlockByNumber":
				if params[0] == "latest" {
					// head advances 100 -> 101 -> 102
					n := headCalls.Add(1)
					head := uint64(99) + uint64(n)
					if head > 102 {
						head = 102
					}
					return map[string]any{"number": "0x" + big.NewInt(int64(head)).Text(16), "hash": "0xhead"}, nil
				}
				if params[0] == "0x64" {
					return map[string]any{"number": "0x64", "hash": "0xaaa"}, nil
				}
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.WaitForConfirmation(context.Background(), "0xabc", domain.ConfirmPolicy{
		Depth:        2,
		Timeout:      2 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != domain.TxStatusFinalized {
		t.Errorf("expected finalized, got %s", receipt.Status)
	}
	if receipt.Confirmations != 3 {
		t.Errorf("expected 3 confirmations at head 102, got %d", receipt.Confirmations)
	}
}

func TestEVMAdapter_WaitForConfirmationReorg(t *testing.T) {
	var receiptCalls atomic.Int64
	var headCalls atomic.Int64
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_getTransactionReceipt":
				// First inclusion is orphaned; the transaction lands again
				// one block later.
				if receiptCalls.Add(1) == 1 {
					return map[string]any{"blockNumber": "0x64", "blockHash": "0xaaa", "status": "0x1"}, nil
				}
				return map[string]any{"blockNumber": "0x65", "blockHash": "0xccc", "status": "0x1"}, nil
			case "eth_getBlockByNumber":
				switch params[0] {
				case "latest":
					if headCalls.Add(1) == 1 {
						return map[string]any{"number": "0x65", "hash": "0xh1"}, nil // 101
					}
					return map[string]any{"number": "0x66", "hash": "0xh2"}, nil // 102
				case "0x64":
					return map[string]any{"number": "0x64", "hash": "0xzzz"}, nil // canonical chain moved
				case "0x65":
					return map[string]any{"number": "0x65", "hash": "0xccc"}, nil
				}
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	receipt, err := adapter.WaitForConfirmation(context.Background(), "0xabc", domain.ConfirmPolicy{
		Depth:        1,
		Timeout:      2 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.BlockNumber != 101 {
		t.Errorf("expected confirmation on the post-reorg block 101, got %d", receipt.BlockNumber)
	}
	if receipt.BlockHash != "0xccc" {
		t.Errorf("expected post-reorg block hash, got %s", receipt.BlockHash)
	}
	if receipt.Status != domain.TxStatusFinalized {
		t.Errorf("expected finalized, got %s", receipt.Status)
	}
}

func TestEVMAdapter_WaitForConfirmationTimeout(t *testing.T) {
	mock := &mockClient{} // receipt never appears

	adapter := newTestAdapter(t, mock)
	_, err := adapter.WaitForConfirmation(context.Background(), "0xabc", domain.ConfirmPolicy{
		Depth:        2,
		Timeout:      30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Errorf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestEVMAdapter_EstimateFeePlainTransfer(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_gasPrice":
				return "0x3b9aca00", nil // 1 gwei
			case "eth_estimateGas":
				t.Error("plain transfer should not call eth_estimateGas")
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	src, _ := domain.ParseEVMAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	dst, _ := domain.ParseEVMAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	fee, err := adapter.EstimateFee(context.Background(), &domain.TransactionIntent{
		Source:      domain.Account{Address: src, Chain: domain.ChainIDEthereum},
		Destination: domain.Account{Address: dst, Chain: domain.ChainIDEthereum},
		Amount:      big.NewInt(1),
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := big.NewInt(21000 * 1_000_000_000)
	if fee.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, fee)
	}
}

func TestEVMAdapter_EstimateFeeContractCall(t *testing.T) {
	var estimateCalled bool
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_gasPrice":
				return "0x3b9aca00", nil
			case "eth_estimateGas":
				estimateCalled = true
				call := params[0].(map[string]any)
				if call["data"] == "0x" || call["data"] == nil {
					t.Errorf("expected call data, got %v", call["data"])
				}
				return "0x186a0", nil // 100000
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	src, _ := domain.ParseEVMAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	dst, _ := domain.ParseEVMAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	fee, err := adapter.EstimateFee(context.Background(), &domain.TransactionIntent{
		Source:      domain.Account{Address: src, Chain: domain.ChainIDEthereum},
		Destination: domain.Account{Address: dst, Chain: domain.ChainIDEthereum},
		CallData:    []byte{0xa9, 0x05, 0x9c, 0xbb},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !estimateCalled {
		t.Fatal("expected eth_estimateGas to be called")
	}
	want := big.NewInt(100000 * 1_000_000_000)
	if fee.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, fee)
	}
}

func TestEVMAdapter_SuggestFees(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_gasPrice":
				return "0x174876e800", nil // 100 gwei
			case "eth_maxPriorityFeePerGas":
				return "0x77359400", nil // 2 gwei
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	feeCap, tip, err := adapter.SuggestFees(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feeCap.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Errorf("expected 200 gwei fee cap, got %s", feeCap)
	}
	if tip.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Errorf("expected 2 gwei tip, got %s", tip)
	}
}

func TestEVMAdapter_SuggestFeesTipFallback(t *testing.T) {
	mock := &mockClient{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			switch method {
			case "eth_gasPrice":
				return "0x174876e800", nil // 100 gwei
			case "eth_maxPriorityFeePerGas":
				return nil, &domain.NodeError{Code: -32601, Reason: "method not found"}
			}
			return nil, nil
		},
	}

	adapter := newTestAdapter(t, mock)
	_, tip, err := adapter.SuggestFees(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tip.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Errorf("expected gasPrice/10 fallback tip, got %s", tip)
	}
}

func TestEVMAdapter_ValidateAddress(t *testing.T) {
	adapter := newTestAdapter(t, &mockClient{})

	addr, err := adapter.ValidateAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Ecosystem() != domain.EcosystemEVM {
		t.Errorf("expected EVM ecosystem, got %s", addr.Ecosystem())
	}

	if _, err := adapter.ValidateAddress("not-an-address"); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestEVMAdapter_SubscribeEventsForcesOwnChain(t *testing.T) {
	bus := events.NewBus()
	adapter, err := NewEVMAdapter(domain.ChainIDEthereum, &mockClient{}, bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := adapter.SubscribeEvents(events.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	ctx := context.Background()
	bus.Emit(ctx, &domain.Event{ID: "1", Type: domain.EventTypeTransactionSubmitted, ChainID: domain.ChainIDPolygon})
	bus.Emit(ctx, &domain.Event{ID: "2", Type: domain.EventTypeTransactionSubmitted, ChainID: domain.ChainIDEthereum})

	select {
	case ev := <-sub.C():
		if ev.ChainID != domain.ChainIDEthereum {
			t.Errorf("expected only own-chain events, got %s", ev.ChainID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-sub.C():
		t.Errorf("unexpected second event: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEVMAdapter_ParseHexString(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{"0x0", 0},
		{"0x1", 1},
		{"0xa", 10},
		{"0xff", 255},
		{"0x12d687", 1234567},
	}

	for _, tt := range tests {
		result, err := parseHexString(tt.input)
		if err != nil {
			t.Errorf("unexpected error for %s: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("for %s: expected %d, got %d", tt.input, tt.expected, result)
		}
	}
}
