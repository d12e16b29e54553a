package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

func jsonRPCServer(t *testing.T, result any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
	}))
}

func TestClient_CallFailsOverToHealthyEndpoint(t *testing.T) {
	var badHits, goodHits atomic.Int32

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0x64"})
	}))
	defer good.Close()

	budget := NewBudgetTracker(100000, map[domain.ChainID]float64{domain.ChainIDEthereum: 1.0})
	router := NewRouter(budget)
	router.AddProvider(domain.ChainIDEthereum, NewHTTPProvider("bad", bad.URL, 2*time.Second))
	router.AddProvider(domain.ChainIDEthereum, NewHTTPProvider("good", good.URL, 2*time.Second))

	client := NewClient(domain.ChainIDEthereum, router, budget)

	result, err := client.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "0x64" {
		t.Errorf("expected 0x64, got %v", result)
	}
	if goodHits.Load() == 0 {
		t.Error("expected the healthy endpoint to serve the call")
	}

	if usage := client.GetUsage(); usage.TotalCalls != 1 {
		t.Errorf("expected 1 budgeted call, got %d", usage.TotalCalls)
	}
}

func TestClient_ExecuteRecordsCost(t *testing.T) {
	srv := jsonRPCServer(t, "0x1")
	defer srv.Close()

	budget := NewBudgetTracker(100000, map[domain.ChainID]float64{domain.ChainIDPolkadot: 1.0})
	router := NewRouter(budget)
	router.AddProvider(domain.ChainIDPolkadot, NewHTTPProvider("onfinality", srv.URL, 2*time.Second))

	client := NewClient(domain.ChainIDPolkadot, router, budget)

	op := NewHTTPOperationWithCost("chain_getBlock", []any{"0xabc"}, 3)
	if _, err := client.Execute(context.Background(), op); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if usage := client.GetUsage(); usage.TotalCalls != 3 {
		t.Errorf("expected cost 3 recorded, got %d", usage.TotalCalls)
	}
}

func TestClient_PoolExhausted(t *testing.T) {
	budget := NewBudgetTracker(100000, nil)
	router := NewRouter(budget)

	client := NewClient(domain.ChainIDEthereum, router, budget)
	_, err := client.Call(context.Background(), "eth_blockNumber", nil)
	if err == nil {
		t.Fatal("expected error with no endpoints")
	}
	if !errors.Is(err, domain.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestClient_BatchCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []map[string]any
		json.NewDecoder(r.Body).Decode(&reqs)
		out := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			out[i] = map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "ok"}
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	router := NewRouter(nil)
	router.AddProvider(domain.ChainIDEthereum, NewHTTPProvider("a", srv.URL, 2*time.Second))
	client := NewClient(domain.ChainIDEthereum, router, nil)

	responses, err := client.BatchCall(context.Background(), []BatchRequest{
		{Method: "eth_getBalance", Params: []any{"0x0", "latest"}},
		{Method: "eth_getTransactionCount", Params: []any{"0x0", "latest"}},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(responses) != 2 || responses[0].Result != "ok" {
		t.Errorf("unexpected batch responses: %+v", responses)
	}
}
