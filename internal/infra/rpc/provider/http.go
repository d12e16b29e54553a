package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// HTTPProvider implements RPCProvider for JSON-RPC 2.0 over HTTP. Both EVM
// and Substrate nodes speak this transport, so one implementation serves
// every chain in the registry.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client

	mu           sync.RWMutex
	health       HealthStatus
	successCount int
	failureCount int
	requestCount int

	Monitor *EndpointMonitor
}

// NewHTTPProvider creates a new HTTP-based RPC endpoint.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewEndpointMonitor(),
	}
}

// Endpoint returns the URL this provider talks to.
func (p *HTTPProvider) Endpoint() string {
	return p.endpoint
}

// Call makes a single JSON-RPC call. Node-level errors come back as
// domain.NodeError with the raw code and message preserved; transport
// failures come back as domain.TransportError.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()

	if status := p.Monitor.CheckStatus(); status == StatusDead {
		return nil, &domain.TransportError{
			Endpoint: p.name,
			Op:       method,
			Err:      fmt.Errorf("endpoint dead, retry after %v", p.Monitor.RetryAfter()),
		}
	}

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: err}
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	// Rate limit detection
	if resp.StatusCode == 429 {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(429, retryAfter)
		p.recordFailure()
		return nil, &domain.TransportError{
			Endpoint: p.name,
			Op:       method,
			Err:      fmt.Errorf("rate limited (429), retry after: %s", retryAfter),
		}
	}

	// IP blocked detection
	if resp.StatusCode == 403 {
		p.Monitor.RecordThrottle(403, "")
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("ip blocked (403)")}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()

		if p.Monitor.DetectThrottlePattern(string(body)) {
			p.Monitor.RecordThrottle(429, "")
		}

		return nil, &domain.TransportError{
			Endpoint: p.name,
			Op:       method,
			Err:      fmt.Errorf("http %d: %s", resp.StatusCode, string(body)),
		}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("parse response: %w", err)}
	}

	if rpcResp.Error != nil {
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			p.Monitor.RecordThrottle(429, "")
		}
		return nil, &domain.NodeError{Code: rpcResp.Error.Code, Reason: rpcResp.Error.Message}
	}

	var result any
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			p.recordFailure()
			return nil, &domain.TransportError{Endpoint: p.name, Op: method, Err: fmt.Errorf("parse result: %w", err)}
		}
	}

	p.Monitor.RecordSuccess(latency)
	p.recordSuccess(latency)

	return result, nil
}

// BatchCall makes multiple RPC calls in one request.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	start := time.Now()

	batchReq := make([]map[string]any, len(requests))
	for i, req := range requests {
		params := req.Params
		if params == nil {
			params = []any{}
		}
		batchReq[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  req.Method,
			"params":  params,
			"id":      i + 1,
		}
	}

	jsonData, err := json.Marshal(batchReq)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: "batch", Err: fmt.Errorf("marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: "batch", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: "batch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: "batch", Err: fmt.Errorf("read response: %w", err)}
	}

	var batchResp []struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &batchResp); err != nil {
		p.recordFailure()
		return nil, &domain.TransportError{Endpoint: p.name, Op: "batch", Err: fmt.Errorf("parse batch response: %w", err)}
	}

	// Responses may arrive out of order; match them back by id.
	responses := make([]BatchResponse, len(requests))
	for _, r := range batchResp {
		idx := r.ID - 1
		if idx < 0 || idx >= len(responses) {
			continue
		}
		if r.Error != nil {
			responses[idx] = BatchResponse{Error: &domain.NodeError{Code: r.Error.Code, Reason: r.Error.Message}}
			continue
		}
		var result any
		if len(r.Result) > 0 {
			if err := json.Unmarshal(r.Result, &result); err != nil {
				responses[idx] = BatchResponse{Error: fmt.Errorf("parse result: %w", err)}
				continue
			}
		}
		responses[idx] = BatchResponse{Result: result}
	}

	latency := time.Since(start)
	p.Monitor.RecordSuccess(latency)
	p.recordSuccess(latency)
	return responses, nil
}

// GetName returns the endpoint's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the endpoint's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	health := p.health
	health.Latency = p.Monitor.AverageLatency()
	health.ConsecutiveFailures = p.Monitor.ConsecutiveFailures()
	return health
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// HasQuotaRemaining checks if this endpoint has quota remaining.
func (p *HTTPProvider) HasQuotaRemaining() bool {
	if p.Monitor.CheckStatus() == StatusDead {
		return false
	}
	return p.Monitor.GetStats().UsagePercentage < 95
}

// GetUsagePercentage returns the current usage percentage.
func (p *HTTPProvider) GetUsagePercentage() float64 {
	return p.Monitor.GetStats().UsagePercentage
}

// IsAvailable checks if the endpoint can take live traffic.
func (p *HTTPProvider) IsAvailable() bool {
	return p.Monitor.CheckStatus() != StatusDead
}

// HasCapacity checks if the endpoint has capacity for the given cost.
func (p *HTTPProvider) HasCapacity(cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	if p.Monitor.CheckStatus() == StatusDead {
		return false
	}
	return p.Monitor.GetStats().UsagePercentage < 95
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
}

func (p *HTTPProvider) recordFailure() {
	p.Monitor.RecordFailure()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
