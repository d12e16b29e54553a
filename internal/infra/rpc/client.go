package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/rpc/budget"
	"github.com/vietddude/apex/internal/infra/rpc/provider"
	"github.com/vietddude/apex/internal/infra/rpc/routing"
)

// RPCClient is what chain adapters depend on: a per-chain handle that runs
// JSON-RPC operations through the pool with retry and failover.
type RPCClient interface {
	// Call makes a single RPC request with automatic retry and rotation
	Call(ctx context.Context, method string, params []any) (any, error)

	// Execute runs an Operation (method + params + quota cost)
	Execute(ctx context.Context, op Operation) (any, error)
}

// Client is the high-level handle for making RPC calls against one chain.
// This is what application layers should use.
type Client struct {
	router  routing.Router
	budget  budget.BudgetTracker
	chainID domain.ChainID

	retryConfig routing.RetryConfig
}

// NewClient creates a new RPC client for a chain.
func NewClient(chainID domain.ChainID, router routing.Router, b budget.BudgetTracker) *Client {
	return &Client{
		chainID:     chainID,
		router:      router,
		budget:      b,
		retryConfig: routing.DefaultRetryConfig,
	}
}

// SetRetryConfig overrides the default retry behavior.
func (c *Client) SetRetryConfig(cfg routing.RetryConfig) {
	c.retryConfig = cfg
}

// ChainID returns the chain this client serves.
func (c *Client) ChainID() domain.ChainID {
	return c.chainID
}

// Execute runs an operation through the pool.
func (c *Client) Execute(ctx context.Context, op Operation) (any, error) {
	return c.call(ctx, op.Name, op.Params, op.Cost)
}

// Call makes an RPC call with automatic failover and retry.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	return c.call(ctx, method, params, 1)
}

func (c *Client) call(ctx context.Context, method string, params []any, cost int) (any, error) {
	if c.budget != nil && !c.budget.CanMakeCall(c.chainID) {
		delay := c.budget.GetThrottleDelay(c.chainID)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	p, err := c.router.GetProvider(c.chainID)
	if err != nil {
		return nil, err
	}
	rpcP, ok := p.(provider.RPCProvider)
	if !ok {
		return nil, fmt.Errorf("endpoint %s does not support JSON-RPC", p.GetName())
	}

	start := time.Now()
	result, err := routing.CallWithRetry(ctx, rpcP, method, params, c.retryConfig)
	if err == nil {
		c.router.RecordSuccess(p.GetName(), time.Since(start))
		c.recordBudget(p.GetName(), method, cost)
		return result, nil
	}

	c.router.RecordFailure(p.GetName(), err)

	// Walk the remaining endpoints when the endpoint itself is the problem
	if shouldRotate(err) {
		lastErr := err
		for _, next := range c.router.GetAllProviders(c.chainID) {
			if next.GetName() == p.GetName() || !next.IsAvailable() {
				continue
			}
			nextRPC, ok := next.(provider.RPCProvider)
			if !ok {
				continue
			}

			start = time.Now()
			result, retryErr := routing.CallWithRetry(ctx, nextRPC, method, params, c.retryConfig)
			if retryErr == nil {
				c.router.RecordSuccess(next.GetName(), time.Since(start))
				c.recordBudget(next.GetName(), method, cost)
				return result, nil
			}

			c.router.RecordFailure(next.GetName(), retryErr)
			if routing.ClassifyError(retryErr) == routing.ActionFatal {
				return nil, retryErr
			}
			lastErr = retryErr
		}
		return nil, lastErr
	}

	return nil, err
}

// CallWithFailover walks every endpoint of the chain before giving up.
func (c *Client) CallWithFailover(ctx context.Context, method string, params []any) (any, error) {
	if c.budget != nil && !c.budget.CanMakeCall(c.chainID) {
		delay := c.budget.GetThrottleDelay(c.chainID)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	result, err := routing.CallWithRetryAndFailover(ctx, c.router, c.chainID, method, params, c.retryConfig)
	if err == nil {
		c.recordBudget("", method, 1)
	}
	return result, err
}

// BatchCall sends several requests in one round trip through the current
// endpoint.
func (c *Client) BatchCall(ctx context.Context, requests []provider.BatchRequest) ([]provider.BatchResponse, error) {
	p, err := c.router.GetProvider(c.chainID)
	if err != nil {
		return nil, err
	}
	rpcP, ok := p.(provider.RPCProvider)
	if !ok {
		return nil, fmt.Errorf("endpoint %s does not support JSON-RPC", p.GetName())
	}

	start := time.Now()
	responses, err := rpcP.BatchCall(ctx, requests)
	if err != nil {
		c.router.RecordFailure(p.GetName(), err)
		return nil, err
	}
	c.router.RecordSuccess(p.GetName(), time.Since(start))
	c.recordBudget(p.GetName(), "batch", len(requests))
	return responses, nil
}

// ForceRotation forces an endpoint rotation.
func (c *Client) ForceRotation() error {
	_, err := c.router.RotateProvider(c.chainID)
	return err
}

// GetUsage returns current budget usage.
func (c *Client) GetUsage() budget.UsageStats {
	if c.budget == nil {
		return budget.UsageStats{}
	}
	return c.budget.GetUsage(c.chainID)
}

// GetProviderStats returns monitoring stats for all endpoints of the chain.
func (c *Client) GetProviderStats() map[string]provider.MonitorStats {
	providers := c.router.GetAllProviders(c.chainID)
	stats := make(map[string]provider.MonitorStats)

	for _, p := range providers {
		if httpProv, ok := p.(*provider.HTTPProvider); ok {
			stats[p.GetName()] = httpProv.Monitor.GetStats()
		}
	}
	return stats
}

func (c *Client) recordBudget(providerName, method string, cost int) {
	if c.budget == nil {
		return
	}
	if cost <= 0 {
		cost = 1
	}
	for i := 0; i < cost; i++ {
		c.budget.RecordCall(c.chainID, providerName, method)
	}
}

func shouldRotate(err error) bool {
	if err == nil {
		return false
	}
	if routing.ClassifyError(err) == routing.ActionFailover {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	rotatePatterns := []string{
		"rate limited",
		"throttled",
		"429",
		"quota exceeded",
		"too many requests",
		"connection refused",
		"timeout",
	}
	for _, pattern := range rotatePatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
