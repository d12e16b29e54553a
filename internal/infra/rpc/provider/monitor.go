package provider

import (
	"strings"
	"sync"
	"time"
)

// EndpointStatus represents the health state of an endpoint.
type EndpointStatus int

const (
	StatusHealthy  EndpointStatus = iota // Endpoint is working normally
	StatusDegraded                       // Endpoint is slow, throttled, or being probed after a cooldown
	StatusDead                           // Endpoint failed repeatedly and is cooling down
)

func (s EndpointStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

const (
	// deadThreshold is the number of consecutive failures after which an
	// endpoint is taken out of rotation.
	deadThreshold = 3

	// deadCooldown is how long a dead endpoint rests before it is probed
	// again with live traffic.
	deadCooldown = 60 * time.Second
)

// MonitorStats holds monitoring statistics for an endpoint.
type MonitorStats struct {
	Status              EndpointStatus
	AverageLatency      time.Duration
	ConsecutiveFailures int
	ThrottleCount429    int
	ThrottleCount403    int
	RequestsLast1Hour   int
	RequestsLast24Hours int
	EstimatedDailyLimit int
	UsagePercentage     float64
}

// EndpointMonitor tracks endpoint health and rate limiting. Latency is kept
// as an exponential moving average so one slow call cannot flip the status.
type EndpointMonitor struct {
	mu sync.RWMutex

	// Latency EMA, streak tracking
	emaLatency       time.Duration
	consecutiveFails int
	lastFailureTime  time.Time

	// Throttle tracking
	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	// Sliding window
	requestTimestamps   []time.Time
	EstimatedDailyLimit int
	windowDuration      time.Duration

	slowResponseThreshold time.Duration
}

// NewEndpointMonitor creates a new monitor with default settings.
func NewEndpointMonitor() *EndpointMonitor {
	return &EndpointMonitor{
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"project rate limit",
			"monthly quota exceeded",
		},
		requestTimestamps:     make([]time.Time, 0),
		EstimatedDailyLimit:   100000, // Conservative estimate
		windowDuration:        24 * time.Hour,
		slowResponseThreshold: 3 * time.Second,
	}
}

// RecordSuccess records a successful request with its latency. A success
// resets the failure streak and brings a dead endpoint back.
func (em *EndpointMonitor) RecordSuccess(latency time.Duration) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.emaLatency == 0 {
		em.emaLatency = latency
	} else {
		em.emaLatency = (em.emaLatency*9 + latency) / 10
	}
	em.consecutiveFails = 0

	now := time.Now()
	em.requestTimestamps = append(em.requestTimestamps, now)

	// Clean old timestamps outside window
	cutoff := now.Add(-em.windowDuration)
	filtered := em.requestTimestamps[:0]
	for _, t := range em.requestTimestamps {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	em.requestTimestamps = filtered
}

// RecordFailure records a failed request.
func (em *EndpointMonitor) RecordFailure() {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.consecutiveFails++
	em.lastFailureTime = time.Now()
}

// RecordThrottle records a rate limiting or blocking response.
func (em *EndpointMonitor) RecordThrottle(statusCode int, retryAfter string) {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.lastThrottleTime = time.Now()

	if statusCode == 429 {
		em.status429Count++
		em.retryAfterDuration = 60 * time.Second
		if d, err := time.ParseDuration(retryAfter + "s"); err == nil && d > 0 {
			em.retryAfterDuration = d
		}
	}

	if statusCode == 403 {
		em.status403Count++
		em.retryAfterDuration = 10 * time.Minute // Longer for IP block
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (em *EndpointMonitor) DetectThrottlePattern(message string) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	lowerMsg := strings.ToLower(message)
	for _, pattern := range em.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// CheckStatus returns the current status of the endpoint. A dead endpoint
// whose cooldown has elapsed reports degraded so the pool probes it with
// live traffic instead of keeping it benched forever.
func (em *EndpointMonitor) CheckStatus() EndpointStatus {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.statusLocked()
}

func (em *EndpointMonitor) statusLocked() EndpointStatus {
	if em.consecutiveFails >= deadThreshold {
		if time.Since(em.lastFailureTime) < deadCooldown {
			return StatusDead
		}
		return StatusDegraded
	}

	// Blocked by 403
	if em.status403Count > 0 && time.Since(em.lastThrottleTime) < em.retryAfterDuration {
		return StatusDead
	}

	// Throttled by 429
	if em.status429Count > 0 && time.Since(em.lastThrottleTime) < em.retryAfterDuration {
		return StatusDegraded
	}

	if em.emaLatency > em.slowResponseThreshold {
		return StatusDegraded
	}

	// Check sliding window usage
	usagePercent := float64(len(em.requestTimestamps)) / float64(em.EstimatedDailyLimit)
	if usagePercent > 0.9 {
		return StatusDegraded
	}

	return StatusHealthy
}

// RetryAfter returns remaining time before throttled traffic is allowed.
func (em *EndpointMonitor) RetryAfter() time.Duration {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if em.retryAfterDuration > 0 {
		remaining := em.retryAfterDuration - time.Since(em.lastThrottleTime)
		if remaining > 0 {
			return remaining
		}
	}
	return 0
}

// AverageLatency returns the latency EMA.
func (em *EndpointMonitor) AverageLatency() time.Duration {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.emaLatency
}

// RequestCount returns number of requests in the given duration.
func (em *EndpointMonitor) RequestCount(duration time.Duration) int {
	em.mu.RLock()
	defer em.mu.RUnlock()

	cutoff := time.Now().Add(-duration)
	count := 0
	for _, t := range em.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// ConsecutiveFailures returns the current failure streak.
func (em *EndpointMonitor) ConsecutiveFailures() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.consecutiveFails
}

// GetStats returns current monitoring statistics.
func (em *EndpointMonitor) GetStats() MonitorStats {
	reqLast1Hour := em.RequestCount(time.Hour)

	em.mu.RLock()
	defer em.mu.RUnlock()

	stats := MonitorStats{
		Status:              em.statusLocked(),
		AverageLatency:      em.emaLatency,
		ConsecutiveFailures: em.consecutiveFails,
		ThrottleCount429:    em.status429Count,
		ThrottleCount403:    em.status403Count,
		RequestsLast1Hour:   reqLast1Hour,
		RequestsLast24Hours: len(em.requestTimestamps),
		EstimatedDailyLimit: em.EstimatedDailyLimit,
	}

	if len(em.requestTimestamps) > 0 {
		stats.UsagePercentage = float64(len(em.requestTimestamps)) / float64(em.EstimatedDailyLimit) * 100
	}

	return stats
}

// SetDailyLimit updates the estimated daily limit.
func (em *EndpointMonitor) SetDailyLimit(limit int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.EstimatedDailyLimit = limit
}
