// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains health metrics for a single configured chain.
type ChainHealth struct {
	ChainID    string       `json:"chain_id"`
	Ecosystem  string       `json:"ecosystem"`
	Status     SystemStatus `json:"status"`
	HeadNumber uint64       `json:"head_number"`
	Error      string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus     SystemStatus           `json:"system_status"`
	Chains           map[string]ChainHealth `json:"chains"`
	Stores           map[string]string      `json:"stores,omitempty"`
	PendingTransfers int                    `json:"pending_transfers"`
	FailedTransfers  int                    `json:"failed_transfers"`
}
