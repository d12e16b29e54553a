package config

import (
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	redisclient "github.com/vietddude/apex/internal/infra/redis"
	"github.com/vietddude/apex/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Chains    []ChainConfig      `yaml:"chains"`
	Fees      FeeConfig          `yaml:"fees"`
	Bridge    BridgeConfig       `yaml:"bridge"`
	Signing   SigningConfig      `yaml:"signing"`
	Cache     CacheConfig        `yaml:"cache"`
	Budget    BudgetConfig       `yaml:"budget"`
	Retention RetentionConfig    `yaml:"retention"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ChainID domain.ChainID `yaml:"id"`
	// Ecosystem may be left empty for chains the registry knows; it is
	// resolved through domain.EcosystemOf otherwise.
	Ecosystem      domain.Ecosystem `yaml:"ecosystem"`
	FinalityDepth  uint64           `yaml:"finality_depth"`
	ConfirmTimeout time.Duration    `yaml:"confirm_timeout"`
	PollInterval   time.Duration    `yaml:"poll_interval"`
	Providers      []ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for an RPC provider. A non-zero
// DailyQuota caps this endpoint's share of the chain budget; zero
// leaves it on the tracker's default split.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	DailyQuota int    `yaml:"daily_quota"`
}

// FeeConfig holds the pricing guard rails. Amounts are decimal strings
// in the chain's smallest unit.
type FeeConfig struct {
	Multiplier float64 `yaml:"multiplier"` // 0 falls back to the 1.2 default
	MaxFee     string  `yaml:"max_fee"`    // empty means no cap
	Tip        string  `yaml:"tip"`        // Substrate tip, empty means none
}

// BridgeConfig holds cross-chain transfer settings. The bridge stays
// off unless at least one gateway pair is configured.
type BridgeConfig struct {
	Gateways      []GatewayConfig `yaml:"gateways"`
	MaxRetries    uint64          `yaml:"max_retries"`
	InitialDelay  time.Duration   `yaml:"initial_delay"`
	MaxDelay      time.Duration   `yaml:"max_delay"`
	ClaimTTL      time.Duration   `yaml:"claim_ttl"`
	SweepInterval time.Duration   `yaml:"sweep_interval"`
}

// GatewayConfig names the bridge accounts on one chain. Custody receives
// source locks; Reserve pays destination releases and must have a key in
// the signing section.
type GatewayConfig struct {
	Chain   domain.ChainID `yaml:"chain"`
	Custody string         `yaml:"custody"`
	Reserve string         `yaml:"reserve"`
}

// SigningConfig holds key material sources. Values are expected to come
// in through environment expansion, never committed to the file.
type SigningConfig struct {
	Mnemonic string      `yaml:"mnemonic"`
	Keys     []KeyConfig `yaml:"keys"`
}

// KeyConfig describes one signing key. Seed carries hex-encoded raw key
// material; when Seed is empty the key derives from the mnemonic at Path.
type KeyConfig struct {
	Name   string           `yaml:"name"`
	Scheme string           `yaml:"scheme"` // ecdsa, sr25519, ed25519
	Seed   string           `yaml:"seed"`
	Path   string           `yaml:"path"`
	Chains []domain.ChainID `yaml:"chains"`
}

// CacheConfig holds read-cache sizing. Zero values fall back to the
// cache package defaults.
type CacheConfig struct {
	Capacity    int           `yaml:"capacity"`
	BalanceTTL  time.Duration `yaml:"balance_ttl"`
	NonceTTL    time.Duration `yaml:"nonce_ttl"`
	TxStatusTTL time.Duration `yaml:"tx_status_ttl"`
	BlockTTL    time.Duration `yaml:"block_ttl"`
}

// BudgetConfig holds the shared daily RPC quota.
type BudgetConfig struct {
	DailyQuota int `yaml:"daily_quota"`
}

// RetentionConfig holds prune windows. Zero disables that prune.
type RetentionConfig struct {
	Transfers time.Duration `yaml:"transfers"`
	History   time.Duration `yaml:"history"`
}
