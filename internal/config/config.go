package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SeedConfig models the subset of values we need from settled.json.
type SeedConfig struct {
	Chain struct {
		ChainID   int64  `json:"chainId"`
		RPCURL    string `json:"rpcUrl"`
		BlockTime int    `json:"blockTime"`
	} `json:"chain"`
	Settlement struct {
		PollIntervalMs    int `json:"pollIntervalMs"`
		RefundDelayMs     int `json:"refundDelayMs"`
		AuctionWindowSecs int `json:"auctionWindowSeconds"`
	} `json:"settlement"`
	Recovery struct {
		IntervalSecs   int    `json:"intervalSeconds"`
		LookbackBlocks uint64 `json:"lookbackBlocks"`
	} `json:"recovery"`
	Reconcile struct {
		IntervalSecs int  `json:"intervalSeconds"`
		Disabled     bool `json:"disabled"`
	} `json:"reconcile"`
	Submitter struct {
		MaxAttempts int `json:"maxAttempts"`
	} `json:"submitter"`
	Secrets struct {
		OpsHMACSalt string `json:"opsHmacSalt"`
	} `json:"secrets"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Executor  string `json:"executor"`
	Contracts struct {
		BidVault string `json:"BidVault"`
	} `json:"contracts"`
}

// AppConfig ties together seed + deployment info and derived values.
type AppConfig struct {
	Seed       SeedConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
}

type ServiceConfig struct {
	HTTPPort       int
	OpsHMACSecret  string
	OpsClockSkew   time.Duration
	CleanupBudget  time.Duration
	PostgresDSN    string
	LockTTL        time.Duration
	PollInterval   time.Duration
	RefundDelay    time.Duration
	ScanInterval   time.Duration
	LookbackBlocks uint64
	ReconcileEvery time.Duration
	ReconcileOff   bool
	MaxAttempts    int
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
}

const (
	defaultSeedPath        = "../settled.json"
	defaultDeploymentsPath = "../deployments.json"

	// Lock rows outlive the auction window by this buffer so settlement
	// always sees them before expiry.
	lockTTLBuffer = 5 * time.Minute
)

// Load aggregates configuration from disk and environment. Secrets (signer
// key, DSN, HMAC salt) come only from env.
func Load() (*AppConfig, error) {
	seedPath := envOr("SEED_PATH", defaultSeedPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	window := time.Duration(intOr(seedCfg.Settlement.AuctionWindowSecs, 3600)) * time.Second

	serviceCfg := ServiceConfig{
		HTTPPort:       envOrInt("OPS_HTTP_PORT", 3100),
		OpsHMACSecret:  envOr("OPS_HMAC_SECRET", seedCfg.Secrets.OpsHMACSalt),
		OpsClockSkew:   time.Duration(envOrInt("OPS_HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		CleanupBudget:  time.Duration(envOrInt("CLEANUP_BUDGET_SECONDS", 240)) * time.Second,
		PostgresDSN:    envOr("POSTGRES_DSN", ""),
		LockTTL:        window + lockTTLBuffer,
		PollInterval:   time.Duration(intOr(seedCfg.Settlement.PollIntervalMs, 5000)) * time.Millisecond,
		RefundDelay:    time.Duration(intOr(seedCfg.Settlement.RefundDelayMs, 250)) * time.Millisecond,
		ScanInterval:   time.Duration(intOr(seedCfg.Recovery.IntervalSecs, 600)) * time.Second,
		LookbackBlocks: seedCfg.Recovery.LookbackBlocks,
		ReconcileEvery: time.Duration(intOr(seedCfg.Reconcile.IntervalSecs, 300)) * time.Second,
		ReconcileOff:   seedCfg.Reconcile.Disabled || os.Getenv("RECONCILE_DISABLED") == "1",
		MaxAttempts:    intOr(seedCfg.Submitter.MaxAttempts, 3),
	}

	chainCfg := ChainConfig{
		RPCURL:     envOr("CHAIN_RPC_URL", seedCfg.Chain.RPCURL),
		PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
	}

	return &AppConfig{
		Seed:       *seedCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
	}, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func intOr(val, fallback int) int {
	if val > 0 {
		return val
	}
	return fallback
}
