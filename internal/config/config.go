// Package config defines the top-level configuration for maxxbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MAXXBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Chain      ChainConfig      `toml:"chain"`
	Token      TokenConfig      `toml:"token"`
	Pricing    PricingConfig    `toml:"pricing"`
	Kyber      KyberConfig      `toml:"kyber"`
	Controller ControllerConfig `toml:"controller"`
	Swing      SwingConfig      `toml:"swing"`
	Burst      BurstConfig      `toml:"burst"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials. Exactly one of
// private_key or encrypted_key_path+key_password should be provided.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds EVM chain connection parameters. Endpoints are tried in
// order; the first healthy one serves requests until it fails.
type ChainConfig struct {
	RPCEndpoints []string `toml:"rpc_endpoints"`
	ChainID      int64    `toml:"chain_id"`
	NativeSymbol string   `toml:"native_symbol"`
}

// TokenConfig identifies the tracked ERC-20 token.
type TokenConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

// PricingConfig holds price feed parameters. PairAddress is the DexScreener
// pair whose quote side is the chain's native asset.
type PricingConfig struct {
	DexScreenerHost string   `toml:"dexscreener_host"`
	ChainSlug       string   `toml:"chain_slug"`
	PairAddress     string   `toml:"pair_address"`
	RequestTimeout  duration `toml:"request_timeout"`
	SmoothingAlpha  float64  `toml:"smoothing_alpha"`
}

// KyberConfig holds KyberSwap aggregator parameters.
type KyberConfig struct {
	APIHost       string `toml:"api_host"`
	ChainSlug     string `toml:"chain_slug"`
	RouterAddress string `toml:"router_address"`
	ClientID      string `toml:"client_id"`
}

// ControllerConfig holds the reactive controller's thresholds and sizing
// parameters. Percentages are fractions (0.05 means 5%).
type ControllerConfig struct {
	TickInterval   duration `toml:"tick_interval"`
	SellGainPct    float64  `toml:"sell_gain_pct"`
	RebuyDropPct   float64  `toml:"rebuy_drop_pct"`
	SlippageBps    int64    `toml:"slippage_bps"`
	GasCapUSD      float64  `toml:"gas_cap_usd"`
	ReserveNative  float64  `toml:"reserve_native"`
	BudgetUSD      float64  `toml:"budget_usd"` // 0 = spend-all sizing
	DustTokens     float64  `toml:"dust_tokens"`
	SwapGasUnits   uint64   `toml:"swap_gas_units"`
	BalanceMaxAge  duration `toml:"balance_max_age"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	StatePath      string   `toml:"state_path"`
}

// SwingConfig holds parameters for the reserve-swing mode, which rebalances
// toward a target token share of portfolio value whenever the share drifts
// outside a band.
type SwingConfig struct {
	TargetTokenShare float64 `toml:"target_token_share"`
	BandPct          float64 `toml:"band_pct"`
	SlicePct         float64 `toml:"slice_pct"`
}

// BurstConfig holds parameters for the burst mode, which runs a bounded
// number of buy/sell round trips and then exits.
type BurstConfig struct {
	MaxCycles    int     `toml:"max_cycles"`
	SellGainPct  float64 `toml:"sell_gain_pct"`
	RebuyDropPct float64 `toml:"rebuy_drop_pct"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the action log.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds action-log archival parameters. Rows older than the
// retention window are exported to S3 as JSONL and pruned from Postgres.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP/WebSocket dashboard server parameters. An empty
// APIKey disables authentication; a zero RateLimitPerMin disables throttling.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCEndpoints: []string{"https://mainnet.base.org"},
			ChainID:      8453,
			NativeSymbol: "ETH",
		},
		Token: TokenConfig{
			Symbol:   "MAXX",
			Decimals: 18,
		},
		Pricing: PricingConfig{
			DexScreenerHost: "https://api.dexscreener.com",
			ChainSlug:       "base",
			RequestTimeout:  duration{10 * time.Second},
			SmoothingAlpha:  0, // 0 disables smoothing
		},
		Kyber: KyberConfig{
			APIHost:       "https://aggregator-api.kyberswap.com",
			ChainSlug:     "base",
			RouterAddress: "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
			ClientID:      "maxxbot",
		},
		Controller: ControllerConfig{
			TickInterval:   duration{30 * time.Second},
			SellGainPct:    0.05,
			RebuyDropPct:   0.05,
			SlippageBps:    100,
			GasCapUSD:      1.0,
			ReserveNative:  0.002,
			BudgetUSD:      0,
			DustTokens:     1.0,
			SwapGasUnits:   350_000,
			BalanceMaxAge:  duration{20 * time.Second},
			ReceiptTimeout: duration{90 * time.Second},
			StatePath:      "maxxbot_state.json",
		},
		Swing: SwingConfig{
			TargetTokenShare: 0.5,
			BandPct:          0.05,
			SlicePct:         0.25,
		},
		Burst: BurstConfig{
			MaxCycles:    3,
			SellGainPct:  0.03,
			RebuyDropPct: 0.03,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "maxxbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "maxxbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"buy", "sell", "dust_flat", "error"},
		},
		Mode:     "reactive",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"reactive":       true,
	"swing":          true,
	"burst":          true,
	"monitor":        true,
	"status":         true,
	"sell-all":       true,
	"cancel-pending": true,
	"encrypt-key":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// tradingModes are the modes that sign and submit transactions and therefore
// need wallet credentials and swap parameters.
var tradingModes = map[string]bool{
	"reactive": true,
	"swing":    true,
	"burst":    true,
	"sell-all": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: reactive, swing, burst, monitor, status, sell-all, cancel-pending, encrypt-key)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is required for modes that sign
	// transactions. cancel-pending signs a replacement transfer, so it
	// needs the wallet even though it never swaps.
	if tradingModes[mode] || mode == "cancel-pending" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if len(c.Chain.RPCEndpoints) == 0 {
		errs = append(errs, "chain: at least one rpc_endpoint is required")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Token
	if mode != "encrypt-key" {
		if c.Token.Address == "" {
			errs = append(errs, "token: address must not be empty")
		}
		if c.Token.Decimals < 0 || c.Token.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("token: decimals must be 0-36, got %d", c.Token.Decimals))
		}
	}

	// Pricing
	if c.Pricing.DexScreenerHost == "" {
		errs = append(errs, "pricing: dexscreener_host must not be empty")
	}
	if mode != "encrypt-key" && c.Pricing.PairAddress == "" {
		errs = append(errs, "pricing: pair_address must not be empty")
	}
	if c.Pricing.SmoothingAlpha < 0 || c.Pricing.SmoothingAlpha >= 1 {
		errs = append(errs, "pricing: smoothing_alpha must be in [0, 1)")
	}

	// Kyber — needed only when swaps can happen.
	if tradingModes[mode] {
		if c.Kyber.APIHost == "" {
			errs = append(errs, "kyber: api_host must not be empty")
		}
		if c.Kyber.RouterAddress == "" {
			errs = append(errs, "kyber: router_address must not be empty")
		}
	}

	// Controller
	if c.Controller.TickInterval.Duration <= 0 {
		errs = append(errs, "controller: tick_interval must be > 0")
	}
	if c.Controller.SellGainPct <= 0 {
		errs = append(errs, "controller: sell_gain_pct must be > 0")
	}
	if c.Controller.RebuyDropPct <= 0 || c.Controller.RebuyDropPct >= 1 {
		errs = append(errs, "controller: rebuy_drop_pct must be in (0, 1)")
	}
	if c.Controller.SlippageBps < 0 || c.Controller.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("controller: slippage_bps must be 0-10000, got %d", c.Controller.SlippageBps))
	}
	if c.Controller.GasCapUSD <= 0 {
		errs = append(errs, "controller: gas_cap_usd must be > 0")
	}
	if c.Controller.ReserveNative < 0 {
		errs = append(errs, "controller: reserve_native must be >= 0")
	}
	if c.Controller.BudgetUSD < 0 {
		errs = append(errs, "controller: budget_usd must be >= 0 (0 = spend all)")
	}
	if c.Controller.DustTokens < 0 {
		errs = append(errs, "controller: dust_tokens must be >= 0")
	}
	if c.Controller.SwapGasUnits == 0 {
		errs = append(errs, "controller: swap_gas_units must be > 0")
	}
	if c.Controller.StatePath == "" {
		errs = append(errs, "controller: state_path must not be empty")
	}

	// Swing
	if mode == "swing" {
		if c.Swing.TargetTokenShare <= 0 || c.Swing.TargetTokenShare >= 1 {
			errs = append(errs, "swing: target_token_share must be in (0, 1)")
		}
		if c.Swing.BandPct <= 0 {
			errs = append(errs, "swing: band_pct must be > 0")
		}
		if c.Swing.SlicePct <= 0 || c.Swing.SlicePct > 1 {
			errs = append(errs, "swing: slice_pct must be in (0, 1]")
		}
	}

	// Burst
	if mode == "burst" {
		if c.Burst.MaxCycles < 1 {
			errs = append(errs, "burst: max_cycles must be >= 1")
		}
		if c.Burst.SellGainPct <= 0 {
			errs = append(errs, "burst: sell_gain_pct must be > 0")
		}
		if c.Burst.RebuyDropPct <= 0 || c.Burst.RebuyDropPct >= 1 {
			errs = append(errs, "burst: rebuy_drop_pct must be in (0, 1)")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only validated when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
