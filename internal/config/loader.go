package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MAXXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MAXXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MAXXBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MAXXBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MAXXBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStringSlice(&cfg.Chain.RPCEndpoints, "MAXXBOT_CHAIN_RPC_ENDPOINTS")
	setInt64(&cfg.Chain.ChainID, "MAXXBOT_CHAIN_ID")
	setStr(&cfg.Chain.NativeSymbol, "MAXXBOT_CHAIN_NATIVE_SYMBOL")

	// ── Token ──
	setStr(&cfg.Token.Address, "MAXXBOT_TOKEN_ADDRESS")
	setStr(&cfg.Token.Symbol, "MAXXBOT_TOKEN_SYMBOL")
	setInt(&cfg.Token.Decimals, "MAXXBOT_TOKEN_DECIMALS")

	// ── Pricing ──
	setStr(&cfg.Pricing.DexScreenerHost, "MAXXBOT_PRICING_DEXSCREENER_HOST")
	setStr(&cfg.Pricing.ChainSlug, "MAXXBOT_PRICING_CHAIN_SLUG")
	setStr(&cfg.Pricing.PairAddress, "MAXXBOT_PRICING_PAIR_ADDRESS")
	setDuration(&cfg.Pricing.RequestTimeout, "MAXXBOT_PRICING_REQUEST_TIMEOUT")
	setFloat64(&cfg.Pricing.SmoothingAlpha, "MAXXBOT_PRICING_SMOOTHING_ALPHA")

	// ── Kyber ──
	setStr(&cfg.Kyber.APIHost, "MAXXBOT_KYBER_API_HOST")
	setStr(&cfg.Kyber.ChainSlug, "MAXXBOT_KYBER_CHAIN_SLUG")
	setStr(&cfg.Kyber.RouterAddress, "MAXXBOT_KYBER_ROUTER_ADDRESS")
	setStr(&cfg.Kyber.ClientID, "MAXXBOT_KYBER_CLIENT_ID")

	// ── Controller ──
	setDuration(&cfg.Controller.TickInterval, "MAXXBOT_CONTROLLER_TICK_INTERVAL")
	setFloat64(&cfg.Controller.SellGainPct, "MAXXBOT_CONTROLLER_SELL_GAIN_PCT")
	setFloat64(&cfg.Controller.RebuyDropPct, "MAXXBOT_CONTROLLER_REBUY_DROP_PCT")
	setInt64(&cfg.Controller.SlippageBps, "MAXXBOT_CONTROLLER_SLIPPAGE_BPS")
	setFloat64(&cfg.Controller.GasCapUSD, "MAXXBOT_CONTROLLER_GAS_CAP_USD")
	setFloat64(&cfg.Controller.ReserveNative, "MAXXBOT_CONTROLLER_RESERVE_NATIVE")
	setFloat64(&cfg.Controller.BudgetUSD, "MAXXBOT_CONTROLLER_BUDGET_USD")
	setFloat64(&cfg.Controller.DustTokens, "MAXXBOT_CONTROLLER_DUST_TOKENS")
	setUint64(&cfg.Controller.SwapGasUnits, "MAXXBOT_CONTROLLER_SWAP_GAS_UNITS")
	setDuration(&cfg.Controller.BalanceMaxAge, "MAXXBOT_CONTROLLER_BALANCE_MAX_AGE")
	setDuration(&cfg.Controller.ReceiptTimeout, "MAXXBOT_CONTROLLER_RECEIPT_TIMEOUT")
	setStr(&cfg.Controller.StatePath, "MAXXBOT_CONTROLLER_STATE_PATH")

	// ── Swing ──
	setFloat64(&cfg.Swing.TargetTokenShare, "MAXXBOT_SWING_TARGET_TOKEN_SHARE")
	setFloat64(&cfg.Swing.BandPct, "MAXXBOT_SWING_BAND_PCT")
	setFloat64(&cfg.Swing.SlicePct, "MAXXBOT_SWING_SLICE_PCT")

	// ── Burst ──
	setInt(&cfg.Burst.MaxCycles, "MAXXBOT_BURST_MAX_CYCLES")
	setFloat64(&cfg.Burst.SellGainPct, "MAXXBOT_BURST_SELL_GAIN_PCT")
	setFloat64(&cfg.Burst.RebuyDropPct, "MAXXBOT_BURST_REBUY_DROP_PCT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "MAXXBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "MAXXBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "MAXXBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MAXXBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MAXXBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "MAXXBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "MAXXBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MAXXBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "MAXXBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MAXXBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MAXXBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MAXXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MAXXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MAXXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MAXXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MAXXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MAXXBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MAXXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MAXXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MAXXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MAXXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MAXXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MAXXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MAXXBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MAXXBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MAXXBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "MAXXBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MAXXBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MAXXBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MAXXBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MAXXBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "MAXXBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MAXXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MAXXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MAXXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MAXXBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MAXXBOT_MODE")
	setStr(&cfg.LogLevel, "MAXXBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
