package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/maxx-ecosystem/maxxbot/internal/blob/s3"
	"github.com/maxx-ecosystem/maxxbot/internal/cache/redis"
	"github.com/maxx-ecosystem/maxxbot/internal/chain"
	"github.com/maxx-ecosystem/maxxbot/internal/config"
	"github.com/maxx-ecosystem/maxxbot/internal/domain"
	"github.com/maxx-ecosystem/maxxbot/internal/keys"
	"github.com/maxx-ecosystem/maxxbot/internal/notify"
	"github.com/maxx-ecosystem/maxxbot/internal/pricing"
	"github.com/maxx-ecosystem/maxxbot/internal/state"
	"github.com/maxx-ecosystem/maxxbot/internal/store/postgres"
	"github.com/maxx-ecosystem/maxxbot/internal/swap"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional members are nil when their backing config is absent.
type Dependencies struct {
	Wallet *keys.Wallet

	// Chain and market access
	Prices   domain.PriceSource
	Balances domain.BalanceSource
	Gas      domain.GasEstimator
	Executor *swap.Executor

	// Persistence
	States  domain.StateStore
	Actions domain.ActionStore

	// Redis
	Bus         domain.SignalBus
	Cache       domain.PriceCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsWallet returns true for modes that sign transactions.
func needsWallet(mode string) bool {
	switch mode {
	case "reactive", "swing", "burst", "sell-all", "cancel-pending":
		return true
	default:
		return false
	}
}

// needsPostgres returns true for modes that read or write the action log.
func needsPostgres(mode string) bool {
	switch mode {
	case "reactive", "swing", "burst", "monitor", "sell-all", "cancel-pending":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that use the signal bus, price cache, or
// the per-wallet trading lock.
func needsRedis(mode string) bool {
	switch mode {
	case "reactive", "swing", "burst", "monitor", "sell-all", "cancel-pending":
		return true
	default:
		return false
	}
}

// isLoopMode returns true for modes that run until cancelled; only these host
// long-lived background workers such as the archiver.
func isLoopMode(mode string) bool {
	switch mode {
	case "reactive", "swing", "burst", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{}

	// --- Wallet ---
	// Resolved whenever credentials are present so read-only modes can still
	// report balances; signing modes have already been validated to carry one.
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		wallet, err := keys.Resolve(keys.Source{
			RawHex:        cfg.Wallet.PrivateKey,
			EncryptedPath: cfg.Wallet.EncryptedKeyPath,
			Password:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = wallet
	} else if needsWallet(mode) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: mode %q requires wallet credentials", mode)
	}

	// --- Chain ---
	pool, err := chain.NewPool(ctx, cfg.Chain.RPCEndpoints, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, pool.Close)

	fees := chain.NewFeeEstimator(pool, logger)
	deps.Gas = fees
	if deps.Wallet != nil {
		deps.Balances = chain.NewReader(pool, deps.Wallet.Address,
			common.HexToAddress(cfg.Token.Address), logger)
	}

	// --- Pricing ---
	deps.Prices = pricing.NewClient(
		cfg.Pricing.DexScreenerHost, cfg.Pricing.ChainSlug, cfg.Pricing.PairAddress,
		pricing.Options{
			RequestTimeout: cfg.Pricing.RequestTimeout.Duration,
			SmoothingAlpha: cfg.Pricing.SmoothingAlpha,
		}, logger)

	// --- Controller state ---
	deps.States = state.NewFileStore(cfg.Controller.StatePath, logger)

	// --- Swap executor ---
	if deps.Wallet != nil {
		kyber := swap.NewKyberClient(cfg.Kyber.APIHost, cfg.Kyber.ChainSlug, cfg.Kyber.ClientID, logger)
		deps.Executor = swap.NewExecutor(swap.ExecutorConfig{
			Backend:        pool,
			Fees:           fees,
			Kyber:          kyber,
			Wallet:         deps.Wallet,
			ChainID:        cfg.Chain.ChainID,
			TokenAddress:   cfg.Token.Address,
			RouterAddress:  cfg.Kyber.RouterAddress,
			GasLimit:       cfg.Controller.SwapGasUnits,
			ReceiptTimeout: cfg.Controller.ReceiptTimeout.Duration,
		}, logger)
	}

	// --- PostgreSQL action log ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Actions = postgres.NewActionStore(pgClient.Pool())
	}

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewPriceCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 archival ---
	if cfg.Archive.Enabled && isLoopMode(mode) && deps.Actions != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.Actions,
			retention, cfg.Archive.Interval.Duration, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
