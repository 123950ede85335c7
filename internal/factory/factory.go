package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/dependencies/clock"
	"github.com/mcoot/spinroom/internal/dependencies/random"
	"github.com/mcoot/spinroom/internal/mailbox"
	"github.com/mcoot/spinroom/internal/middleware"
	"github.com/mcoot/spinroom/internal/services/auth"
	"github.com/mcoot/spinroom/internal/services/room"
	"github.com/mcoot/spinroom/internal/storage"
	"github.com/mcoot/spinroom/internal/storage/memory"
	redisstorage "github.com/mcoot/spinroom/internal/storage/redis"
	"github.com/mcoot/spinroom/internal/transport/sse"
	"github.com/mcoot/spinroom/internal/transport/ws"
)

// Storage type constants, also used for the mailbox backend
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

const (
	generatedSecretLength   = 48
	generatedSecretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage
	Mailbox mailbox.Mailbox

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Event delivery
	Provider   *delivery.Provider
	Emitter    *delivery.Emitter
	Dispatcher *delivery.Dispatcher

	// Services
	RoomController *room.Controller
	AuthService    *auth.Service

	// Live transports
	Stream    *sse.Stream
	WebSocket *ws.Handler

	RateLimiter *middleware.IPRateLimiter

	closers []io.Closer
}

// Config holds configuration for the application factory
type Config struct {
	// AuthConfig holds configuration for the auth service (optional)
	// If Secret is empty, a random secret is generated and tokens do not
	// survive a restart
	AuthConfig auth.Config
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// MailboxType selects the mailbox backend ("memory" or "redis")
	// If empty, follows StorageType
	MailboxType string
	// RedisConfig holds Redis connection settings (required if either
	// backend is "redis")
	RedisConfig *redisstorage.Config
	// MailboxConfig holds Redis mailbox settings (optional)
	MailboxConfig mailbox.RedisConfig
	// RetryPolicy bounds live delivery attempts (optional)
	RetryPolicy delivery.RetryPolicy
	// WebSocketConfig holds websocket timings (optional)
	WebSocketConfig ws.Config
	// RateLimit holds per-IP API limits (optional)
	RateLimit middleware.RateLimitConfig
}

// dependencies are the swappable leaves an App is built from
type dependencies struct {
	store   storage.Storage
	mailbox mailbox.Mailbox
	clock   clock.Clock
	random  random.Random
	closers []io.Closer
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	clk := clock.New()
	rnd := random.New()

	deps := dependencies{clock: clk, random: rnd}

	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}
	mailboxType := cfg.MailboxType
	if mailboxType == "" {
		mailboxType = storageType
	}

	// Create storage based on type
	var redisClient *redis.Client
	switch storageType {
	case StorageTypeMemory:
		deps.store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		deps.store = redisStore
		deps.closers = append(deps.closers, redisStore)
		redisClient = redisStore.Client()
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	// Create mailbox, sharing the storage connection when both live in Redis
	switch mailboxType {
	case StorageTypeMemory:
		deps.mailbox = mailbox.NewMemory(clk)
	case StorageTypeRedis:
		if redisClient == nil {
			if cfg.RedisConfig == nil {
				_ = closeAll(deps.closers)
				return nil, errors.New("RedisConfig required when MailboxType is redis")
			}
			opts, err := redis.ParseURL(cfg.RedisConfig.URL)
			if err != nil {
				_ = closeAll(deps.closers)
				return nil, fmt.Errorf("invalid Redis URL: %w", err)
			}
			redisClient = redis.NewClient(opts)
			deps.closers = append(deps.closers, redisClient)
		}
		mbCfg := cfg.MailboxConfig
		if mbCfg.TTL == 0 {
			mbCfg = mailbox.DefaultRedisConfig()
		}
		deps.mailbox = mailbox.NewRedis(redisClient, clk, mbCfg)
	default:
		_ = closeAll(deps.closers)
		return nil, errors.New("invalid MailboxType: must be 'memory' or 'redis'")
	}

	authCfg := cfg.AuthConfig
	if authCfg.Secret == "" {
		authCfg.Secret = rnd.String(generatedSecretLength, generatedSecretAlphabet)
		logger.Warn("no auth secret configured, generated an ephemeral one")
	}

	app, err := newWithDependencies(deps, cfg, authCfg, logger)
	if err != nil {
		_ = closeAll(deps.closers)
		return nil, err
	}
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(deps dependencies, cfg Config, authCfg auth.Config, logger *slog.Logger) (*App, error) {
	retry := cfg.RetryPolicy
	if retry.Attempts == 0 {
		retry = delivery.DefaultRetryPolicy()
	}
	wsCfg := cfg.WebSocketConfig
	if wsCfg.PongWait == 0 {
		wsCfg = ws.DefaultConfig()
	}
	rlCfg := cfg.RateLimit
	if rlCfg.RequestsPerMinute == 0 {
		rlCfg = middleware.DefaultRateLimitConfig()
	}

	authService, err := auth.New(deps.store, deps.clock, authCfg)
	if err != nil {
		return nil, err
	}

	provider := delivery.NewProvider(logger)
	emitter := delivery.NewEmitter(provider, deps.mailbox, retry, logger)
	dispatcher, err := delivery.NewDispatcher(emitter, logger)
	if err != nil {
		return nil, err
	}

	roomController := room.NewController(deps.store, dispatcher, deps.clock, deps.random, logger)

	return &App{
		Storage:        deps.store,
		Mailbox:        deps.mailbox,
		Clock:          deps.clock,
		Random:         deps.random,
		Provider:       provider,
		Emitter:        emitter,
		Dispatcher:     dispatcher,
		RoomController: roomController,
		AuthService:    authService,
		Stream:         sse.NewStream(provider, logger),
		WebSocket:      ws.NewHandler(provider, authService, roomController, wsCfg, logger),
		RateLimiter:    middleware.NewIPRateLimiter(rlCfg, deps.clock),
		closers:        deps.closers,
	}, nil
}

// Close stops background delivery and releases backend connections
func (a *App) Close() error {
	var errs []error
	if a.Dispatcher != nil {
		errs = append(errs, a.Dispatcher.Close())
	}
	errs = append(errs, closeAll(a.closers))
	return errors.Join(errs...)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
