package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moxie_companion/internal/billing"
	"moxie_companion/internal/chat"
	"moxie_companion/internal/config"
	"moxie_companion/internal/docker"
	"moxie_companion/internal/games"
	"moxie_companion/internal/gateway"
	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/logging"
	"moxie_companion/internal/models"
	"moxie_companion/internal/providers"
	"moxie_companion/internal/queue"
	"moxie_companion/internal/ratelimit"
	"moxie_companion/internal/robot"
	"moxie_companion/internal/storage"
	"moxie_companion/internal/usage"
	"moxie_companion/internal/utils"
)

// DefaultChildID is used until a child profile is selected
const DefaultChildID = "default"

const defaultSystemPrompt = "You are Moxie, a friendly robot companion for children. " +
	"Keep answers short, kind and age appropriate. Encourage curiosity and never share unsafe content."

// Dependencies aggregates all services the HTTP layer needs. Robot, Docker
// and Archiver are optional; their routes answer 503 when nil.
type Dependencies struct {
	Gateway   *gateway.Gateway
	Keys      *KeyRing
	Chat      *chat.Session
	Store     *jsonstore.Store
	PINLimit  ratelimit.Limiter
	Recorder  *usage.Recorder
	Dashboard *usage.Dashboard
	Archiver  usage.Archiver
	Games     *games.Service
	Robot     *robot.Controller
	Docker    *docker.Manager

	RequestLogger *logging.RequestLogger
	UsageWorker   *usage.Worker
	Repository    usage.Repository

	db         *storage.DB
	redis      *storage.RedisClient
	usageQueue queue.Queue[models.UsageRecord]
	usageDLQ   queue.DeadLetterQueue[models.UsageRecord]
	logger     *utils.Logger
	now        func() time.Time
}

// NewDependencies builds every service from cfg and starts the background
// workers. Call Close on shutdown.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{logger: utils.NewLogger("httpapi"), now: time.Now}
	ok := false
	defer func() {
		if !ok {
			deps.Close(context.Background())
		}
	}()

	// File store
	var enc *storage.Encryption
	if cfg.Store.EncryptionKey != "" {
		var err error
		enc, err = storage.NewEncryptionFromBase64(cfg.Store.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}
	store, err := jsonstore.Open(cfg.Store.DataDir, jsonstore.Options{
		Encryption: enc,
		CacheSize:  cfg.Store.CacheSize,
		CacheTTL:   cfg.Store.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	deps.Store = store

	// Usage repository
	if cfg.Database.URL != "" {
		db, err := storage.NewDB(storage.DBConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.db = db
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		deps.Repository = db.NewUsageRepository()
	} else {
		deps.logger.Info("No database configured, keeping usage records in memory")
		deps.Repository = usage.NewMemoryRepository()
	}

	// Redis backs the queue, spend tracking and PIN throttling when present
	if cfg.Redis.Address != "" {
		client, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		deps.redis = client
	}

	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.Usage.BatchSize
	queueCfg.BatchTimeout = cfg.Usage.BatchTimeout
	queueCfg.MaxRetries = cfg.Usage.MaxRetries
	queueCfg.RetryBackoff = cfg.Usage.RetryBackoff

	if cfg.Usage.QueueBackend == "redis" && deps.redis != nil {
		deps.usageQueue, err = queue.NewRedisQueue[models.UsageRecord](deps.redis.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		deps.usageDLQ, err = queue.NewRedisDeadLetterQueue[models.UsageRecord](deps.redis.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		deps.usageQueue = queue.NewMemoryQueue[models.UsageRecord](queueCfg)
		deps.usageDLQ = queue.NewMemoryDeadLetterQueue[models.UsageRecord]()
	}

	var spend billing.SpendTracker = billing.NewNoopTracker()
	deps.PINLimit = ratelimit.NewNoopLimiter()
	if deps.redis != nil {
		spend = billing.NewRedisSpendTracker(deps.redis.Client(), cfg.Usage.MonthlyBudgetUSD)
		deps.PINLimit = ratelimit.NewRateLimiter(deps.redis.Client()).WithLimit(cfg.Auth.PINAttemptsPerMinute)
	} else {
		deps.logger.Warn("No Redis configured, PIN attempts are not throttled and spend is not tracked")
	}

	deps.Recorder = usage.NewRecorder(deps.usageQueue, spend)
	deps.UsageWorker = usage.NewWorker(deps.usageQueue, deps.usageDLQ, deps.Repository, queueCfg)
	deps.UsageWorker.Start(context.Background())
	deps.Dashboard = usage.NewDashboard(deps.Repository, cfg.Usage.RetentionMonths)

	if cfg.Usage.Archive.Bucket != "" {
		archiver, err := usage.NewS3Archiver(ctx, usage.S3ArchiverConfig{
			Bucket:    cfg.Usage.Archive.Bucket,
			Region:    cfg.Usage.Archive.Region,
			Prefix:    cfg.Usage.Archive.Prefix,
			Endpoint:  cfg.Usage.Archive.Endpoint,
			AccessKey: cfg.Usage.Archive.AccessKey,
			SecretKey: cfg.Usage.Archive.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize usage archiver: %w", err)
		}
		deps.Archiver = archiver
	}

	// Gateway and chat, restoring the saved provider choice
	settings, err := store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	initial := providers.ID(cfg.Provider.Default)
	if id := providers.ID(settings.Provider); providers.Known(id) {
		initial = id
	}

	deps.Keys = NewKeyRing(cfg.Provider.APIKeys)
	deps.Gateway = gateway.New(gateway.Config{
		Transport:       gateway.NewHTTPTransport(cfg.Provider.RequestTimeout),
		BaseURLs:        cfg.BaseURLs(),
		InitialProvider: initial,
	})
	deps.Gateway.SetAPIKey(deps.Keys.Get(initial))

	model := cfg.Provider.Model
	if settings.Model != "" {
		model = settings.Model
	}
	childID := settings.ChildID
	if childID == "" {
		childID = DefaultChildID
	}
	deps.Chat = chat.NewSession(chat.Config{
		Gateway:      deps.Gateway,
		Recorder:     deps.Recorder,
		Store:        store,
		ChildID:      childID,
		SystemPrompt: defaultSystemPrompt,
		Model:        model,
		Temperature:  settings.Temperature,
	})

	deps.Games = games.NewService(store)

	if cfg.MQTT.BrokerURL != "" {
		deps.Robot = robot.NewController(robot.NewPahoClient(robot.PahoConfig{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}), cfg.MQTT.StatusPollInterval)

		connectCtx, cancel := context.WithTimeout(ctx, cfg.MQTT.ConnectTimeout)
		if err := deps.Robot.Connect(connectCtx); err != nil {
			// The robot is often switched off; /v1/robot/connect retries
			deps.logger.Warn("Robot not reachable", "broker", cfg.MQTT.BrokerURL, "error", err)
		}
		cancel()
	}

	deps.Docker = docker.NewManager(nil, docker.Config{
		Binary:       cfg.Docker.Binary,
		Container:    cfg.Docker.Container,
		Image:        cfg.Docker.Image,
		PollInterval: cfg.Docker.PollInterval,
	})
	deps.Docker.StartPolling()

	if cfg.Log.AccessFile != "" {
		deps.RequestLogger = logging.NewRequestLogger(logging.NewRotatingWriter(cfg.Log.AccessFile, cfg.Log), 256, time.Second)
	}

	ok = true
	return deps, nil
}

// Health checks the optional backing services
func (d *Dependencies) Health(ctx context.Context) map[string]string {
	checks := map[string]string{"store": "ok"}
	if d.db != nil {
		checks["database"] = status(d.db.Health(ctx))
	}
	if d.redis != nil {
		checks["redis"] = status(d.redis.Health(ctx))
	}
	return checks
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// Close stops background work and releases connections
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	if d.Chat != nil {
		d.Chat.Close()
	}
	if d.Robot != nil {
		d.Robot.Disconnect()
	}
	if d.Docker != nil {
		d.Docker.StopPolling()
	}
	if d.Gateway != nil {
		if err := d.Gateway.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if d.UsageWorker != nil {
		done := make(chan struct{})
		go func() {
			d.UsageWorker.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("usage worker did not stop: %w", ctx.Err()))
		}
	}
	if d.usageQueue != nil {
		if err := d.usageQueue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close usage queue: %w", err))
		}
	}
	if d.usageDLQ != nil {
		d.usageDLQ.Close()
	}

	if d.RequestLogger != nil {
		d.RequestLogger.Shutdown()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
