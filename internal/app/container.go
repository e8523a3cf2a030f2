package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/api/handlers"
	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/infra/db"
	"github.com/acme/call-dispatch-engine/internal/infra/redis"
	"github.com/acme/call-dispatch-engine/internal/queue"
	"github.com/acme/call-dispatch-engine/internal/repository"
	"github.com/acme/call-dispatch-engine/internal/repository/memory"
	pgrepo "github.com/acme/call-dispatch-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/call-dispatch-engine/internal/repository/scylla"
	callsvc "github.com/acme/call-dispatch-engine/internal/service/call"
	callbacksvc "github.com/acme/call-dispatch-engine/internal/service/callback"
	"github.com/acme/call-dispatch-engine/internal/service/callqueue"
	campaignsvc "github.com/acme/call-dispatch-engine/internal/service/campaign"
	inboundsvc "github.com/acme/call-dispatch-engine/internal/service/inbound"
	"github.com/acme/call-dispatch-engine/internal/service/ratelimit"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	"github.com/acme/call-dispatch-engine/internal/telephony/carrier"
	"github.com/acme/call-dispatch-engine/internal/telephony/mock"
	"github.com/acme/call-dispatch-engine/internal/voiceagent"
	"github.com/acme/call-dispatch-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Optional backends; nil when disabled in config.
	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka
	MQTT     *events.MQTTPublisher

	// lazily initialised components
	components struct {
		once      sync.Once
		err       error
		stores    *Stores
		services  *Services
		router    *telephony.Router
		publisher *queue.EventPublisher
		emitter   events.Emitter
	}
}

// Stores are the persistence ports the engine runs on.
type Stores struct {
	Campaigns   repository.CampaignStore
	Business    repository.BusinessConfigStore
	DNC         repository.DNCList
	CallLog     repository.CallLog
	Callbacks   repository.CallbackStore
	Window      ratelimit.Window
	Concurrency ratelimit.Concurrency

	businessWriter repository.BusinessConfigWriter
}

// Services are the engine components.
type Services struct {
	Calls     *callsvc.Service
	Campaigns *campaignsvc.Service
	Callbacks *callbacksvc.Service
	Queue     *callqueue.Queue
	Inbound   *inboundsvc.Service
	Agent     *voiceagent.Client
}

// Build constructs a container for the given configuration path. Only the
// backends enabled in config are dialed.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(ctx, cfg)
}

// BuildWithConfig is Build for an already loaded configuration.
func BuildWithConfig(ctx context.Context, cfg *config.Config) (*Container, error) {
	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: lg}

	if cfg.Postgres.Enabled {
		if c.Postgres, err = db.NewPostgres(ctx, cfg.Postgres); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap postgres: %w", err))
		}
	}
	if cfg.Scylla.Enabled {
		if c.Scylla, err = db.NewScylla(cfg.Scylla); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap scylla: %w", err))
		}
	}
	if cfg.Redis.Enabled {
		if c.Redis, err = redis.NewClient(ctx, cfg.Redis); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap redis: %w", err))
		}
	}
	if cfg.Kafka.Enabled {
		if c.Kafka, err = queue.NewKafka(cfg.Kafka); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap kafka: %w", err))
		}
	}
	if cfg.MQTT.Enabled {
		c.MQTT, err = events.NewMQTTPublisher(events.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, lg.Component("mqtt"))
		if err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap mqtt: %w", err))
		}
	}

	lg.Component("app").Info("container built",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("scylla", c.Scylla != nil),
		zap.Bool("redis", c.Redis != nil),
		zap.Bool("kafka", c.Kafka != nil),
		zap.Bool("mqtt", c.MQTT != nil))
	return c, nil
}

// abort releases whatever was opened before a bootstrap failure.
func (c *Container) abort(err error) error {
	if closeErr := c.Close(context.Background()); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		stores, err := c.buildStores()
		if err != nil {
			c.components.err = err
			return
		}
		if err := c.seedBusinesses(stores); err != nil {
			c.components.err = err
			return
		}
		c.components.stores = stores
		c.components.emitter = c.buildEmitter()
		c.components.router = c.buildRouter()
		c.components.services = c.buildServices(stores, c.components.router, c.components.emitter)
		if err := c.registerCarriers(c.components.router, c.components.services.Calls); err != nil {
			c.components.err = err
		}
	})
	return c.components.err
}

func (c *Container) buildStores() (*Stores, error) {
	cfg := c.Config
	s := &Stores{}

	switch cfg.Storage.Driver {
	case "postgres":
		sqlDB := c.Postgres.DB()
		business := pgrepo.NewBusinessConfigRepository(sqlDB)
		s.Campaigns = pgrepo.NewCampaignRepository(sqlDB)
		s.Business = business
		s.businessWriter = business
		s.DNC = pgrepo.NewDNCRepository(sqlDB)
		s.Callbacks = pgrepo.NewCallbackRepository(sqlDB)
	case "memory":
		business := memory.NewBusinessConfigStore()
		s.Campaigns = memory.NewCampaignStore()
		s.Business = business
		s.businessWriter = business
		s.DNC = memory.NewDNCList()
		s.Callbacks = memory.NewCallbackStore()
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Storage.Driver)
	}

	if c.Scylla != nil {
		s.CallLog = scyllarepo.NewCallLog(c.Scylla.Session())
	} else {
		s.CallLog = memory.NewCallLog()
	}

	if c.Redis != nil {
		s.Window = ratelimit.NewRedisWindow(c.Redis.Inner(), c.Redis.Prefix())
		s.Concurrency = ratelimit.NewRedisConcurrency(c.Redis.Inner(), c.Redis.Prefix(), 2*cfg.Outbound.CompletionTimeout)
	} else {
		s.Window = ratelimit.NewMemoryWindow(nil)
		s.Concurrency = ratelimit.NewMemoryConcurrency()
	}
	return s, nil
}

// seedBusinesses loads the optional YAML business file into the store.
func (c *Container) seedBusinesses(s *Stores) error {
	path := c.Config.Storage.BusinessFile
	if path == "" {
		return nil
	}
	businesses, err := memory.LoadBusinessFile(path)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	ctx := context.Background()
	for _, b := range businesses {
		if err := s.businessWriter.SaveBusiness(ctx, b); err != nil {
			return fmt.Errorf("app: seed business %s: %w", b.ID, err)
		}
	}
	c.Logger.Component("app").Info("business configuration seeded",
		zap.String("file", path),
		zap.Int("businesses", len(businesses)))
	return nil
}

func (c *Container) buildEmitter() events.Emitter {
	var sinks events.Fanout
	if c.Kafka != nil {
		c.components.publisher = queue.NewEventPublisher(c.Kafka, c.Config.Kafka.EventTopic, c.Logger.Component("events"))
		sinks = append(sinks, c.components.publisher)
	}
	if c.MQTT != nil {
		sinks = append(sinks, c.MQTT)
	}
	if len(sinks) == 0 {
		return events.Nop{}
	}
	return sinks
}

func (c *Container) buildRouter() *telephony.Router {
	tel := c.Config.Telephony
	opts := []telephony.RouterOption{
		telephony.WithFailover(tel.FailoverEnabled),
		telephony.WithCheckOnFailure(tel.CheckOnFailure),
		telephony.WithLogger(c.Logger.Component("telephony")),
	}
	if name, ok := telephony.ParseProviderName(tel.PrimaryProvider); ok {
		opts = append(opts, telephony.WithPrimary(name))
	}
	return telephony.NewRouter(opts...)
}

// registerCarriers adds every enabled carrier. The simulated carrier feeds
// its events straight into the call service in place of HTTP webhooks.
func (c *Container) registerCarriers(router *telephony.Router, calls *callsvc.Service) error {
	tel := c.Config.Telephony
	opts := carrier.Options{
		WebhookBaseURL:   tel.WebhookBaseURL,
		DefaultFrom:      tel.DefaultFrom,
		Timeout:          tel.RequestTimeout,
		MachineDetection: tel.MachineDetection,
	}

	if tel.Twilio.Enabled {
		router.Register(carrier.NewTwilio(tel.Twilio, opts), tel.Twilio.Priority)
	}
	if tel.SignalWire.Enabled {
		router.Register(carrier.NewSignalWire(tel.SignalWire, opts), tel.SignalWire.Priority)
	}
	if tel.Plivo.Enabled {
		router.Register(carrier.NewPlivo(tel.Plivo, opts), tel.Plivo.Priority)
	}
	if tel.Telnyx.Enabled {
		router.Register(carrier.NewTelnyx(tel.Telnyx, opts), tel.Telnyx.Priority)
	}

	if tel.Simulate.Enabled {
		sim, err := mock.NewCarrier(tel.Simulate)
		if err != nil {
			return fmt.Errorf("app: simulated carrier: %w", err)
		}
		sim.OnEvent(func(event telephony.WebhookEvent) {
			calls.HandleProviderEvent(context.Background(), event)
		})
		router.Register(sim, tel.Simulate.Priority)
	}

	if len(router.Providers()) == 0 {
		c.Logger.Component("telephony").Warn("no carriers enabled; outbound calls will fail")
	}
	return nil
}

func (c *Container) buildServices(s *Stores, router *telephony.Router, emitter events.Emitter) *Services {
	cfg := c.Config
	agent := voiceagent.NewClient(cfg.VoiceAgent, c.Logger.Component("voiceagent"))

	calls := callsvc.NewService(callsvc.Dependencies{
		Router:      router,
		Agent:       agent,
		Config:      s.Business,
		DNC:         s.DNC,
		CallLog:     s.CallLog,
		Window:      s.Window,
		Concurrency: s.Concurrency,
		Emitter:     emitter,
		Logger:      c.Logger.Component("calls"),
	},
		callsvc.WithCompletion(cfg.Outbound.CompletionTimeout, cfg.Outbound.PollInterval),
		callsvc.WithReapAfter(cfg.Outbound.SessionReapAfter),
		callsvc.WithSessionTTL(cfg.Outbound.SessionTTL),
	)

	campaigns := campaignsvc.NewService(campaignsvc.Dependencies{
		Store:   s.Campaigns,
		Config:  s.Business,
		Dialer:  calls,
		Emitter: emitter,
		Logger:  c.Logger.Component("campaigns"),
	}, campaignsvc.WithDefaultCallsPerMinute(c.Config.Outbound.DefaultCallsPerMinute))

	callbackOpts := []callbacksvc.Option{}
	if cfg.Outbound.CallbackScript != "" {
		callbackOpts = append(callbackOpts, callbacksvc.WithScript(cfg.Outbound.CallbackScript))
	}
	callbacks := callbacksvc.NewService(callbacksvc.Dependencies{
		Store:   s.Callbacks,
		Dialer:  calls,
		Emitter: emitter,
		Logger:  c.Logger.Component("callbacks"),
	}, callbackOpts...)

	var inbound *inboundsvc.Service
	waiting := callqueue.New(emitter,
		callqueue.WithLogger(c.Logger.Component("queue")),
		callqueue.WithActiveCounter(func(businessID string) int { return inbound.ActiveCount(businessID) }),
	)
	inbound = inboundsvc.NewService(inboundsvc.Dependencies{
		Config:    s.Business,
		CallLog:   s.CallLog,
		Queue:     waiting,
		Agent:     agent,
		Router:    router,
		Callbacks: callbacks,
		Emitter:   emitter,
		Logger:    c.Logger.Component("inbound"),
	})

	return &Services{
		Calls:     calls,
		Campaigns: campaigns,
		Callbacks: callbacks,
		Queue:     waiting,
		Inbound:   inbound,
		Agent:     agent,
	}
}

// Stores exposes the initialized persistence ports.
func (c *Container) Stores() (*Stores, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.stores, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*Services, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// Router exposes the telephony router.
func (c *Container) Router() (*telephony.Router, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.router, nil
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() (*handlers.HandlerSet, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	svc := c.components.services
	return handlers.NewHandlerSet(handlers.Dependencies{
		Router:    c.components.router,
		Calls:     svc.Calls,
		Campaigns: svc.Campaigns,
		Callbacks: svc.Callbacks,
		Inbound:   svc.Inbound,
		Logger:    c.Logger.Component("http"),
		Health:    c.healthChecks(),
	}), nil
}

func (c *Container) healthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if c.Postgres != nil {
		checks["postgres"] = func(ctx context.Context) error { return c.Postgres.DB().PingContext(ctx) }
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Inner().Ping(ctx).Err() }
	}
	if c.Scylla != nil {
		checks["scylla"] = func(ctx context.Context) error {
			return c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		}
	}
	return checks
}

// StartEngine starts the background parts of the engine: the provider
// health loop and recovery of persisted campaigns and callbacks.
func (c *Container) StartEngine(ctx context.Context) error {
	if err := c.initComponents(); err != nil {
		return err
	}
	go c.components.router.RunHealthChecks(ctx, c.Config.Telephony.HealthInterval)

	svc := c.components.services
	if err := svc.Campaigns.Recover(ctx); err != nil {
		return fmt.Errorf("app: recover campaigns: %w", err)
	}
	if err := svc.Callbacks.Recover(ctx); err != nil {
		return fmt.Errorf("app: recover callbacks: %w", err)
	}
	return nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if svc := c.components.services; svc != nil {
		svc.Campaigns.Stop()
		svc.Callbacks.Stop()
	}
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.MQTT != nil {
		if err := c.MQTT.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// EnsureTopics ensures the event topic exists.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.EventTopic}, c.Config.Kafka.TopicPartitions, 1)
}
