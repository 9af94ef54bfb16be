// Package app wires the tracking pipeline from configuration. The server and
// the ops CLI both build their dependencies through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/anomaly"
	"guardian_tracker/internal/broadcast"
	"guardian_tracker/internal/config"
	"guardian_tracker/internal/dashboard"
	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/ingest"
	"guardian_tracker/internal/logger"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/notify"
	"guardian_tracker/internal/repository"
	"guardian_tracker/internal/risk"
	"guardian_tracker/internal/sweep"
	"guardian_tracker/internal/tracking"
)

// App holds every long-lived component.
type App struct {
	Config     config.Config
	Log        *logrus.Logger
	Store      repository.Store
	Zones      *geofence.Provider
	Evaluator  *geofence.Evaluator
	Hub        *broadcast.Hub
	Dispatcher *notify.Dispatcher
	Machine    *tracking.Machine
	Engine     *anomaly.Engine
	Scorer     *risk.Scorer
	Dashboard  *dashboard.Builder
	Publisher  *dashboard.Publisher
	Runner     *sweep.Runner
	Scheduler  *sweep.Scheduler

	redis  *redis.Client
	relay  *broadcast.RedisRelay
	mqtt   *ingest.Subscriber
	cancel context.CancelFunc
}

// Option adjusts construction, mainly for tests.
type Option func(*options)

type options struct {
	store repository.Store
}

// WithStore uses s instead of the store selected by STORE.
func WithStore(s repository.Store) Option { return func(o *options) { o.store = s } }

// New builds the object graph. It fails when the store or the safe zone
// cannot be resolved; optional integrations (Redis, SMTP, FCM, model
// artifacts) degrade to local fallbacks with a log entry.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; using the built-in development secret.")
	}
	middleware.SetSecret(cfg.JWTSecret)

	a := &App{Config: cfg, Log: log}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(cfg, log); err != nil {
			return nil, err
		}
	}
	a.Store = store

	zone, err := config.LoadSafeZone(ctx, store, cfg.SafeZone)
	if err != nil {
		return nil, fmt.Errorf("safe zone: %w", err)
	}
	a.Zones = geofence.NewProvider(zone)
	a.Evaluator = geofence.NewEvaluator(log)

	a.Hub = broadcast.NewHub(log, 256, 32)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable; using in-process broadcast and sweep leases.")
			a.redis.Close()
			a.redis = nil
		}
	}

	dispatcherOpts := []notify.Option{notify.WithPublisher(a.Hub)}
	if cfg.SMTPHost != "" {
		dispatcherOpts = append(dispatcherOpts, notify.WithEmail(notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     strconv.Itoa(cfg.SMTPPort),
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})))
	}
	if cfg.FCMServerKey != "" {
		dispatcherOpts = append(dispatcherOpts, notify.WithPush(notify.NewFCMSender(cfg.FCMEndpoint, cfg.FCMServerKey)))
	}
	a.Dispatcher = notify.NewDispatcher(store, log, dispatcherOpts...)

	a.Dashboard = dashboard.NewBuilder(store, log)
	a.Publisher = dashboard.NewPublisher(a.Dashboard, a.Hub, broadcast.TopicDashboard, log)

	a.Machine = tracking.NewMachine(store, a.Evaluator, a.Zones, a.Dispatcher, log, tracking.WithObserver(a.Publisher))

	sentiment := anomaly.NewLexiconScorer()
	a.Engine = anomaly.NewEngine(store, a.Dispatcher, log,
		anomaly.WithSentiment(sentiment),
		anomaly.WithLocation(cfg.Location()),
	)

	model, err := risk.LoadOrDefault(cfg.RiskModelPath, cfg.RiskScalerPath)
	if err != nil {
		log.WithError(err).Warn("Risk model artifacts unavailable; using the untrained fallback model.")
	}
	a.Scorer = risk.NewScorer(store, model, log,
		risk.WithSentiment(sentiment),
		risk.WithObserver(a.Publisher),
	)

	var locker sweep.Locker
	if a.redis != nil {
		locker = sweep.NewRedisLocker(a.redis, "guardian:lease:", log)
		a.relay = broadcast.NewRedisRelay(a.redis, "guardian:live:", log)
	}
	a.Runner = sweep.NewRunner(store, a.Machine, a.Engine, a.Scorer, locker, log,
		sweep.WithConcurrency(cfg.SweepConcurrency),
		sweep.WithLeaseTTL(cfg.SweepLeaseTTL),
	)
	a.Scheduler = sweep.NewScheduler(a.Runner, cfg.SweepInterval, log)

	if cfg.MQTTBroker != "" {
		a.mqtt = ingest.NewSubscriber(ingest.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		}, a.Machine, log)
	}
	return a, nil
}

// Start launches the background parts used by the server: the Redis relay,
// the MQTT subscriber and the sweep scheduler.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.relay != nil {
		ready := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			if err := a.relay.Run(ctx, a.Hub, ready); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.WithError(err).Error("Broadcast relay stopped.")
			}
		}()
		select {
		case <-ready:
			a.Hub.SetRelay(a.relay)
		case <-stopped:
			a.Log.Warn("Broadcast relay did not subscribe; delivering locally only.")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.Start(); err != nil {
			return err
		}
	}
	go a.Scheduler.Run(ctx)
	return nil
}

// Close stops background work and releases connections.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.mqtt != nil {
		a.mqtt.Stop()
	}
	a.Publisher.Close()
	a.Hub.Close()
	if a.redis != nil {
		a.redis.Close()
	}
}

func openStore(cfg config.Config, log *logrus.Logger) (repository.Store, error) {
	switch cfg.Store {
	case "memory":
		log.Warn("Using the in-memory store; nothing will be persisted.")
		return repository.NewMemoryStore(), nil
	case "", "postgres":
		db, err := config.InitDB(cfg.DB, logger.GormLogger(log))
		if err != nil {
			return nil, err
		}
		return repository.NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}
