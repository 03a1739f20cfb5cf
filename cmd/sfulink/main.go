package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"
	"sfulink/internal/core/services"
	httphandlers "sfulink/internal/handlers/http"
	"sfulink/internal/infrastructure/distributed"
	"sfulink/internal/infrastructure/ice"
	"sfulink/internal/infrastructure/middleware"
	"sfulink/internal/infrastructure/monitoring"
	"sfulink/internal/infrastructure/repositories/memory"
	signalinfra "sfulink/internal/infrastructure/signal"
	"sfulink/internal/infrastructure/streams"
	webrtcinfra "sfulink/internal/infrastructure/webrtc"
	"sfulink/pkg/circuitbreaker"
	"sfulink/pkg/config"
	"sfulink/pkg/logger"
	"sfulink/pkg/retry"
	"sfulink/pkg/tracing"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	streamsPath := flag.String("streams", "", "path to a desired streams file, overrides streams.file")
	issueAdmin := flag.Bool("issue-admin-token", false, "print an admin API token and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *streamsPath != "" {
		cfg.Streams.File = *streamsPath
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	clk := clock.New()
	meeting := domain.MeetingInfo{
		MeetingID:   cfg.Session.Meeting.MeetingID,
		VoiceBridge: cfg.Session.Meeting.VoiceBridge,
		UserID:      cfg.Session.Meeting.UserID,
		UserName:    cfg.Session.Meeting.UserName,
		Record:      cfg.Session.Meeting.Record,
	}
	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, meeting, clk)

	if *issueAdmin {
		token, err := tokens.Issue(services.ScopeAdmin)
		if err != nil {
			log.Fatalw("failed to issue admin token", "error", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, tokens, meeting, clk, log); err != nil {
		log.Fatalw("sfulink stopped with error", "error", err)
	}
}

func run(cfg *config.Config, tokens *services.TokenService, meeting domain.MeetingInfo, clk clock.Clock, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("failed to flush traces", "error", err)
		}
	}()

	var metrics ports.MetricsRecorder = services.NopMetrics{}
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(cfg.Monitoring.Namespace)
		metrics = collector
	}

	var (
		redisClient *redis.Client
		bus         *distributed.EventBus
		shared      *distributed.RedisStreamProvider
		targets     []ports.Notifier
	)
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewClient(ctx, distributed.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		bus = distributed.NewEventBus(redisClient, cfg.Redis.Prefix, uuid.NewString(), log)
		shared = distributed.NewRedisStreamProvider(redisClient, bus, cfg.Redis.Prefix, log)
		targets = append(targets, bus)
	}

	notifications := services.NewNotificationService(cfg.Session.NotificationHistory, log, targets...)

	quality, err := services.NewQualityService(services.QualityConfig{
		Enabled:        cfg.Quality.Enabled,
		Profiles:       toProfiles(cfg.Quality.Profiles),
		Thresholds:     toThresholds(cfg.Quality.Thresholds),
		PrivilegeFloor: cfg.Quality.PrivilegeFloor,
	})
	if err != nil {
		return fmt.Errorf("invalid quality configuration: %w", err)
	}
	defaultProfile, _ := quality.Profile(cfg.Session.DefaultProfile)

	status := services.NewConnectionStatusService(services.ConnectionStatusConfig{
		RTTLevels:       []time.Duration{cfg.ConnectionStatus.Warning, cfg.ConnectionStatus.Danger, cfg.ConnectionStatus.Critical},
		RecoveryTimeout: cfg.ConnectionStatus.RecoveryTimeout,
		NotifyFrom:      toLevel(cfg.ConnectionStatus.NotifyFrom),
	}, clk, metrics, notifications, log)
	defer status.Stop()

	channel := signalinfra.NewChannel(signalinfra.Config{
		URL:            cfg.Signal.URL,
		ConnectTimeout: cfg.Signal.ConnectTimeout,
		PingInterval:   cfg.Signal.PingInterval,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		Redial: retry.Config{
			InitialDelay: cfg.Signal.RedialInitial,
			MaxDelay:     cfg.Signal.RedialMax,
			Multiplier:   2,
			Jitter:       true,
		},
		DialRate:  cfg.Signal.DialRate,
		DialBurst: cfg.Signal.DialBurst,
	}, tokens.SignalToken, clk, metrics, log)
	channel.OnRTT(status.Observe)

	engines := webrtcinfra.NewEngineFactory(newEngineConfig(cfg), log)

	credentials := ice.NewFetcher(ice.Config{
		URL:      cfg.ICE.CredentialsURL,
		Timeout:  cfg.ICE.Timeout,
		Fallback: toICEServers(cfg.ICE.FallbackServers),
		Retry: retry.Config{
			Enabled:      cfg.ICE.RetryAttempts > 0,
			MaxAttempts:  cfg.ICE.RetryAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold:    cfg.ICE.BreakerThreshold,
			SuccessThreshold:    1,
			Timeout:             cfg.ICE.BreakerTimeout,
			MaxRequestsHalfOpen: 1,
		},
		CacheTTL: cfg.ICE.CacheTTL,
	}, tokens.SignalToken, log)

	sink, source, err := newSink(cfg, log)
	if err != nil {
		return err
	}
	if source != nil {
		defer source.Wait()
	}

	manager, err := services.NewSessionManager(services.ManagerConfig{
		BaseTimeout:        cfg.Session.BaseTimeout,
		MaxTimeout:         cfg.Session.MaxTimeout,
		PageChangeDebounce: cfg.Session.PageChangeDebounce,
		PaginationEnabled:  cfg.Session.PaginationEnabled,
		Meeting:            meeting,
		DefaultProfile:     defaultProfile,
		EventBuffer:        cfg.Session.EventBuffer,
	}, services.ManagerDeps{
		Registry:    memory.NewSessionRegistry(),
		Channel:     channel,
		Engines:     engines,
		Credentials: credentials,
		Notifier:    notifications,
		Metrics:     metrics,
		Quality:     quality,
		DefaultSink: sink,
		Clock:       clk,
	}, log)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	managerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		managerErr <- manager.Run(ctx)
	}()

	var providers []ports.DesiredStreamProvider
	if cfg.Streams.File != "" {
		providers = append(providers, streams.NewStaticProvider(cfg.Streams.File, cfg.Streams.ReloadInterval, clk, log))
	}
	if shared != nil {
		providers = append(providers, shared)
	}
	for _, p := range providers {
		wg.Add(1)
		go func(p ports.DesiredStreamProvider) {
			defer wg.Done()
			if err := p.Run(ctx, manager.UpdateDesired); err != nil {
				log.Errorw("desired stream provider stopped", "error", err)
			}
		}(p)
	}

	health := monitoring.NewHealthChecker()
	health.AddChannelCheck(channel.State, cfg.Monitoring.HealthCheckInterval)
	if redisClient != nil {
		health.AddRedisCheck(redisClient, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		var publisher httphandlers.DesiredPublisher
		if shared != nil {
			publisher = shared
		}
		srv = &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      newRouter(cfg, tokens, manager, notifications, status, health, publisher, collector, log),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		go func() {
			log.Infow("starting sfulink http server", "address", cfg.HTTP.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err = <-serverErr:
		log.Errorw("http server failed", "error", err)
	case err = <-managerErr:
		log.Errorw("session manager stopped", "error", err)
	}
	stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Errorw("error during server shutdown", "error", shutdownErr)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("error force closing server", "error", closeErr)
			}
		}
	}

	wg.Wait()
	log.Info("sfulink stopped")
	return err
}

func newRouter(
	cfg *config.Config,
	tokens *services.TokenService,
	manager *services.SessionManager,
	notifications *services.NotificationService,
	status *services.ConnectionStatusService,
	health *monitoring.HealthChecker,
	publisher httphandlers.DesiredPublisher,
	collector *monitoring.PrometheusCollector,
	log *zap.SugaredLogger,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:           cfg.HTTP.RateLimit.Enabled,
			RequestsPerSecond: cfg.HTTP.RateLimit.RequestsPerSecond,
			Burst:             cfg.HTTP.RateLimit.Burst,
			MaxConcurrent:     cfg.HTTP.RateLimit.MaxConcurrent,
		}),
	)

	var api []gin.HandlerFunc
	if cfg.Auth.RequireAdminToken {
		api = append(api, middleware.AuthMiddleware(tokens, services.ScopeAdmin))
	}
	httphandlers.NewSessionHandler(manager, notifications, status, health, publisher).SetupRoutes(router, api...)

	if collector != nil {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
		log.Info("prometheus metrics enabled")
	}
	return router
}

// newSink builds the attachment target for negotiated media. Publishers play
// the configured source file, subscribers are recorded.
func newSink(cfg *config.Config, log *zap.SugaredLogger) (ports.Sink, *webrtcinfra.FileSource, error) {
	var publisher, subscriber ports.Sink
	var source *webrtcinfra.FileSource

	if cfg.Media.SourceFile != "" {
		source = webrtcinfra.NewFileSource(cfg.Media.SourceFile, log)
		publisher = source
	}
	if cfg.Media.RecordingDir != "" {
		rec, err := webrtcinfra.NewRecordingSink(cfg.Media.RecordingDir, log)
		if err != nil {
			return nil, nil, err
		}
		subscriber = rec
	}
	if publisher == nil && subscriber == nil {
		return nil, nil, nil
	}
	return &webrtcinfra.RoleSink{Publisher: publisher, Subscriber: subscriber}, source, nil
}

func newEngineConfig(cfg *config.Config) webrtcinfra.Config {
	var c webrtcinfra.Config
	c.PortRange.Min = cfg.Media.PortMin
	c.PortRange.Max = cfg.Media.PortMax
	c.VideoMimeType = cfg.Media.VideoMimeType
	return c
}

func toProfiles(in []config.Profile) []domain.Profile {
	out := make([]domain.Profile, 0, len(in))
	for _, p := range in {
		out = append(out, domain.Profile{
			ID:        p.ID,
			Bitrate:   p.Bitrate,
			Width:     p.Width,
			Height:    p.Height,
			FrameRate: p.FrameRate,
		})
	}
	return out
}

func toThresholds(in []config.Threshold) []services.QualityThreshold {
	out := make([]services.QualityThreshold, 0, len(in))
	for _, t := range in {
		out = append(out, services.QualityThreshold{Publishers: t.Publishers, Profile: t.Profile})
	}
	return out
}

func toICEServers(in []config.ICEServer) []domain.ICEServer {
	out := make([]domain.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, domain.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func toLevel(s string) domain.ConnectionLevel {
	switch s {
	case "warning":
		return domain.LevelWarning
	case "danger":
		return domain.LevelDanger
	case "critical":
		return domain.LevelCritical
	}
	return domain.LevelNormal
}
