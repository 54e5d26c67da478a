package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/adedejiosvaldo/safetour/backend/internal/config"
	"github.com/adedejiosvaldo/safetour/backend/internal/database"
	"github.com/adedejiosvaldo/safetour/backend/internal/handlers"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/ratelimit"
	"github.com/adedejiosvaldo/safetour/backend/internal/scheduler"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

// idle per-user ping limiters are dropped after this long
const limiterIdle = 30 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.Options{Dir: cfg.LogDir, Production: cfg.IsProduction()})
	defer logger.Sync()
	lg := logger.Named("main")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Postgres
	postgres, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close()
	if err := postgres.Migrate(ctx); err != nil {
		lg.Fatal("failed to apply schema", zap.Error(err))
	}
	lg.Info("connected to postgres")

	// Initialize Redis
	redis, err := database.NewRedisDB(cfg.RedisURL)
	if err != nil {
		lg.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()
	lg.Info("connected to redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Notification channels (optional)
	var sms services.SMSSender
	if cfg.TwilioEnabled() {
		sms = services.NewTwilioSender(cfg)
		lg.Info("twilio sms enabled")
	} else {
		lg.Warn("twilio not configured, sms alerts disabled")
	}

	var push services.PushSender
	if cfg.FCMCredentialsPath != "" {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FCMCredentialsPath))
		if err != nil {
			lg.Warn("failed to initialize firebase", zap.Error(err))
		} else if client, err := app.Messaging(ctx); err != nil {
			lg.Warn("failed to initialize fcm client", zap.Error(err))
		} else {
			push = services.NewFCMSender(client)
			lg.Info("firebase fcm initialized")
		}
	}

	var dispatcher services.Dispatcher
	if len(cfg.KafkaBrokers) > 0 {
		dispatcher = services.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaSOSTopic)
		defer dispatcher.Close()
		lg.Info("kafka dispatch enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaSOSTopic))
	}

	var evidence services.ObjectStore
	if cfg.MinioEnabled() {
		store, err := services.NewMinioStore(cfg)
		if err != nil {
			lg.Fatal("failed to create evidence store", zap.Error(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			lg.Fatal("failed to prepare evidence bucket", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
		evidence = store
		lg.Info("evidence storage enabled", zap.String("bucket", cfg.MinioBucket))
	}

	limiterStore, err := redis.LimiterStore("safetour:limit")
	if err != nil {
		lg.Fatal("failed to create limiter store", zap.Error(err))
	}
	sosQuota := ratelimit.NewQuota(limiterStore, int64(cfg.SOSRateLimitPerHour), time.Hour)
	pingLimiter := ratelimit.NewStore(rate.Limit(cfg.LocationRatePerSecond), cfg.LocationBurst)

	live := services.NewLiveHub(m)
	go live.Run(ctx)

	// Initialize services
	notifier := services.NewAlertEngine(sms, push)
	zones := services.NewZoneService(postgres, cfg.ZoneCacheTTL, m)
	sosSvc := services.NewSOSService(services.SOSDeps{
		Repo:       postgres,
		Users:      postgres,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Live:       live,
		Claimer:    redis,
		Quota:      sosQuota,
		Interval:   cfg.EscalationInterval,
		Metrics:    m,
	})
	anomalies := services.NewAnomalyService(services.AnomalyDeps{
		Users:     postgres,
		State:     redis,
		Logs:      postgres,
		Emergency: postgres,
		Locations: postgres,
		SOS:       sosSvc,
		Notifier:  notifier,
		Location:  cfg.Location,
		Metrics:   m,
	})
	locations := services.NewLocationService(services.LocationDeps{
		Locations: postgres,
		Users:     postgres,
		State:     redis,
		Zones:     zones,
		Notifier:  notifier,
		Limiter:   pingLimiter,
		Anomalies: anomalies,
		Metrics:   m,
	})
	auth := services.NewAuthService(postgres, cfg.JWTSecret, cfg.TokenTTL, cfg.PoliceInviteCode)

	router := handlers.NewRouter(handlers.Services{
		Auth:      auth,
		Profiles:  services.NewProfileService(postgres),
		Locations: locations,
		Zones:     zones,
		Scores:    services.NewScoreService(services.NewScoreSources(zones, postgres, postgres), postgres, cfg.Location, m),
		Anomalies: anomalies,
		SOS:       sosSvc,
		FIRs:      services.NewFIRService(postgres, postgres, evidence, cfg.FIRHashSecret, m),
		Police:    services.NewPoliceService(postgres, postgres, postgres, postgres, postgres, postgres),
		SMS:       services.NewSMSIngest(cfg.SMSHMACSecret, locations, sosSvc),
		Live:      live,
	}, m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	lg.Info("services initialized")

	jobs := scheduler.New(cfg.Location, time.Minute)
	must := func(err error) {
		if err != nil {
			lg.Fatal("failed to schedule job", zap.Error(err))
		}
	}
	must(jobs.Add("sos-escalation", cfg.EscalationSchedule, sosSvc.EscalateDue))
	must(jobs.Add("anomaly-sweep", cfg.AnomalySweepSchedule, anomalies.Sweep))
	must(jobs.Add("limiter-prune", "@every 10m", func(context.Context) (int, error) {
		return pingLimiter.Prune(limiterIdle), nil
	}))
	jobs.Start()

	// Start server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("safetour api listening", zap.String("port", cfg.Port), zap.String("env", cfg.GoEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}

	jobs.Stop()
	locations.Wait()
	sosSvc.Wait()

	lg.Info("server stopped gracefully")
}
