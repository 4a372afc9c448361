package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/services"
	redischan "guardlink/internal/infrastructure/channel/redis"
	"guardlink/internal/infrastructure/gateway"
	"guardlink/internal/infrastructure/gateway/auth"
	"guardlink/internal/infrastructure/monitoring"
	"guardlink/internal/infrastructure/transport"
	"guardlink/pkg/config"
	"guardlink/pkg/logger"
	"guardlink/pkg/retry"
	"guardlink/pkg/tracing"
	"guardlink/pkg/utils"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "guardlink-consumer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	redisClient, err := redischan.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer redischan.CloseClient(redisClient, log)

	channel := redischan.NewChannel(redisClient, log)

	requesterID := cfg.Device.RequesterID
	if requesterID == "" {
		requesterID = utils.GenerateRequesterID()
	}

	transportCfg := transport.Config{
		ICEServers:    iceServers(cfg),
		StatsInterval: cfg.Session.StatusInterval,
		Identity:      domain.RequesterID(requesterID),
	}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory, err := transport.NewFactory(transportCfg, log)
	if err != nil {
		log.Fatalw("failed to create transport factory", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	consumer := services.NewConsumer(
		services.ConsumerConfig{
			Identity:     domain.RequesterID(requesterID),
			OfferTimeout: cfg.Session.OfferTimeout,
			PublishRetry: publishRetry(cfg),
		},
		channel,
		factory,
		collector,
		log,
	)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	server := gateway.NewServer(cfg, consumer, tokens, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.PrometheusEnabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infow("metrics endpoint listening", "address", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorw("metrics endpoint failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatalw("gateway failed", "error", err)
		}
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()
	if err := consumer.Close(shutdownCtx); err != nil {
		log.Errorw("error during consumer shutdown", "error", err)
	}
	log.Info("consumer shut down")
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	if len(cfg.WebRTC.ICEServers) == 0 {
		return []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func publishRetry(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Session.PublishAttempts
	rc.InitialDelay = cfg.Session.PublishBackoff
	return rc
}
