package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/whisper/guardbot/internal/bot"
	"github.com/whisper/guardbot/internal/config"
	"github.com/whisper/guardbot/internal/logging"
	"github.com/whisper/guardbot/internal/messaging"
	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/ocr"
	"go.uber.org/zap"
)

func loadConfig() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := newRedis(signalCtx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store, _, closeStore, err := rewardStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger, err := newLedger(signalCtx, cfg, store, logger)
	if err != nil {
		return err
	}
	remaining, err := ledger.Remaining(signalCtx)
	if err != nil {
		return err
	}
	metrics.PoolRemaining.Set(float64(remaining))

	recorder, closeAudit, err := newAudit(signalCtx, cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	b, err := bot.New(bot.Dependencies{
		Detector:     newDetector(cfg, logger),
		OCR:          newResolver(cfg, logger),
		Images:       ocr.NewFetcher(cfg.OCR.FetchTimeout, cfg.OCR.MaxImageBytes, ocr.WithFileRoot(cfg.OCR.FileRoot)),
		Cooldown:     newCooldown(cfg, rdb, logger),
		Ledger:       ledger,
		Violations:   newTracker(cfg, rdb, logger),
		Audit:        recorder,
		KeywordsPath: cfg.KeywordsPath,
		Admins:       cfg.Admins,
		Replies:      bot.Replies(cfg.Replies),
		Logger:       logger.Named("bot"),
	})
	if err != nil {
		return err
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.NATSName
	natsConfig.Queue = cfg.NATSQueue
	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := nc.SubscribeEvents(natsConfig.Queue, func(data []byte) {
		b.Dispatch(signalCtx, data, nc)
	}); err != nil {
		return err
	}
	if err := nc.SubscribeReload(b.HandleReload); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("metrics server starting", zap.String("address", cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	logger.Info("moderator running",
		zap.String("nats_url", cfg.NATSURL),
		zap.Bool("redis", rdb != nil),
		zap.String("reward_store", cfg.Reward.Store),
		zap.Int("codes_remaining", remaining))

	select {
	case <-signalCtx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
