package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/whisper/guardbot/internal/audit"
	"github.com/whisper/guardbot/internal/config"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/ocr"
	"github.com/whisper/guardbot/internal/ratelimit"
	"github.com/whisper/guardbot/internal/reward"
	"github.com/whisper/guardbot/internal/violation"
	"go.uber.org/zap"
)

// newResolver builds the provider chain in configured order. Providers
// without credentials are left out.
func newResolver(cfg config.AppConfig, logger *zap.Logger) *ocr.Resolver {
	var providers []ocr.Provider
	for _, name := range cfg.OCR.Providers {
		switch name {
		case "ocr.space":
			if len(cfg.OCR.OCRSpaceKeys) == 0 {
				logger.Warn("ocr provider skipped, no api keys", zap.String("provider", name))
				continue
			}
			providers = append(providers, ocr.NewOCRSpace(cfg.OCR.OCRSpaceKeys))
		case "baidu":
			if cfg.OCR.BaiduAPIKey == "" || cfg.OCR.BaiduSecretKey == "" {
				logger.Warn("ocr provider skipped, no credentials", zap.String("provider", name))
				continue
			}
			providers = append(providers, ocr.NewBaidu(cfg.OCR.BaiduAPIKey, cfg.OCR.BaiduSecretKey))
		case "ydocr":
			if cfg.OCR.YDOCRUserID == "" || cfg.OCR.YDOCRUserKey == "" {
				logger.Warn("ocr provider skipped, no credentials", zap.String("provider", name))
				continue
			}
			providers = append(providers, ocr.NewYDOCR(cfg.OCR.YDOCRUserID, cfg.OCR.YDOCRUserKey))
		}
	}
	return ocr.NewResolver(providers,
		ocr.WithTimeout(cfg.OCR.Timeout),
		ocr.WithLogger(logger.Named("ocr")))
}

// newDetector loads the keyword document. A document that cannot be read
// starts the detector with empty lists; /rl or a reload request fixes it.
func newDetector(cfg config.AppConfig, logger *zap.Logger) *moderation.Detector {
	doc, err := moderation.LoadDocument(cfg.KeywordsPath)
	if err != nil {
		logger.Warn("keyword document not loaded, starting with empty lists",
			zap.String("path", cfg.KeywordsPath), zap.Error(err))
	}
	return moderation.New(moderation.Config{
		LengthThreshold: cfg.Detector.LengthThreshold,
		MinDigits:       cfg.Detector.MinDigits,
		MatchCount:      cfg.Reward.MatchCount,
		Logger:          logger.Named("moderation"),
	}, doc)
}

// newRedis connects when an address is configured. A nil client means the
// in-memory backends are used.
func newRedis(ctx context.Context, cfg config.AppConfig) (*redis.Client, error) {
	if cfg.RedisAddress == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func newCooldown(cfg config.AppConfig, rdb *redis.Client, logger *zap.Logger) ratelimit.Guard {
	if rdb == nil {
		return ratelimit.NewCooldown(cfg.Cooldown, nil)
	}
	return ratelimit.NewRedisCooldown(rdb, cfg.Cooldown, nil, logger.Named("cooldown"))
}

func newTracker(cfg config.AppConfig, rdb *redis.Client, logger *zap.Logger) *violation.Tracker {
	var store violation.Store = violation.NewMemoryStore()
	if rdb != nil {
		store = violation.NewRedisStore(rdb)
	}
	return violation.NewTracker(store, violation.Config{
		Window:         cfg.Violation.Window,
		TextThreshold:  cfg.Violation.TextThreshold,
		ImageThreshold: cfg.Violation.ImageThreshold,
		Logger:         logger.Named("violation"),
	})
}

// rewardStore opens the configured store. The SQL store is also returned on
// its own when selected; the func releases the store.
func rewardStore(cfg config.AppConfig, logger *zap.Logger) (reward.Store, *reward.SQLStore, func(), error) {
	switch cfg.Reward.Store {
	case config.StoreSQLite:
		db, err := reward.OpenSQLite(cfg.Reward.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		s, err := reward.NewSQLStore(db)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}
		return s, s, func() { sqlDB.Close() }, nil
	default:
		return reward.NewFileStore(cfg.Reward.PoolPath, cfg.Reward.UsagePath, logger), nil, func() {}, nil
	}
}

func newLedger(ctx context.Context, cfg config.AppConfig, store reward.Store, logger *zap.Logger) (*reward.Ledger, error) {
	return reward.NewLedger(ctx, store, reward.Config{
		Location: cfg.Reward.Location,
		Logger:   logger.Named("reward"),
	})
}

// newAudit combines the text log and, when a DSN is set, the PostgreSQL
// table. The func releases the database.
func newAudit(ctx context.Context, cfg config.AppConfig) (audit.Recorder, func(), error) {
	var recorders audit.Multi
	if cfg.AuditLogPath != "" {
		recorders = append(recorders, audit.NewFileLog(cfg.AuditLogPath, cfg.Reward.Location))
	}
	if cfg.AuditPostgresDSN == "" {
		return recorders, func() {}, nil
	}

	if err := audit.RunMigrations(cfg.AuditPostgresDSN); err != nil {
		return nil, nil, err
	}
	db, err := audit.OpenPostgres(ctx, cfg.AuditPostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	recorders = append(recorders, audit.NewPostgresLog(db))
	return recorders, func() { db.Close() }, nil
}
