package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "GUARDBOT"
	defaultLogLevel        = "info"
	defaultNATSURL         = "nats://localhost:4222"
	defaultKeywordsPath    = "keywords.json"
	defaultRewardStore     = StoreFile
	defaultPoolPath        = "cards.txt"
	defaultUsagePath       = "usage.json"
	defaultSQLitePath      = "guardbot.db"
	defaultTimezone        = "Asia/Shanghai"
	defaultMetricsAddress  = ":9090"
	defaultAuditLogPath    = "logs/kick.log"
	defaultCooldown        = 10 * time.Second
	defaultViolationWindow = 24 * time.Hour
)

// Reward store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// OCR provider names, in the order they are tried by default.
var knownProviders = []string{"ocr.space", "baidu", "ydocr"}

// Default reply texts. {code}, {keywords}, {remaining} and {count} are
// substituted when the reply is sent.
const (
	DefaultWelcome            = "欢迎领取每日宣传，请发送游戏截图进行给我验证，截图内宣传内容文字要清晰！"
	DefaultAlreadyClaimed     = "您今天已经领取过卡密了：{code}。每日一次，请明天再来！每日午夜12点刷新！"
	DefaultExhausted          = "抱歉，卡密已经发完了！请联系老G！"
	DefaultIssued             = "验证成功！您的卡密是：{code} 。使用说明：请在游戏内，使用宣传手册，点击兑换卡密领取奖励！"
	DefaultVerificationFailed = "图片验证失败，请确保截图包含以下内容清晰可见！"
	DefaultReloaded           = "关键词重载成功！当前关键词：{keywords}"
	DefaultReloadFailed       = "关键词重载失败，继续使用旧的关键词。"
	DefaultStock              = "当前剩余卡密：{remaining}"
	DefaultRestocked          = "已补充 {count} 个卡密，当前剩余：{remaining}"
	DefaultClaimFailed        = "系统繁忙，卡密发放失败，请稍后再试！"
)

// AppConfig captures runtime configuration for the bot.
type AppConfig struct {
	LogLevel string

	RedisAddress  string // empty keeps cooldowns and violations in memory
	RedisPassword string
	RedisDB       int

	NATSURL   string
	NATSName  string
	NATSQueue string

	KeywordsPath string

	Detector  DetectorConfig
	Reward    RewardConfig
	Cooldown  time.Duration
	Violation ViolationConfig
	OCR       OCRConfig

	Admins  []string
	Replies Replies

	MetricsAddress string

	AuditLogPath     string
	AuditPostgresDSN string
}

// DetectorConfig tunes the filter heuristics.
type DetectorConfig struct {
	LengthThreshold int
	MinDigits       int
}

// RewardConfig selects the code pool store and the day boundary.
type RewardConfig struct {
	Store      string
	PoolPath   string
	UsagePath  string
	SQLitePath string
	MatchCount int
	Timezone   string
	Location   *time.Location
}

// ViolationConfig sets the escalation window and thresholds.
type ViolationConfig struct {
	Window         time.Duration
	TextThreshold  int
	ImageThreshold int
}

// OCRConfig lists the providers and their credentials.
type OCRConfig struct {
	Providers     []string
	Timeout       time.Duration
	FetchTimeout  time.Duration
	MaxImageBytes int64
	FileRoot      string

	OCRSpaceKeys   []string
	BaiduAPIKey    string
	BaiduSecretKey string
	YDOCRUserID    string
	YDOCRUserKey   string
}

// Replies holds the private-message reply templates.
type Replies struct {
	Welcome            string
	AlreadyClaimed     string
	Exhausted          string
	Issued             string
	VerificationFailed string
	Reloaded           string
	ReloadFailed       string
	Stock              string
	Restocked          string
	ClaimFailed        string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", defaultLogLevel)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", defaultNATSURL)
	v.SetDefault("nats.name", "guardbot")
	v.SetDefault("nats.queue", "guardbot")

	v.SetDefault("keywords.path", defaultKeywordsPath)

	v.SetDefault("detector.length_threshold", 200)
	v.SetDefault("detector.min_digits", 8)

	v.SetDefault("reward.store", defaultRewardStore)
	v.SetDefault("reward.pool_path", defaultPoolPath)
	v.SetDefault("reward.usage_path", defaultUsagePath)
	v.SetDefault("reward.sqlite_path", defaultSQLitePath)
	v.SetDefault("reward.match_count", 3)
	v.SetDefault("reward.timezone", defaultTimezone)

	v.SetDefault("cooldown.window", defaultCooldown)

	v.SetDefault("violation.window", defaultViolationWindow)
	v.SetDefault("violation.text_threshold", 3)
	v.SetDefault("violation.image_threshold", 1)

	v.SetDefault("ocr.providers", knownProviders)
	v.SetDefault("ocr.timeout", 15*time.Second)
	v.SetDefault("ocr.fetch_timeout", 10*time.Second)
	v.SetDefault("ocr.max_image_bytes", 10<<20)
	v.SetDefault("ocr.file_root", "")
	v.SetDefault("ocr.ocrspace.keys", []string{})
	v.SetDefault("ocr.baidu.api_key", "")
	v.SetDefault("ocr.baidu.secret_key", "")
	v.SetDefault("ocr.ydocr.user_id", "")
	v.SetDefault("ocr.ydocr.user_key", "")

	v.SetDefault("admins", []string{})

	v.SetDefault("replies.welcome", DefaultWelcome)
	v.SetDefault("replies.already_claimed", DefaultAlreadyClaimed)
	v.SetDefault("replies.exhausted", DefaultExhausted)
	v.SetDefault("replies.issued", DefaultIssued)
	v.SetDefault("replies.verification_failed", DefaultVerificationFailed)
	v.SetDefault("replies.reloaded", DefaultReloaded)
	v.SetDefault("replies.reload_failed", DefaultReloadFailed)
	v.SetDefault("replies.stock", DefaultStock)
	v.SetDefault("replies.restocked", DefaultRestocked)
	v.SetDefault("replies.claim_failed", DefaultClaimFailed)

	v.SetDefault("metrics.address", defaultMetricsAddress)

	v.SetDefault("audit.log_path", defaultAuditLogPath)
	v.SetDefault("audit.postgres_dsn", "")
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LogLevel: v.GetString("log.level"),

		RedisAddress:  v.GetString("redis.address"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),

		NATSURL:   v.GetString("nats.url"),
		NATSName:  v.GetString("nats.name"),
		NATSQueue: v.GetString("nats.queue"),

		KeywordsPath: v.GetString("keywords.path"),

		Detector: DetectorConfig{
			LengthThreshold: v.GetInt("detector.length_threshold"),
			MinDigits:       v.GetInt("detector.min_digits"),
		},
		Reward: RewardConfig{
			Store:      strings.ToLower(strings.TrimSpace(v.GetString("reward.store"))),
			PoolPath:   v.GetString("reward.pool_path"),
			UsagePath:  v.GetString("reward.usage_path"),
			SQLitePath: v.GetString("reward.sqlite_path"),
			MatchCount: v.GetInt("reward.match_count"),
			Timezone:   v.GetString("reward.timezone"),
		},
		Cooldown: v.GetDuration("cooldown.window"),
		Violation: ViolationConfig{
			Window:         v.GetDuration("violation.window"),
			TextThreshold:  v.GetInt("violation.text_threshold"),
			ImageThreshold: v.GetInt("violation.image_threshold"),
		},
		OCR: OCRConfig{
			Providers:      v.GetStringSlice("ocr.providers"),
			Timeout:        v.GetDuration("ocr.timeout"),
			FetchTimeout:   v.GetDuration("ocr.fetch_timeout"),
			MaxImageBytes:  v.GetInt64("ocr.max_image_bytes"),
			FileRoot:       v.GetString("ocr.file_root"),
			OCRSpaceKeys:   v.GetStringSlice("ocr.ocrspace.keys"),
			BaiduAPIKey:    v.GetString("ocr.baidu.api_key"),
			BaiduSecretKey: v.GetString("ocr.baidu.secret_key"),
			YDOCRUserID:    v.GetString("ocr.ydocr.user_id"),
			YDOCRUserKey:   v.GetString("ocr.ydocr.user_key"),
		},

		Admins: v.GetStringSlice("admins"),
		Replies: Replies{
			Welcome:            v.GetString("replies.welcome"),
			AlreadyClaimed:     v.GetString("replies.already_claimed"),
			Exhausted:          v.GetString("replies.exhausted"),
			Issued:             v.GetString("replies.issued"),
			VerificationFailed: v.GetString("replies.verification_failed"),
			Reloaded:           v.GetString("replies.reloaded"),
			ReloadFailed:       v.GetString("replies.reload_failed"),
			Stock:              v.GetString("replies.stock"),
			Restocked:          v.GetString("replies.restocked"),
			ClaimFailed:        v.GetString("replies.claim_failed"),
		},

		MetricsAddress: v.GetString("metrics.address"),

		AuditLogPath:     v.GetString("audit.log_path"),
		AuditPostgresDSN: v.GetString("audit.postgres_dsn"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	loc, err := time.LoadLocation(cfg.Reward.Timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("reward.timezone: %w", err)
	}
	cfg.Reward.Location = loc

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.KeywordsPath) == "" {
		return fmt.Errorf("keywords.path is required")
	}
	switch c.Reward.Store {
	case StoreFile:
		if strings.TrimSpace(c.Reward.PoolPath) == "" || strings.TrimSpace(c.Reward.UsagePath) == "" {
			return fmt.Errorf("reward.pool_path and reward.usage_path are required for the file store")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.Reward.SQLitePath) == "" {
			return fmt.Errorf("reward.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("reward.store must be %q or %q, got %q", StoreFile, StoreSQLite, c.Reward.Store)
	}
	if c.Reward.MatchCount < 1 {
		return fmt.Errorf("reward.match_count must be at least 1")
	}
	if c.Violation.TextThreshold < 1 || c.Violation.ImageThreshold < 1 {
		return fmt.Errorf("violation thresholds must be at least 1")
	}
	if c.Violation.Window <= 0 {
		return fmt.Errorf("violation.window must be positive")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown.window must not be negative")
	}
	if c.Detector.MinDigits < 1 {
		return fmt.Errorf("detector.min_digits must be at least 1, got %d", c.Detector.MinDigits)
	}
	for _, p := range c.OCR.Providers {
		if !slices.Contains(knownProviders, p) {
			return fmt.Errorf("ocr.providers: unknown provider %q", p)
		}
	}
	return nil
}
