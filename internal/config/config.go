package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/store"
)

const (
	defaultPort        = "4949"
	defaultChatModel   = "gpt-3.5-turbo"
	defaultChatBaseURL = "https://api.openai.com/v1"
	defaultMaxTokens   = 150
	defaultPrimaryURL  = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-3-medium-diffusers"
	defaultFallbackURL = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-2"
	defaultTimeoutSecs = 60
	defaultStorePath   = "db.json"
	defaultRedisURL    = "redis://localhost:6379/0"
	defaultRedisKey    = "scene:document"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Chat    ChatConfig
	Image   ImageConfig
	Store   StoreConfig
	Metrics MetricsConfig
}

// Load 从环境变量加载配置。缺少聊天或图像凭证时直接失败。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	timeout, err := loadProviderTimeout()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(timeout)
	if err != nil {
		return nil, err
	}

	image, err := loadImageConfig(timeout)
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Chat:    chat,
		Image:   image,
		Store:   st,
		Metrics: MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := getEnvOrDefault("PORT", defaultPort)

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":4949" 或 "127.0.0.1:4949"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ChatConfig 描述聊天模型相关配置。
type ChatConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	HistoryLimit int
	Timeout      time.Duration
}

// NewChatModel 使用配置创建一个模型实例。回复长度上限在每次调用时单独传入。
func (c ChatConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("chat model: %w", apperr.ErrMissingCredential)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: temperature,
		TopP:        topP,
	}
	if c.Timeout > 0 {
		timeout := c.Timeout
		cfg.Timeout = &timeout
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadChatConfig(timeout time.Duration) (ChatConfig, error) {
	apiKey := firstEnv("CHAT_API_KEY", "OPENAI_API_KEY")
	if apiKey == "" {
		return ChatConfig{}, fmt.Errorf("CHAT_API_KEY or OPENAI_API_KEY: %w", apperr.ErrMissingCredential)
	}

	temperature, err := parseOptionalFloatEnv("CHAT_TEMPERATURE")
	if err != nil {
		return ChatConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("CHAT_TOP_P")
	if err != nil {
		return ChatConfig{}, err
	}

	maxTokens := defaultMaxTokens
	if override, err := parseOptionalIntEnv("CHAT_MAX_TOKENS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		maxTokens = *override
	}

	historyLimit := 0
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	return ChatConfig{
		APIKey:       apiKey,
		Model:        getEnvOrDefault("CHAT_MODEL", defaultChatModel),
		BaseURL:      getEnvOrDefault("CHAT_BASE_URL", defaultChatBaseURL),
		Region:       getEnvOrDefault("CHAT_REGION", ""),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: historyLimit,
		Timeout:      timeout,
	}, nil
}

// ImageConfig 描述文生图服务配置。FallbackURL 为空时不启用备用模型。
type ImageConfig struct {
	APIKey        string
	PrimaryURL    string
	FallbackURL   string
	MaxErrorBytes int64
	Timeout       time.Duration
}

func loadImageConfig(timeout time.Duration) (ImageConfig, error) {
	apiKey := firstEnv("IMAGE_API_KEY", "HUGGINGFACE_API_KEY")
	if apiKey == "" {
		return ImageConfig{}, fmt.Errorf("IMAGE_API_KEY or HUGGINGFACE_API_KEY: %w", apperr.ErrMissingCredential)
	}

	maxBytes, err := parseOptionalIntEnv("IMAGE_MAX_ERROR_BYTES")
	if err != nil {
		return ImageConfig{}, err
	}
	var maxErrorBytes int64
	if maxBytes != nil && *maxBytes > 0 {
		maxErrorBytes = int64(*maxBytes)
	}

	fallbackURL := defaultFallbackURL
	if raw, ok := os.LookupEnv("IMAGE_FALLBACK_URL"); ok {
		fallbackURL = strings.TrimSpace(raw)
	}

	return ImageConfig{
		APIKey:        apiKey,
		PrimaryURL:    getEnvOrDefault("IMAGE_PRIMARY_URL", defaultPrimaryURL),
		FallbackURL:   fallbackURL,
		MaxErrorBytes: maxErrorBytes,
		Timeout:       timeout,
	}, nil
}

// StoreConfig 描述持久化后端。
type StoreConfig struct {
	Driver   store.Driver
	Path     string
	RedisURL string
	RedisKey string
}

// Options 转换为 store.NewStore 的选项。
func (c StoreConfig) Options() []store.Option {
	return []store.Option{
		store.WithPath(c.Path),
		store.WithRedis(c.RedisURL, c.RedisKey),
	}
}

func loadStoreConfig() (StoreConfig, error) {
	driver := store.Driver(strings.ToLower(getEnvOrDefault("STORE_DRIVER", string(store.DriverFile))))
	switch driver {
	case store.DriverFile, store.DriverRedis:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q: %w", driver, store.ErrInvalidDriver)
	}

	return StoreConfig{
		Driver:   driver,
		Path:     getEnvOrDefault("STORE_PATH", defaultStorePath),
		RedisURL: getEnvOrDefault("REDIS_URL", defaultRedisURL),
		RedisKey: getEnvOrDefault("REDIS_KEY", defaultRedisKey),
	}, nil
}

// MetricsConfig 控制 /metrics 是否暴露。
type MetricsConfig struct {
	Enabled bool
}

func loadProviderTimeout() (time.Duration, error) {
	seconds := defaultTimeoutSecs
	override, err := parseOptionalIntEnv("PROVIDER_TIMEOUT_SECONDS")
	if err != nil {
		return 0, err
	}
	if override != nil {
		if *override < 1 {
			return 0, fmt.Errorf("invalid PROVIDER_TIMEOUT_SECONDS value %d: must be positive", *override)
		}
		seconds = *override
	}
	return time.Duration(seconds) * time.Second, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
