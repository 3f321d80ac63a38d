package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	openai "github.com/sashabaranov/go-openai"
)

// Provider names accepted by CHAT_PROVIDER / STT_PROVIDER / TTS_PROVIDER.
const (
	ProviderOpenAI     = "openai"
	ProviderArk        = "ark"
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	OpenAI OpenAIConfig
	AI     AIConfig
	Speech SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	openAI, err := loadOpenAIConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    loadLogConfig(),
		OpenAI: openAI,
		AI:     ai,
		Speech: speech,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr               string
	AllowedOrigins     []string
	RateLimitPerMinute int
	MaxAudioBytes      int64
}

// loadServerConfig 解析服务器监听地址与入口限制。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	rateLimit := 60
	if override, err := parseOptionalIntEnv("RATE_LIMIT_PER_MINUTE"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rateLimit = *override
	}

	maxAudio := int64(32 << 20)
	if override, err := parseOptionalIntEnv("MAX_AUDIO_BYTES"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return ServerConfig{}, fmt.Errorf("invalid MAX_AUDIO_BYTES value %d: must be positive", *override)
		}
		maxAudio = int64(*override)
	}

	return ServerConfig{
		Addr:               addr,
		AllowedOrigins:     parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: rateLimit,
		MaxAudioBytes:      maxAudio,
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// OpenAIConfig 描述 OpenAI 兼容接口的凭证，聊天、识别、合成共用。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Enabled 表示是否提供了 API Key。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewClient 创建 go-openai 客户端，超时取 UPSTREAM_TIMEOUT。
func (c OpenAIConfig) NewClient() *openai.Client {
	clientCfg := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		clientCfg.BaseURL = c.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: c.Timeout}
	return openai.NewClientWithConfig(clientCfg)
}

func loadOpenAIConfig() (OpenAIConfig, error) {
	timeout, err := parseDurationEnv("UPSTREAM_TIMEOUT", 60*time.Second)
	if err != nil {
		return OpenAIConfig{}, err
	}

	return OpenAIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Timeout: timeout,
	}, nil
}

// AIConfig 描述文本生成相关配置。
type AIConfig struct {
	Provider    string
	OpenAIModel string
	Temperature *float64
	MaxTokens   *int
	Ark         ArkConfig
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个方舟模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
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
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider, err := parseProviderEnv("CHAT_PROVIDER", ProviderOpenAI, ProviderOpenAI, ProviderArk)
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("OPENAI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("OPENAI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	arkCfg, err := loadArkConfig()
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:    provider,
		OpenAIModel: getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Ark:         arkCfg,
	}, nil
}

func loadArkConfig() (ArkConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return ArkConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return ArkConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ArkConfig{}, err
	}

	return ArkConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音识别与合成配置
type SpeechConfig struct {
	STTProvider      string
	TTSProvider      string
	TranscribeModel  string
	Language         string
	TTSModel         string
	TTSVoice         string
	TTSSpeed         float64
	DeepgramAPIKey   string
	DeepgramModel    string
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string
}

func loadSpeechConfig() (SpeechConfig, error) {
	stt, err := parseProviderEnv("STT_PROVIDER", ProviderOpenAI, ProviderOpenAI, ProviderDeepgram)
	if err != nil {
		return SpeechConfig{}, err
	}

	tts, err := parseProviderEnv("TTS_PROVIDER", ProviderOpenAI, ProviderOpenAI, ProviderElevenLabs)
	if err != nil {
		return SpeechConfig{}, err
	}

	speed := 1.0 // 默认1.0倍速
	if override, err := parseOptionalFloatEnv("OPENAI_TTS_SPEED"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		if *override < 0.25 || *override > 4.0 {
			return SpeechConfig{}, fmt.Errorf("invalid OPENAI_TTS_SPEED value %v: must be within [0.25, 4.0]", *override)
		}
		speed = *override
	}

	return SpeechConfig{
		STTProvider:      stt,
		TTSProvider:      tts,
		TranscribeModel:  getEnvOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		Language:         strings.TrimSpace(os.Getenv("STT_LANGUAGE")),
		TTSModel:         getEnvOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		TTSVoice:         getEnvOrDefault("OPENAI_TTS_VOICE", "alloy"),
		TTSSpeed:         speed,
		DeepgramAPIKey:   strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
		DeepgramModel:    getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),
		ElevenLabsAPIKey: strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsVoice:  getEnvOrDefault("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ElevenLabsModel:  getEnvOrDefault("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseProviderEnv(key, defaultValue string, allowed ...string) (string, error) {
	value := strings.ToLower(getEnvOrDefault(key, defaultValue))
	for _, candidate := range allowed {
		if value == candidate {
			return value, nil
		}
	}
	return "", fmt.Errorf("invalid %s value %q: expected one of %s", key, value, strings.Join(allowed, ", "))
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
