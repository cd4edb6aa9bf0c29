// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/prompts"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// 生成参数的允许范围（侧边栏滑块）
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 1
)

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	LogLevel  string `json:"log_level"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"-"` // 含 api_key，不序列化
	LLMTimeout  time.Duration     `json:"llm_timeout"`

	// 生成配置（三个变体合并后的统一配置）
	Generation GenerationConfig `json:"generation"`

	// 会话与导出
	SessionTTL    time.Duration `json:"session_ttl"`
	ExportArchive bool          `json:"export_archive"`
	ProfilePath   string        `json:"profile_path,omitempty"`
}

// GenerationConfig 模型参数、重试策略和提示模板
type GenerationConfig struct {
	Defaults          models.GenerationParams `json:"defaults"`
	MaxTokensLimit    int                     `json:"max_tokens_limit"`
	RetryLimit        int                     `json:"retry_limit"`
	RetryDelay        time.Duration           `json:"retry_delay"`
	MinResponseLength int                     `json:"min_response_length"`
	Tones             []string                `json:"tones"`
	Templates         prompts.TemplateSet     `json:"-"`
}

// APIKey 返回提供者密钥
func (c *Config) APIKey() string {
	if c.LLMConfig == nil {
		return ""
	}
	return c.LLMConfig["api_key"]
}

// Load 从环境变量（以及可选的 .env 和生成配置文件）加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("警告: 读取 .env 失败: %v", err)
	}

	apiKey := getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", ""))

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DataDir:     getEnv("DATA_DIR", "data"),
		LogDir:      getEnv("LOG_DIR", "logs"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		LLMProvider: getEnv("LLM_PROVIDER", "openai"),
		LLMTimeout:  getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		LLMConfig: map[string]string{
			"api_key":  apiKey,
			"base_url": getEnv("LLM_BASE_URL", ""),
		},
		Generation: GenerationConfig{
			Defaults: models.GenerationParams{
				Model:       getEnv("LLM_MODEL", "gpt-3.5-turbo-16k"),
				MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
				Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
				TopP:        getEnvFloat("LLM_TOP_P", 1.0),
			},
			MaxTokensLimit:    getEnvInt("LLM_MAX_TOKENS_LIMIT", 8000),
			RetryLimit:        getEnvInt("RETRY_LIMIT", 3),
			RetryDelay:        getEnvDuration("RETRY_DELAY", time.Second),
			MinResponseLength: getEnvInt("MIN_RESPONSE_LENGTH", 100),
			Tones:             append([]string(nil), models.DefaultTones...),
			Templates:         prompts.DefaultTemplateSet(),
		},
		SessionTTL:    getEnvDuration("SESSION_TTL", 2*time.Hour),
		ExportArchive: getEnvBool("EXPORT_ARCHIVE", true),
		ProfilePath:   getEnv("SCRIPT_PROFILE", ""),
	}
	cfg.LLMConfig["default_model"] = cfg.Generation.Defaults.Model
	cfg.LLMConfig["timeout_seconds"] = strconv.Itoa(int(cfg.LLMTimeout / time.Second))

	if cfg.ProfilePath != "" {
		profile, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置；缺少密钥属于致命的配置错误
func (c *Config) Validate() error {
	if c.APIKey() == "" {
		return apperrors.NewConfigurationError("未设置 OPENAI_API_KEY（或 LLM_API_KEY），请在环境变量或 .env 中配置", nil)
	}
	g := c.Generation
	if g.RetryLimit < 1 {
		return apperrors.NewConfigurationError(fmt.Sprintf("RETRY_LIMIT 必须 >= 1，当前为 %d", g.RetryLimit), nil)
	}
	if g.MinResponseLength < 0 {
		return apperrors.NewConfigurationError("MIN_RESPONSE_LENGTH 不能为负数", nil)
	}
	if g.MaxTokensLimit < MinMaxTokens {
		return apperrors.NewConfigurationError("LLM_MAX_TOKENS_LIMIT 必须为正数", nil)
	}
	if err := ValidateParams(g.Defaults.Temperature, g.Defaults.MaxTokens, g.MaxTokensLimit); err != nil {
		return apperrors.NewConfigurationError("默认生成参数无效", err)
	}
	if g.Defaults.TopP <= 0 || g.Defaults.TopP > 1 {
		return apperrors.NewConfigurationError(fmt.Sprintf("LLM_TOP_P 必须在 (0, 1] 之间，当前为 %v", g.Defaults.TopP), nil)
	}
	if len(g.Tones) == 0 {
		return apperrors.NewConfigurationError("语气列表不能为空", nil)
	}
	// 新会话和重置都使用默认语气
	if !g.HasTone(models.DefaultTone) {
		return apperrors.NewConfigurationError(fmt.Sprintf("语气列表必须包含默认语气 %q", models.DefaultTone), nil)
	}
	if _, err := prompts.NewBuilder(g.Templates); err != nil {
		return apperrors.NewConfigurationError("提示模板无效", err)
	}
	return nil
}

// ValidateParams 校验温度与最大token数
func ValidateParams(temperature float32, maxTokens, maxTokensLimit int) error {
	if temperature < MinTemperature || temperature > MaxTemperature {
		return apperrors.NewValidationError(fmt.Sprintf("temperature 必须在 %.1f 到 %.1f 之间", MinTemperature, MaxTemperature), nil)
	}
	if maxTokens < MinMaxTokens || maxTokens > maxTokensLimit {
		return apperrors.NewValidationError(fmt.Sprintf("max_tokens 必须在 %d 到 %d 之间", MinMaxTokens, maxTokensLimit), nil)
	}
	return nil
}

// HasTone 检查语气是否在可选列表中
func (g GenerationConfig) HasTone(tone string) bool {
	for _, t := range g.Tones {
		if t == tone {
			return true
		}
	}
	return false
}

// InitConfig 加载配置并设为当前配置
func InitConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	SetCurrentConfig(cfg)
	return cfg, nil
}

// SetCurrentConfig 替换当前配置
func SetCurrentConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
}

// GetCurrentConfig 返回当前配置的副本，未初始化时返回 nil
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return nil
	}
	configCopy := *currentConfig
	return &configCopy
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(getEnv(key, ""))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数环境变量，解析失败时使用默认值
func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: 环境变量 %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvFloat 获取浮点环境变量
func getEnvFloat(key string, defaultValue float32) float32 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		log.Printf("警告: 环境变量 %s=%q 不是数字，使用默认值 %v", key, value, defaultValue)
		return defaultValue
	}
	return float32(f)
}

// getEnvDuration 获取时长环境变量，支持 "90s" 或纯秒数
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("警告: 环境变量 %s=%q 不是有效时长，使用默认值 %v", key, value, defaultValue)
	return defaultValue
}
