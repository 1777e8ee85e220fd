package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Predictor PredictorConfig `yaml:"predictor"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PredictorConfig 外部 NLU/策略预测服务配置。
// 约定：预测失败对本轮是致命的，这里不配置任何重试参数。
type PredictorConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// FallbackConfig 兜底状态机配置。会话创建后即不可变。
type FallbackConfig struct {
	// NLUThreshold 意图置信度阈值，严格小于才触发兜底。
	NLUThreshold float64 `yaml:"nlu_threshold"`
	// CoreThreshold 对话策略动作置信度阈值。
	CoreThreshold float64 `yaml:"core_threshold"`
	// EnableTwoStage 为 false 时退化为单段式兜底。
	EnableTwoStage bool `yaml:"enable_two_stage"`
	// UltimateFallbackAction 升级时执行的最终兜底动作。
	UltimateFallbackAction string `yaml:"ultimate_fallback_action"`
	// HandoffOnEscalation 升级后是否转接人工客服。
	HandoffOnEscalation bool `yaml:"handoff_on_escalation"`
	// AffirmIntent/DenyIntent 确认环节用到的意图名。
	AffirmIntent string `yaml:"affirm_intent"`
	DenyIntent   string `yaml:"deny_intent"`
}

type SessionConfig struct {
	MaxInactiveTime time.Duration `yaml:"max_inactive_time"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type PathsConfig struct {
	Intents   string `yaml:"intents"`
	Responses string `yaml:"responses"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 从环境变量覆盖敏感信息
	if apiKey := os.Getenv("PREDICTOR_API_KEY"); apiKey != "" {
		fmt.Printf("🔑 Using PREDICTOR_API_KEY from environment variable\n")
		cfg.Predictor.APIKey = apiKey
	}
	if url := os.Getenv("PREDICTOR_URL"); url != "" {
		fmt.Printf("🔗 Using PREDICTOR_URL from environment: %s\n", url)
		cfg.Predictor.URL = url
	}

	// 打印关键配置
	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Predictor: %s\n", cfg.Predictor.URL)
	fmt.Printf("   NLU Threshold: %.2f\n", cfg.Fallback.NLUThreshold)
	fmt.Printf("   Core Threshold: %.2f\n", cfg.Fallback.CoreThreshold)
	fmt.Printf("   Two-Stage Fallback: %v\n", cfg.Fallback.EnableTwoStage)
	fmt.Printf("   Handoff On Escalation: %v\n", cfg.Fallback.HandoffOnEscalation)
	fmt.Printf("   Intents Path: %s\n", cfg.Paths.Intents)
	fmt.Printf("   Responses Path: %s\n", cfg.Paths.Responses)
	fmt.Printf("\n")

	// 验证必需配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default 返回内置默认配置。阈值默认值与对话框架的惯例一致：
// NLU 0.7、动作 0.4，最终兜底为内置默认兜底动作。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Predictor: PredictorConfig{
			Timeout: 10 * time.Second,
		},
		Fallback: FallbackConfig{
			NLUThreshold:           0.7,
			CoreThreshold:          0.4,
			EnableTwoStage:         true,
			UltimateFallbackAction: "action_default_fallback",
			AffirmIntent:           "affirm",
			DenyIntent:             "deny",
		},
		Session: SessionConfig{
			MaxInactiveTime: 30 * time.Minute,
			SweepInterval:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Paths: PathsConfig{
			Intents:   "server/configs/intents.json",
			Responses: "server/configs/responses.json",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Predictor.URL == "" {
		return fmt.Errorf("predictor URL is required (set PREDICTOR_URL env var or config)")
	}
	if c.Fallback.NLUThreshold < 0 || c.Fallback.NLUThreshold > 1 {
		return fmt.Errorf("nlu_threshold must be in [0,1], got %v", c.Fallback.NLUThreshold)
	}
	if c.Fallback.CoreThreshold < 0 || c.Fallback.CoreThreshold > 1 {
		return fmt.Errorf("core_threshold must be in [0,1], got %v", c.Fallback.CoreThreshold)
	}
	if c.Paths.Intents == "" {
		return fmt.Errorf("intents path is required")
	}
	if c.Paths.Responses == "" {
		return fmt.Errorf("responses path is required")
	}
	return nil
}
