// internal/config/profile.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Corphon/ScriptMaster/internal/prompts"
	"gopkg.in/yaml.v3"
)

// Profile YAML 生成配置文件，所有字段可选，只覆盖出现的字段
//
//	model: gpt-4o-mini
//	max_tokens: 3000
//	temperature: 0.8
//	retry_limit: 3
//	min_response_length: 100
//	tones: [Informative, Casual]
//	templates:
//	  outline: |
//	    Outline for '{{.Topic}}' ({{.Tone}})
type Profile struct {
	Provider          string              `yaml:"provider"`
	Model             string              `yaml:"model"`
	MaxTokens         *int                `yaml:"max_tokens"`
	MaxTokensLimit    *int                `yaml:"max_tokens_limit"`
	Temperature       *float32            `yaml:"temperature"`
	TopP              *float32            `yaml:"top_p"`
	RetryLimit        *int                `yaml:"retry_limit"`
	RetryDelay        string              `yaml:"retry_delay"`
	MinResponseLength *int                `yaml:"min_response_length"`
	Tones             []string            `yaml:"tones"`
	Templates         prompts.TemplateSet `yaml:"templates"`
}

// LoadProfile 读取并解析 YAML 配置文件
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取生成配置文件失败: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("解析生成配置文件 %s 失败: %w", path, err)
	}
	if profile.RetryDelay != "" {
		if _, err := time.ParseDuration(profile.RetryDelay); err != nil {
			return nil, fmt.Errorf("retry_delay 无效: %w", err)
		}
	}
	return &profile, nil
}

// Apply 将配置文件中出现的字段覆盖到 cfg
func (p *Profile) Apply(cfg *Config) {
	g := &cfg.Generation

	if p.Provider != "" {
		cfg.LLMProvider = p.Provider
	}
	if p.Model != "" {
		g.Defaults.Model = p.Model
		cfg.LLMConfig["default_model"] = p.Model
	}
	if p.MaxTokens != nil {
		g.Defaults.MaxTokens = *p.MaxTokens
	}
	if p.MaxTokensLimit != nil {
		g.MaxTokensLimit = *p.MaxTokensLimit
	}
	if p.Temperature != nil {
		g.Defaults.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		g.Defaults.TopP = *p.TopP
	}
	if p.RetryLimit != nil {
		g.RetryLimit = *p.RetryLimit
	}
	if p.RetryDelay != "" {
		// LoadProfile 已校验格式
		g.RetryDelay, _ = time.ParseDuration(p.RetryDelay)
	}
	if p.MinResponseLength != nil {
		g.MinResponseLength = *p.MinResponseLength
	}
	if len(p.Tones) > 0 {
		g.Tones = append([]string(nil), p.Tones...)
	}
	g.Templates = g.Templates.Merge(p.Templates)
}
