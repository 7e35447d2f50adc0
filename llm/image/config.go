package image

import "time"

// Config 配置远端生成服务与固定的请求参数.
// Size 和 ResponseFormat 是配置项而不是调用参数，保证下游尺寸一致.
type Config struct {
	APIKey            string         `json:"api_key" yaml:"api_key"`
	BaseURL           string         `json:"base_url" yaml:"base_url"`
	Model             string         `json:"model,omitempty" yaml:"model,omitempty"` // dall-e-2, dall-e-3
	Size              Size           `json:"size" yaml:"size"`
	ResponseFormat    ResponseFormat `json:"response_format" yaml:"response_format"`
	Timeout           time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	RequestsPerMinute int            `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
}

// DefaultConfig 返回默认 OpenAI 图像配置.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.openai.com",
		Model:             "dall-e-2",
		Size:              Size{Width: 512, Height: 512},
		ResponseFormat:    ResponseFormatURL,
		Timeout:           30 * time.Second,
		UserAgent:         "imagegate/1.0",
		RequestsPerMinute: 60,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Size.Width <= 0 || c.Size.Height <= 0 {
		c.Size = def.Size
	}
	if c.ResponseFormat == "" {
		c.ResponseFormat = def.ResponseFormat
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}
