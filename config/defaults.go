// =============================================================================
// 📦 imagegate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Generation: DefaultGenerationConfig(),
		Retry:      DefaultRetryConfig(),
		Moderation: DefaultModerationConfig(),
		Image:      DefaultImageConfig(),
		Storage:    DefaultStorageConfig(),
		Pipeline:   DefaultPipelineConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Metrics:    DefaultMetricsConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultGenerationConfig 返回默认生成配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		BaseURL:           "https://api.openai.com",
		Model:             "dall-e-2",
		Size:              "512x512",
		ResponseFormat:    "url",
		Timeout:           30 * time.Second,
		UserAgent:         "imagegate/1.0",
		RequestsPerMinute: 60,
	}
}

// DefaultRetryConfig 返回默认重试配置：3 次尝试，固定 5 秒
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    time.Minute,
		Strategy:    "fixed",
	}
}

// DefaultModerationConfig 返回默认审核配置
func DefaultModerationConfig() ModerationConfig {
	return ModerationConfig{
		Threshold:   0.85,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "omni-moderation-latest",
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
	}
}

// DefaultImageConfig 返回默认输出配置
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Width:       512,
		Height:      512,
		Format:      "png",
		JPEGQuality: 90,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Dir: "./data/images",
	}
}

// DefaultPipelineConfig 返回默认编排配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Concurrency: 4,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		TTL:          24 * time.Hour,
		KeyPrefix:    "imagegate:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "imagegate",
		Password:        "",
		Name:            "./data/imagegate.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "imagegate",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "imagegate",
		SampleRate:   0.1,
	}
}
