// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"malo-handover/pkg/secrets"
)

// Config 应用配置结构体
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Handover    HandoverConfig    `mapstructure:"handover"`
	Transfer    TransferConfig    `mapstructure:"transfer"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Supplier    SupplierConfig    `mapstructure:"supplier"`
	Storage     StorageConfig     `mapstructure:"storage"`
	RunStore    RunStoreConfig    `mapstructure:"runstore"`
	Lock        LockConfig        `mapstructure:"lock"`
	Events      EventsConfig      `mapstructure:"events"`
	Secrets     secrets.Config    `mapstructure:"secrets"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Log         LogConfig         `mapstructure:"log"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port      int             `mapstructure:"port"`
	Host      string          `mapstructure:"host"`
	Timeout   string          `mapstructure:"timeout"`
	APIKey    string          `mapstructure:"api_key"` // 非空时要求 X-Api-Key，支持 secret://KEY
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Sweep API 进程内同时运行超时巡检（单实例部署时无需 Worker）
	Sweep bool `mapstructure:"sweep"`
}

// HandoverConfig 协调引擎参数
type HandoverConfig struct {
	PollInterval     string `mapstructure:"poll_interval"`     // 轮询间隔，如 "5s"
	DefaultDeadline  string `mapstructure:"default_deadline"`  // 请求未给 timeout 时的截止时长
	MaxLifetime      string `mapstructure:"max_lifetime"`      // 超过此时长的 InFlight 运行由巡检强制 TimedOut
	IssueConcurrency int    `mapstructure:"issue_concurrency"` // 并行下发上限，<=0 不限
	RecordContainer  string `mapstructure:"record_container"`  // MaLo 记录所在容器
}

// TransferConfig 数据传输子系统（向对手方下发终止请求）
type TransferConfig struct {
	Type      string          `mapstructure:"type"` // http | loopback
	BaseURL   string          `mapstructure:"base_url"`
	APIKey    string          `mapstructure:"api_key"` // 支持 secret://KEY
	Timeout   string          `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

// RateLimitConfig 下发限流
type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"` // <=0 不限流
	Burst int     `mapstructure:"burst"`
}

// BreakerConfig 每个对手方一个熔断器
type BreakerConfig struct {
	Enable           bool   `mapstructure:"enable"`
	MaxRequests      uint32 `mapstructure:"max_requests"`
	Interval         string `mapstructure:"interval"`
	Timeout          string `mapstructure:"timeout"`
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
}

// NegotiationConfig 合同协商子系统（接入流程）
type NegotiationConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Timeout     string `mapstructure:"timeout"`
	PollTimeout string `mapstructure:"poll_timeout"` // 单次 findNegotiation 的超时
	AssetType   string `mapstructure:"asset_type"`   // 目录过滤类型，默认 MaLo_lfr
}

// SupplierConfig 供应商侧应答（终止请求的被请求方）
type SupplierConfig struct {
	Name              string `mapstructure:"name"`
	ContractContainer string `mapstructure:"contract_container"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Object ObjectConfig `mapstructure:"object"`
}

// ObjectConfig 对象存储配置
type ObjectConfig struct {
	Type     string `mapstructure:"type"` // memory | s3
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
}

// RunStoreConfig 运行记录存储
type RunStoreConfig struct {
	Type string `mapstructure:"type"` // memory | postgres
	DSN  string `mapstructure:"dsn"`  // 支持 secret://KEY
}

// LockConfig 每个 MaLo 的运行互斥锁
type LockConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"`
}

// EventsConfig 结果事件发布
type EventsConfig struct {
	Type     string `mapstructure:"type"` // noop | rabbitmq
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	PollInterval string `mapstructure:"poll_interval"` // 超时巡检间隔
	BatchSize    int    `mapstructure:"batch_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("handover.poll_interval", "5s")
	v.SetDefault("handover.default_deadline", "2m")
	v.SetDefault("handover.max_lifetime", "5m")
	v.SetDefault("handover.issue_concurrency", 8)
	v.SetDefault("handover.record_container", "src-container")
	v.SetDefault("transfer.type", "loopback")
	v.SetDefault("transfer.timeout", "10s")
	v.SetDefault("transfer.breaker.max_requests", 1)
	v.SetDefault("transfer.breaker.interval", "60s")
	v.SetDefault("transfer.breaker.timeout", "30s")
	v.SetDefault("transfer.breaker.failure_threshold", 3)
	v.SetDefault("negotiation.timeout", "10s")
	v.SetDefault("negotiation.poll_timeout", "2s")
	v.SetDefault("negotiation.asset_type", "MaLo_lfr")
	v.SetDefault("supplier.contract_container", "supplier-contracts")
	v.SetDefault("storage.object.type", "memory")
	v.SetDefault("runstore.type", "memory")
	v.SetDefault("lock.type", "memory")
	v.SetDefault("lock.ttl", "10m")
	v.SetDefault("events.type", "noop")
	v.SetDefault("events.exchange", "malo.handover.events")
	v.SetDefault("worker.poll_interval", "30s")
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件；同目录或工作目录下的 .env 会先载入环境变量
func LoadConfig(configPath string) (*Config, error) {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	replaceEnvVars(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// replaceEnvVars 替换形如 ${VAR} 的值
func replaceEnvVars(config *Config) {
	for _, p := range []*string{
		&config.API.APIKey,
		&config.Transfer.APIKey,
		&config.Transfer.BaseURL,
		&config.Negotiation.APIKey,
		&config.Negotiation.BaseURL,
		&config.RunStore.DSN,
		&config.Lock.Password,
		&config.Events.URL,
		&config.Secrets.VaultToken,
	} {
		if strings.HasPrefix(*p, "${") && strings.HasSuffix(*p, "}") {
			if val := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(*p, "${"), "}")); val != "" {
				*p = val
			}
		}
	}
}

// Validate 校验时长字段可解析；同时配置时 lock.ttl 必须长于 handover.max_lifetime
func (c *Config) Validate() error {
	for name, s := range map[string]string{
		"handover.poll_interval":    c.Handover.PollInterval,
		"handover.default_deadline": c.Handover.DefaultDeadline,
		"handover.max_lifetime":     c.Handover.MaxLifetime,
		"transfer.timeout":          c.Transfer.Timeout,
		"worker.poll_interval":      c.Worker.PollInterval,
		"lock.ttl":                  c.Lock.TTL,
	} {
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("配置项 %s 无效: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("配置项 %s 必须为正: %s", name, s)
		}
	}
	if c.Lock.TTL != "" && c.Handover.MaxLifetime != "" {
		ttl, _ := time.ParseDuration(c.Lock.TTL)
		lifetime, _ := time.ParseDuration(c.Handover.MaxLifetime)
		if ttl <= lifetime {
			return fmt.Errorf("lock.ttl (%s) 必须长于 handover.max_lifetime (%s)", c.Lock.TTL, c.Handover.MaxLifetime)
		}
	}
	return nil
}

// Duration 解析时长，空或非法时返回 def
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
