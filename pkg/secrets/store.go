// Copyright 2026 fanjia1024
// Secret resolution for connector credentials

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// RefPrefix 配置值以此前缀开头时视为 secret 引用
const RefPrefix = "secret://"

// Store Secret 存储接口
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// Config Secret Store 配置
type Config struct {
	Provider   string `mapstructure:"provider"` // env | memory | vault
	EnvPrefix  string `mapstructure:"env_prefix"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultPath  string `mapstructure:"vault_path"`
}

// NewStore 创建 Secret Store，Provider 为空时使用 env
func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "", "env":
		return NewEnvStore(cfg.EnvPrefix), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{Address: cfg.VaultAddr, Token: cfg.VaultToken, PathPrefix: cfg.VaultPath})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// Resolve 解析配置值：secret://KEY 从 store 读取，其余原样返回
func Resolve(ctx context.Context, s Store, value string) (string, error) {
	if !strings.HasPrefix(value, RefPrefix) {
		return value, nil
	}
	if s == nil {
		return "", fmt.Errorf("secret store not configured for %s", value)
	}
	return s.Get(ctx, strings.TrimPrefix(value, RefPrefix))
}

type memoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore 创建内存 secret store（仅开发与测试）
func NewMemoryStore() Store {
	return &memoryStore{secrets: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return v, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

type envStore struct {
	prefix string
}

// NewEnvStore 从环境变量读取，key 会加前缀并转为大写
func NewEnvStore(prefix string) Store {
	return &envStore{prefix: prefix}
}

func (e *envStore) name(key string) string {
	return strings.ToUpper(e.prefix + strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	v := os.Getenv(e.name(key))
	if v == "" {
		return "", fmt.Errorf("environment variable not set: %s", e.name(key))
	}
	return v, nil
}

func (e *envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(e.name(key), value)
}
