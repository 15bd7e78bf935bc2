package object

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 对象不存在
	ErrNotFound = errors.New("object not found")
	// ErrExists overwrite=false 时目标已存在
	ErrExists = errors.New("object already exists")
)

// Store 对象存储接口：对象按 container/name 寻址
type Store interface {
	// Put 写入对象；overwrite 为 false 且已存在时返回 ErrExists
	Put(ctx context.Context, container, name string, data []byte, overwrite bool) error
	// Get 读取对象，不存在时返回 ErrNotFound
	Get(ctx context.Context, container, name string) ([]byte, error)
	// Exists 检查对象是否存在
	Exists(ctx context.Context, container, name string) (bool, error)
	// List 列出容器内对象，按名称排序
	List(ctx context.Context, container string) ([]*ObjectInfo, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, container, name string) error
	// Close 关闭存储连接
	Close() error
}

// ObjectInfo 对象信息
type ObjectInfo struct {
	Container  string    `json:"container"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
