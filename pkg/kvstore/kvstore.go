// Package kvstore 提供本地持久化键值存储能力（对应浏览器 localStorage 的 get/set/remove）。
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/config"
	"github.com/gerges15/minia-it-department-sub001/pkg/redis"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("kvstore: 键不存在")

// Store 键值存储接口
type Store interface {
	// Get 读取键值，键不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 覆盖写入
	Set(ctx context.Context, key string, value []byte) error
	// Remove 删除键，键不存在时不报错
	Remove(ctx context.Context, key string) error
	// Close 释放底层资源
	Close() error
}

// Open 按配置打开存储驱动
func Open(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "badger":
		return OpenBadger(cfg.Storage.Path, logger)
	case "redis":
		client, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedis(client), nil
	case "memory":
		logger.Warn("使用内存存储，进程重启后当前时间表将丢失")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Storage.Driver)
	}
}
