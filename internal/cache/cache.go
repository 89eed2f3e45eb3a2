// Package cache 维护客户端唯一的"当前时间表"。
//
// 缓存内容只能来自服务端成功事件的载荷；读取永不报错，
// 缺失或损坏的条目一律视为"未加载时间表"。
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
	"github.com/gerges15/minia-it-department-sub001/pkg/kvstore"
)

// StorageKey 当前时间表的固定存储键
const StorageKey = "timeTable"

// TimetableCache 本地时间表缓存
type TimetableCache struct {
	store  kvstore.Store
	logger *zap.Logger
}

// New 创建缓存
func New(store kvstore.Store, logger *zap.Logger) *TimetableCache {
	return &TimetableCache{store: store, logger: logger}
}

// Read 读取当前时间表；不存在或损坏时返回 (nil, false)
func (c *TimetableCache) Read(ctx context.Context) (*model.TimetableDocument, bool) {
	raw, err := c.store.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("读取本地时间表失败，按未加载处理", zap.Error(err))
		}
		return nil, false
	}

	doc, err := decode(raw)
	if err != nil {
		c.logger.Warn("本地时间表损坏，按未加载处理",
			zap.Error(&apperrors.CorruptCacheError{Key: StorageKey, Err: err}))
		return nil, false
	}
	return doc, true
}

// Write 覆盖写入当前时间表
func (c *TimetableCache) Write(ctx context.Context, doc *model.TimetableDocument) error {
	if doc == nil {
		return fmt.Errorf("写入缓存的时间表不能为空")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化时间表失败: %w", err)
	}
	if err := c.store.Set(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("写入本地时间表失败: %w", err)
	}
	return nil
}

// WriteRaw 原样写入服务端载荷
//
// 载荷必须能解析为时间表对象，校验通过后按收到的字节保存，不重新序列化，
// 因此缓存内容与服务端 data 逐字节一致，返回解析后的视图。
func (c *TimetableCache) WriteRaw(ctx context.Context, raw json.RawMessage) (*model.TimetableDocument, error) {
	raw = bytes.TrimSpace(raw)
	doc, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("时间表数据无效: %w", err)
	}
	if err := c.store.Set(ctx, StorageKey, raw); err != nil {
		return nil, fmt.Errorf("写入本地时间表失败: %w", err)
	}
	return doc, nil
}

// Clear 删除当前时间表
func (c *TimetableCache) Clear(ctx context.Context) error {
	if err := c.store.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("清除本地时间表失败: %w", err)
	}
	return nil
}

// decode 结构校验：必须是 JSON 对象
func decode(raw []byte) (*model.TimetableDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("不是 JSON 对象")
	}
	var doc model.TimetableDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
