package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Entry 是缓存中一张已通过审核的图像
type Entry struct {
	ArtifactID string    `json:"artifact_id"`
	Location   string    `json:"location"`
	Score      float64   `json:"score"`
	Threshold  float64   `json:"threshold"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImageIndex 把提示词映射到已存储图像的位置，避免重复生成。
// 键包含规范尺寸与模型，配置变化后旧条目自然失效。
type ImageIndex struct {
	manager *Manager
	prefix  string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewImageIndex 创建图像索引
func NewImageIndex(manager *Manager, logger *zap.Logger) *ImageIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageIndex{
		manager: manager,
		prefix:  manager.config.KeyPrefix,
		ttl:     manager.config.DefaultTTL,
		logger:  logger.With(zap.String("component", "image_index")),
	}
}

// Key 计算提示词对应的缓存键
func (idx *ImageIndex) Key(prompt, variant string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	sum := sha256.Sum256([]byte(variant + "\x00" + normalized))
	return idx.prefix + "image:" + hex.EncodeToString(sum[:16])
}

// Lookup 查找缓存条目，未命中返回 ErrCacheMiss
func (idx *ImageIndex) Lookup(ctx context.Context, prompt, variant string) (*Entry, error) {
	var e Entry
	if err := idx.manager.GetJSON(ctx, idx.Key(prompt, variant), &e); err != nil {
		return nil, err
	}
	idx.logger.Debug("image cache hit", zap.String("artifact_id", e.ArtifactID))
	return &e, nil
}

// Remember 记录一张已存储的图像
func (idx *ImageIndex) Remember(ctx context.Context, prompt, variant string, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return idx.manager.SetJSON(ctx, idx.Key(prompt, variant), e, idx.ttl)
}

// Forget 删除提示词对应的条目
func (idx *ImageIndex) Forget(ctx context.Context, prompt, variant string) error {
	return idx.manager.Delete(ctx, idx.Key(prompt, variant))
}
