package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/imagegate/internal/database"
	"github.com/BaSui01/imagegate/llm/moderation"
)

// ModerationRecord 一次审核判定的持久化记录
type ModerationRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	RunID      string    `gorm:"size:36;index" json:"run_id"`
	BatchID    string    `gorm:"size:36;index" json:"batch_id,omitempty"`
	ArtifactID string    `gorm:"size:64;index" json:"artifact_id"`
	Prompt     string    `gorm:"type:text" json:"prompt"`
	Approved   bool      `gorm:"index" json:"approved"`
	Score      float64   `json:"score"`
	Threshold  float64   `json:"threshold"`
	Category   string    `gorm:"size:64" json:"category,omitempty"`
	Reason     string    `gorm:"type:text" json:"reason,omitempty"`
	Location   string    `gorm:"size:512" json:"location,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName 固定表名
func (ModerationRecord) TableName() string { return "moderation_records" }

// Entry 写入审计日志的输入
type Entry struct {
	RunID      string
	BatchID    string
	ArtifactID string
	Prompt     string
	Decision   moderation.Decision
	// Location 仅在图像被保存时非空
	Location string
}

// Filter 查询条件，零值表示不过滤
type Filter struct {
	Approved   *bool
	BatchID    string
	ArtifactID string
	Since      time.Time
	Limit      int
}

// QueryObserver 接收查询耗时，metrics.Collector 实现了该接口
type QueryObserver interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Recorder 审核决策审计日志
type Recorder struct {
	pool     *database.PoolManager
	observer QueryObserver
	logger   *zap.Logger
	now      func() time.Time
}

// Option 配置 Recorder
type Option func(*Recorder)

// WithQueryObserver 上报查询耗时
func WithQueryObserver(o QueryObserver) Option {
	return func(r *Recorder) {
		r.observer = o
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// defaultListLimit List 未指定 Limit 时的上限
const defaultListLimit = 100

// NewRecorder 创建审计记录器并迁移表结构
func NewRecorder(ctx context.Context, pool *database.PoolManager, logger *zap.Logger, opts ...Option) (*Recorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("audit: pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		pool:   pool,
		logger: logger.With(zap.String("component", "audit")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := pool.DB().WithContext(ctx).AutoMigrate(&ModerationRecord{}); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return r, nil
}

// Record 写入一条审核记录并返回其 ID
func (r *Recorder) Record(ctx context.Context, e Entry) (string, error) {
	rec := ModerationRecord{
		ID:         uuid.NewString(),
		RunID:      e.RunID,
		BatchID:    e.BatchID,
		ArtifactID: e.ArtifactID,
		Prompt:     e.Prompt,
		Approved:   e.Decision.Approved,
		Score:      e.Decision.Score,
		Threshold:  e.Decision.Threshold,
		Category:   e.Decision.Category,
		Reason:     e.Decision.Reason,
		Location:   e.Location,
		CreatedAt:  r.now().UTC(),
	}

	start := time.Now()
	err := r.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	r.observe("insert", time.Since(start))
	if err != nil {
		r.logger.Error("failed to record moderation decision",
			zap.String("artifact_id", e.ArtifactID),
			zap.Error(err),
		)
		return "", fmt.Errorf("audit: record decision: %w", err)
	}

	r.logger.Debug("moderation decision recorded",
		zap.String("record_id", rec.ID),
		zap.String("artifact_id", rec.ArtifactID),
		zap.Bool("approved", rec.Approved),
	)
	return rec.ID, nil
}

// List 按创建时间倒序返回记录
func (r *Recorder) List(ctx context.Context, f Filter) ([]ModerationRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := r.pool.DB().WithContext(ctx).Model(&ModerationRecord{})
	if f.Approved != nil {
		q = q.Where("approved = ?", *f.Approved)
	}
	if id := strings.TrimSpace(f.ArtifactID); id != "" {
		q = q.Where("artifact_id = ?", id)
	}
	if id := strings.TrimSpace(f.BatchID); id != "" {
		q = q.Where("batch_id = ?", id)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}

	var records []ModerationRecord
	start := time.Now()
	err := q.Order("created_at DESC").Limit(limit).Find(&records).Error
	r.observe("select", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("audit: list decisions: %w", err)
	}
	return records, nil
}

// Get 按 ID 读取一条记录
func (r *Recorder) Get(ctx context.Context, id string) (*ModerationRecord, error) {
	var rec ModerationRecord
	start := time.Now()
	err := r.pool.DB().WithContext(ctx).First(&rec, "id = ?", id).Error
	r.observe("select", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("audit: get decision %s: %w", id, err)
	}
	return &rec, nil
}

func (r *Recorder) observe(op string, d time.Duration) {
	if r.observer != nil {
		r.observer.RecordDBQuery(r.pool.Driver(), op, d)
	}
}
