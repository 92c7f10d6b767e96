package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uplink/pkg/types"

	"gorm.io/datatypes"
)

// Repository 封装所有对传输历史表的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Entry 是写入历史时的输入 (引擎侧的视角，不暴露 gorm model)
type Entry struct {
	ItemID   types.ItemID
	Kind     types.Kind
	Status   types.Status
	Key      string
	URL      string
	Bytes    int64
	Duration time.Duration
	Error    string
	Meta     map[string]any // 后端标识、dedup 命中等
}

// Record 落一条结算记录
// 历史是旁路数据：调用方拿到错误后只该打日志，绝不让它影响结算本身。
func (r *Repository) Record(ctx context.Context, e Entry) error {
	var meta datatypes.JSON
	if len(e.Meta) > 0 {
		raw, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = datatypes.JSON(raw)
	}

	model := TransferModel{
		ItemID:     e.ItemID.String(),
		Kind:       string(e.Kind),
		Status:     string(e.Status),
		Key:        e.Key,
		URL:        e.URL,
		Bytes:      e.Bytes,
		DurationMs: e.Duration.Milliseconds(),
		Error:      e.Error,
		Meta:       meta,
		CreatedAt:  time.Now(),
	}

	if err := r.db.GetConn().WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// Recent 按时间倒序取最近 limit 条
func (r *Repository) Recent(ctx context.Context, limit int) ([]TransferModel, error) {
	var out []TransferModel
	err := r.db.GetConn().WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindByStatus 按结算状态查询 (例如只看失败的)
func (r *Repository) FindByStatus(ctx context.Context, status types.Status, limit int) ([]TransferModel, error) {
	var out []TransferModel
	err := r.db.GetConn().WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountByKind 统计各类操作的累计次数 (uplink log --stats)
func (r *Repository) CountByKind(ctx context.Context, kind types.Kind) (int64, error) {
	var n int64
	err := r.db.GetConn().WithContext(ctx).
		Model(&TransferModel{}).
		Where("kind = ?", string(kind)).
		Count(&n).Error
	return n, err
}
