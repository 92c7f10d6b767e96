package history

import (
	"time"

	"gorm.io/datatypes"
)

// TransferModel 是一次结算 (Settlement) 在关系型数据库里的投影
// 用于快速查询历史 (uplink log)，支持按状态、时间、元数据搜索
type TransferModel struct {
	// 自增主键；ItemID 只保证在单个批次内唯一，不能当主键
	ID uint `gorm:"primaryKey"`

	// 基础元数据 (B-Tree 索引，适合排序和精确查找)
	ItemID string `gorm:"index;type:varchar(64)"`
	Kind   string `gorm:"index;type:varchar(16)"` // text / file / delete / download
	Status string `gorm:"index;type:varchar(16)"` // succeeded / failed / aborted

	// 远端定位
	Key string `gorm:"type:varchar(512)"`
	URL string `gorm:"type:text"`

	// 传输体量与耗时
	Bytes      int64
	DurationMs int64

	// 失败时的人类可读原因
	Error string `gorm:"type:text"`

	// Meta: 后端标识、去重命中与否之类的非结构化数据
	Meta datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
}

// TableName 强制指定表名
func (TransferModel) TableName() string {
	return "transfers"
}
