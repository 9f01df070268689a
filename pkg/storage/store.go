package storage

import (
	"context"
	"fmt"
)

// 外部记录存储中的表
const (
	TableMeetingVideos  = "meeting_videos"
	TableMeetingMinutes = "meeting_minutes"
)

// KeyMeetingID 两张表都以 meeting_id 作为关联键
const KeyMeetingID = "meeting_id"

// Record 一行记录，列名 -> 值
type Record map[string]any

// Filter 等值过滤条件，列名 -> 值
type Filter map[string]string

// RecordStore 外部记录存储接口（系统的唯一持久化数据源）
type RecordStore interface {
	// Upsert 插入或按 keyColumn 合并已有记录（只覆盖 record 中出现的列）
	Upsert(ctx context.Context, table, keyColumn string, record Record) error

	// Patch 更新满足 where 条件的记录，没有匹配行不视为错误
	Patch(ctx context.Context, table string, where Filter, record Record) error

	// Query 查询满足 filter 的记录，filter 为空返回全部
	Query(ctx context.Context, table string, filter Filter) ([]Record, error)

	// Close 关闭存储连接
	Close() error
}

// clone 浅拷贝，避免调用方和存储共享 map
func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// matches 记录是否满足全部等值条件
func (r Record) matches(filter Filter) bool {
	for col, want := range filter {
		v, ok := r[col]
		if !ok || v == nil || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}
