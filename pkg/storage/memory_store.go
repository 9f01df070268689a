package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore 记录存储（内存实现）
// 用于本地开发和测试，进程重启后数据丢失
type MemoryStore struct {
	tables map[string][]Record
	mu     sync.RWMutex
}

// NewMemoryStore 创建内存记录存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Record),
	}
}

// Upsert 按 keyColumn 查找已有记录，存在则合并列，否则追加
func (ms *MemoryStore) Upsert(ctx context.Context, table, keyColumn string, record Record) error {
	key, ok := record[keyColumn]
	if !ok || key == nil {
		return fmt.Errorf("记录缺少关联键 %s", keyColumn)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rows := ms.tables[table]
	for _, row := range rows {
		if fmt.Sprint(row[keyColumn]) == fmt.Sprint(key) {
			for k, v := range record {
				row[k] = v
			}
			return nil
		}
	}

	ms.tables[table] = append(rows, record.clone())
	return nil
}

// Patch 合并满足条件的记录
func (ms *MemoryStore) Patch(ctx context.Context, table string, where Filter, record Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, row := range ms.tables[table] {
		if !row.matches(where) {
			continue
		}
		for k, v := range record {
			row[k] = v
		}
	}
	return nil
}

// Query 返回满足条件的记录副本，按插入顺序
func (ms *MemoryStore) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Record, 0)
	for _, row := range ms.tables[table] {
		if row.matches(filter) {
			out = append(out, row.clone())
		}
	}
	return out, nil
}

// Tables 当前存在的表名（调试用）
func (ms *MemoryStore) Tables() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	names := make([]string, 0, len(ms.tables))
	for name := range ms.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 关闭存储（内存存储无需关闭）
func (ms *MemoryStore) Close() error {
	return nil
}
