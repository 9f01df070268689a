package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// schema meeting_videos / meeting_minutes 表结构，均以 meeting_id 为主键
const schema = `
CREATE TABLE IF NOT EXISTS meeting_videos (
    meeting_id        TEXT PRIMARY KEY,
    file_id           TEXT,
    drive_share_link  TEXT,
    original_filename TEXT,
    uploaded_at       TIMESTAMPTZ,
    uploaded_by       TEXT
);

CREATE TABLE IF NOT EXISTS meeting_minutes (
    meeting_id TEXT PRIMARY KEY,
    transcript TEXT,
    segments   TEXT,
    full_mom   TEXT,
    summary    TEXT,
    created_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ
);
`

// PostgresStore PostgreSQL 记录存储
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore 创建 PostgreSQL 记录存储
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresStore{db: db}, nil
}

// EnsureSchema 建表（幂等）
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化表结构失败: %w", err)
	}
	return nil
}

// sortedColumns 列名排序，保证生成的 SQL 稳定
func sortedColumns(record Record) []string {
	cols := make([]string, 0, len(record))
	for col := range record {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// buildUpsert INSERT ... ON CONFLICT (key) DO UPDATE SET 其余列
func buildUpsert(table, keyColumn string, record Record) (string, []any) {
	cols := sortedColumns(record)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	updates := make([]string, 0, len(cols))

	for i, col := range cols {
		q := pq.QuoteIdentifier(col)
		quoted[i] = q
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[col]
		if col != keyColumn {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		pq.QuoteIdentifier(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		pq.QuoteIdentifier(keyColumn),
	)
	if len(updates) == 0 {
		query += " DO NOTHING"
	} else {
		query += " DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return query, args
}

// buildWhere 等值条件，占位符从 start 开始编号
func buildWhere(filter Filter, start int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), start+i)
		args[i] = filter[col]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildPatch UPDATE ... SET ... WHERE ...
func buildPatch(table string, where Filter, record Record) (string, []any) {
	cols := sortedColumns(record)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), i+1)
		args = append(args, record[col])
	}

	whereSQL, whereArgs := buildWhere(where, len(cols)+1)
	query := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(table), strings.Join(sets, ", "), whereSQL)
	return query, append(args, whereArgs...)
}

// Upsert 插入或合并
func (s *PostgresStore) Upsert(ctx context.Context, table, keyColumn string, record Record) error {
	if _, ok := record[keyColumn]; !ok {
		return fmt.Errorf("记录缺少关联键 %s", keyColumn)
	}

	query, args := buildUpsert(table, keyColumn, record)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return nil
}

// Patch 按条件更新
func (s *PostgresStore) Patch(ctx context.Context, table string, where Filter, record Record) error {
	if len(record) == 0 {
		return nil
	}
	if len(where) == 0 {
		return fmt.Errorf("拒绝无条件更新 %s", table)
	}

	query, args := buildPatch(table, where, record)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("更新 %s 失败: %w", table, err)
	}
	return nil
}

// Query 按条件查询，返回列名 -> 值
func (s *PostgresStore) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	whereSQL, args := buildWhere(filter, 1)
	query := fmt.Sprintf("SELECT * FROM %s%s", pq.QuoteIdentifier(table), whereSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取列信息失败: %w", err)
	}

	out := make([]Record, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("读取记录失败: %w", err)
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历记录失败: %w", err)
	}
	return out, nil
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
