package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
)

const uploadIndexKey = "meetflow:uploads:index"

// RedisStatusMirror 上传状态快照镜像
// 内存注册表是权威数据，镜像只用于多副本部署时其他实例的轮询兜底
type RedisStatusMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusMirror 连接 Redis
func NewRedisStatusMirror(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStatusMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return &RedisStatusMirror{client: client, ttl: ttl}, nil
}

// uploadKey 格式: "meetflow:upload:{id}"
func uploadKey(id string) string {
	return fmt.Sprintf("meetflow:upload:%s", id)
}

// Save 写入快照并刷新过期时间，同时维护按更新时间排序的索引
func (m *RedisStatusMirror) Save(ctx context.Context, job models.UploadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化上传状态失败: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, uploadKey(job.ID), data, m.ttl)
	pipe.ZAdd(ctx, uploadIndexKey, redis.Z{
		Score:  float64(job.UpdatedAt.Unix()),
		Member: job.ID,
	})
	if m.ttl > 0 {
		// 索引中超过 TTL 的成员对应的 key 已经过期
		cutoff := time.Now().Add(-m.ttl).Unix()
		pipe.ZRemRangeByScore(ctx, uploadIndexKey, "-inf", fmt.Sprintf("(%d", cutoff))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w", err)
	}
	return nil
}

// Get 读取快照，不存在时返回 ErrNotFound
func (m *RedisStatusMirror) Get(ctx context.Context, id string) (*models.UploadJob, error) {
	data, err := m.client.Get(ctx, uploadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("上传任务不存在: %s: %w", id, mferrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("从 Redis 获取失败: %w", err)
	}

	var job models.UploadJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("反序列化上传状态失败: %w", err)
	}
	return &job, nil
}

// Close 关闭 Redis 连接
func (m *RedisStatusMirror) Close() error {
	return m.client.Close()
}
