// api meetflow HTTP 服务：上传、进度轮询、会议处理触发和产物查询
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/z-wentao/meetflow/pkg/config"
	"github.com/z-wentao/meetflow/pkg/logging"
	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/objectstore"
	"github.com/z-wentao/meetflow/pkg/persist"
	"github.com/z-wentao/meetflow/pkg/processing"
	"github.com/z-wentao/meetflow/pkg/queue"
	"github.com/z-wentao/meetflow/pkg/retry"
	"github.com/z-wentao/meetflow/pkg/storage"
	"github.com/z-wentao/meetflow/pkg/transcriber"
	"github.com/z-wentao/meetflow/pkg/upload"
	"github.com/z-wentao/meetflow/pkg/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "meetflow-api",
		Short:         "meetflow HTTP 服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		JSONFormat:  cfg.Logging.Format == "json",
		ServiceName: "meetflow-api",
	})
	logger.Info().Str("config", configPath).Msg("✓ 配置加载成功")

	if err := ensureDir(cfg.Server.UploadDir); err != nil {
		return err
	}
	if err := ensureDir(cfg.Server.WorkDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	// 3. 外部依赖
	records, err := newRecordStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer records.Close()

	objects, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 上传任务依赖本机暂存文件，只在进程内排队；处理任务可以走 RabbitMQ
	uploadQueue := queue.NewMemoryQueue(cfg.Queue.BufferSize)
	processQueue, processDepth, err := newQueue(cfg, logger)
	if err != nil {
		return err
	}
	depth := func() (int, error) {
		n, err := processDepth()
		return n + uploadQueue.Len(), err
	}

	mirror, closeMirror, err := newMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMirror()

	// 4. 业务组件
	policy := retry.Policy{
		MaxAttempts:  cfg.Persist.MaxAttempts,
		InitialDelay: cfg.Persist.GetInitialDelay(),
		Multiplier:   cfg.Persist.Multiplier,
	}
	persister := persist.NewPersister(records, policy, cfg.Persist.GetRequestTimeout(), m, logger)
	scheduler := processing.NewQueueScheduler(processQueue)

	registry := upload.NewRegistry(cfg.Worker.GetRegistryTTL(), mirror, logger)
	defer registry.Close()
	tracker := upload.NewTracker(registry, objects, uploadQueue, persister, scheduler, m, logger)

	selector := newSelector(cfg, m, logger)
	orchestrator := processing.NewOrchestrator(objects, selector, persister, cfg.Server.WorkDir, m, logger)

	repo := storage.NewMeetingRepository(records, logger)
	discoverer := processing.NewDiscoverer(repo, scheduler, logger)

	// 5. Worker 池
	stopWorkers := startWorkers(uploadQueue, processQueue, &cfg.Worker, tracker.HandleUpload, orchestrator.HandleProcess, m, logger)

	// 6. HTTP 服务器
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	app := &App{
		uploadDir:      cfg.Server.UploadDir,
		maxUploadSize:  cfg.Server.MaxUploadSize,
		tracker:        tracker,
		repo:           repo,
		discoverer:     discoverer,
		objects:        objects,
		queueDepth:     depth,
		metricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		logger:         logger.With().Str("component", "http").Logger(),
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.setupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().
		Int("port", cfg.Server.Port).
		Str("provider", cfg.Transcriber.Provider).
		Str("queue", cfg.Queue.Type).
		Str("store", cfg.Store.Type).
		Str("object_storage", cfg.ObjectStorage.Type).
		Int("upload_workers", cfg.Worker.PoolSize).
		Int("process_workers", cfg.Worker.ProcessPoolSize).
		Msg("🚀 meetflow 服务器已启动")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("❌ 服务器启动失败")
	}

	// 7. 优雅关闭：先停止接收请求，再停 worker，最后关队列
	logger.Info().Msg("🛑 正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP 服务器关闭超时")
	}
	stopWorkers()
	for _, q := range []queue.Queue{uploadQueue, processQueue} {
		if err := q.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭队列失败")
		}
	}
	logger.Info().Msg("✓ 服务器已关闭")
	return nil
}

func newRecordStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.RecordStore, error) {
	switch cfg.Store.Type {
	case "postgres":
		store, err := storage.NewPostgresStore(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info().Msg("✓ 使用 PostgreSQL 记录存储")
		return store, nil
	case "rest":
		logger.Info().Str("url", cfg.Store.URL).Msg("✓ 使用 REST 记录存储")
		return storage.NewRESTStore(cfg.Store.URL, cfg.Store.ServiceKey), nil
	default:
		logger.Warn().Msg("⚠️ 使用内存记录存储，重启后数据丢失")
		return storage.NewMemoryStore(), nil
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (objectstore.ObjectStore, error) {
	if cfg.ObjectStorage.Type == "drive" {
		d := cfg.ObjectStorage.Drive
		store, err := objectstore.NewDriveStore(ctx, objectstore.DriveOptions{
			CredentialsFile: d.CredentialsFile,
			TokenFile:       d.TokenFile,
			FolderID:        d.FolderID,
			ChunkSize:       d.ChunkSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("✓ 使用 Google Drive 对象存储")
		return store, nil
	}

	store, err := objectstore.NewLocalStore(cfg.ObjectStorage.LocalDir, cfg.ObjectStorage.Drive.ChunkSize)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", cfg.ObjectStorage.LocalDir).Msg("✓ 使用本地对象存储")
	return store, nil
}

// startWorkers 上传和处理各用一个 worker 池，长时间的处理运行不会占满上传 worker
func startWorkers(
	uploads, processes queue.Queue,
	cfg *config.WorkerConfig,
	handleUpload, handleProcess worker.Handler,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (stop func()) {
	uploadPool := worker.NewPool(uploads, cfg.PoolSize, cfg.GetTaskTimeout(), m, logger.With().Str("pool", "upload").Logger())
	uploadPool.Handle(models.TaskUpload, handleUpload)

	processPool := worker.NewPool(processes, cfg.ProcessPoolSize, cfg.GetTaskTimeout(), m, logger.With().Str("pool", "process").Logger())
	processPool.Handle(models.TaskProcess, handleProcess)

	uploadPool.Start()
	processPool.Start()

	return func() {
		uploadPool.Stop()
		processPool.Stop()
	}
}

// newQueue 返回处理任务队列和查询队列深度的函数
func newQueue(cfg *config.Config, logger zerolog.Logger) (queue.Queue, func() (int, error), error) {
	if cfg.Queue.Type == "rabbitmq" {
		rq, err := queue.NewRabbitMQQueue(cfg.Queue.RabbitMQ.URL, cfg.Queue.RabbitMQ.QueueName, cfg.Worker.ProcessPoolSize, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
		}
		logger.Info().Msg("✓ 使用 RabbitMQ 队列")
		return rq, rq.Depth, nil
	}

	mq := queue.NewMemoryQueue(cfg.Queue.BufferSize)
	logger.Info().Int("buffer", cfg.Queue.BufferSize).Msg("✓ 使用内存队列")
	return mq, func() (int, error) { return mq.Len(), nil }, nil
}

// newMirror 配置了 Redis 时返回状态镜像，否则返回 nil
func newMirror(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (upload.Mirror, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	mirror, err := storage.NewRedisStatusMirror(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.GetTTL())
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("✓ 上传状态镜像到 Redis")
	return mirror, func() { mirror.Close() }, nil
}

func newSelector(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *transcriber.Selector {
	selectorCfg := transcriber.SelectorConfig{
		DirectSizeLimit: cfg.Transcriber.DirectSizeLimit,
		ChunkDuration:   cfg.Transcriber.ChunkDuration,
		UploadReadSize:  cfg.Transcriber.UploadReadSize,
		PollInterval:    cfg.Transcriber.GetPollInterval(),
		MaxPollAttempts: cfg.Transcriber.MaxPollAttempts,
		Options:         transcriber.DefaultOptions(cfg.Transcriber.SpeakersExpected),
	}

	var (
		direct transcriber.SyncTranscriber
		async  transcriber.AsyncTranscriber
	)
	switch cfg.Transcriber.Provider {
	case "openai":
		direct = transcriber.NewWhisperClient(cfg.OpenAI.APIKey, "")
	default:
		client := transcriber.NewAssemblyAIClient(cfg.AssemblyAI.APIKey, cfg.AssemblyAI.BaseURL, cfg.AssemblyAI.GetTimeout())
		direct = client
		async = client
	}

	chunker := transcriber.NewMediaChunker(logger)
	if !chunker.Available() {
		logger.Warn().Msg("⚠️ 未找到 ffmpeg/ffprobe，大文件将使用上传轮询策略")
	}

	return transcriber.NewSelector(selectorCfg, direct, async, chunker, m, logger)
}
