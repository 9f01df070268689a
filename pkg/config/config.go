package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Transcriber   TranscriberConfig   `yaml:"transcriber"`
	AssemblyAI    AssemblyAIConfig    `yaml:"assemblyai"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Worker        WorkerConfig        `yaml:"worker"`
	Queue         QueueConfig         `yaml:"queue"`
	Persist       PersistConfig       `yaml:"persist"`
	Store         StoreConfig         `yaml:"store"`
	ObjectStorage ObjectStorageConfig `yaml:"object_storage"`
	Redis         RedisConfig         `yaml:"redis"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int    `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	UploadDir     string `yaml:"upload_dir"` // 上传暂存目录
	WorkDir       string `yaml:"work_dir"`   // 处理时的下载/切片目录
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json / text
}

// TranscriberConfig 转录策略配置
type TranscriberConfig struct {
	Provider         string `yaml:"provider"`          // assemblyai / openai
	DirectSizeLimit  int64  `yaml:"direct_size_limit"` // 字节，<= 该值走直接转录
	ChunkDuration    int    `yaml:"chunk_duration"`    // 秒
	UploadReadSize   int    `yaml:"upload_read_size"`  // 字节，暂存上传每次读取大小
	PollInterval     int    `yaml:"poll_interval"`     // 秒
	MaxPollAttempts  int    `yaml:"max_poll_attempts"`
	SpeakersExpected int    `yaml:"speakers_expected"`
}

// AssemblyAIConfig AssemblyAI 配置
type AssemblyAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // 秒，单次 HTTP 请求
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// WorkerConfig worker 池配置
type WorkerConfig struct {
	PoolSize        int  `yaml:"pool_size"`         // 同时进行的上传数
	ProcessPoolSize int  `yaml:"process_pool_size"` // 同时进行的处理运行数
	RegistryTTL     *int `yaml:"registry_ttl"`      // 秒，终态上传记录保留时长，0 表示不驱逐，未设置默认 3600
	TaskTimeout     int  `yaml:"task_timeout"`      // 分钟
}

// QueueConfig 处理任务队列配置
// 上传任务依赖本机暂存文件，始终使用进程内队列
type QueueConfig struct {
	Type       string         `yaml:"type"`
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// PersistConfig 持久化重试配置
type PersistConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelay   int     `yaml:"initial_delay"` // 秒
	Multiplier     float64 `yaml:"multiplier"`
	RequestTimeout int     `yaml:"request_timeout"` // 秒
}

// StoreConfig 外部记录存储配置
type StoreConfig struct {
	Type       string `yaml:"type"`        // postgres / rest / memory
	DSN        string `yaml:"dsn"`         // postgres
	URL        string `yaml:"url"`         // rest，例如 https://xxx.supabase.co
	ServiceKey string `yaml:"service_key"` // rest
}

// ObjectStorageConfig 远程对象存储配置
type ObjectStorageConfig struct {
	Type     string      `yaml:"type"` // drive / local
	LocalDir string      `yaml:"local_dir"`
	Drive    DriveConfig `yaml:"drive"`
}

// DriveConfig Google Drive 配置
type DriveConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderID        string `yaml:"folder_id"`
	ChunkSize       int    `yaml:"chunk_size"` // 字节，可续传上传分块大小
}

// RedisConfig 上传状态镜像（可选）
type RedisConfig struct {
	Addr     string `yaml:"addr"` // 为空表示不启用
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"` // 秒
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return Parse(data)
}

// Parse 解析 YAML 配置，应用环境变量并校验
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// applyEnv 密钥优先从环境变量读取
func (c *Config) applyEnv() {
	if v := os.Getenv("ASSEMBLYAI_API_KEY"); v != "" {
		c.AssemblyAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("STORE_SERVICE_KEY"); v != "" {
		c.Store.ServiceKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
	}
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 5000
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 2 << 30
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}
	if c.Server.WorkDir == "" {
		c.Server.WorkDir = c.Server.UploadDir
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format 必须是 json 或 text，当前: %s", c.Logging.Format)
	}

	if err := c.Transcriber.validate(); err != nil {
		return err
	}
	switch c.Transcriber.Provider {
	case "assemblyai":
		if c.AssemblyAI.APIKey == "" || c.AssemblyAI.APIKey == "your-assemblyai-api-key-here" {
			return fmt.Errorf("请设置有效的 AssemblyAI API Key")
		}
	case "openai":
		if c.OpenAI.APIKey == "" || c.OpenAI.APIKey == "your-openai-api-key-here" {
			return fmt.Errorf("请设置有效的 OpenAI API Key")
		}
	}
	if c.AssemblyAI.BaseURL == "" {
		c.AssemblyAI.BaseURL = "https://api.assemblyai.com"
	}
	if c.AssemblyAI.Timeout <= 0 {
		c.AssemblyAI.Timeout = 1800
	}

	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = 4
	}
	if c.Worker.ProcessPoolSize <= 0 {
		c.Worker.ProcessPoolSize = 2
	}
	if c.Worker.RegistryTTL == nil {
		ttl := 3600
		c.Worker.RegistryTTL = &ttl
	}
	if *c.Worker.RegistryTTL < 0 {
		return fmt.Errorf("worker.registry_ttl 不能为负数")
	}
	if c.Worker.TaskTimeout <= 0 {
		c.Worker.TaskTimeout = 60
	}

	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 100
	}
	switch c.Queue.Type {
	case "memory":
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return fmt.Errorf("queue.rabbitmq.url 不能为空")
		}
		if c.Queue.RabbitMQ.QueueName == "" {
			c.Queue.RabbitMQ.QueueName = "meetflow_tasks"
		}
	default:
		return fmt.Errorf("不支持的队列类型: %s", c.Queue.Type)
	}

	if c.Persist.MaxAttempts <= 0 {
		c.Persist.MaxAttempts = 3
	}
	if c.Persist.InitialDelay <= 0 {
		c.Persist.InitialDelay = 2
	}
	if c.Persist.Multiplier < 1 {
		c.Persist.Multiplier = 2
	}
	if c.Persist.RequestTimeout <= 0 {
		c.Persist.RequestTimeout = 30
	}

	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	switch c.Store.Type {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn 不能为空")
		}
	case "rest":
		if c.Store.URL == "" || c.Store.ServiceKey == "" {
			return fmt.Errorf("store.url 和 store.service_key 不能为空")
		}
	default:
		return fmt.Errorf("不支持的记录存储类型: %s", c.Store.Type)
	}

	if c.ObjectStorage.Type == "" {
		c.ObjectStorage.Type = "local"
	}
	switch c.ObjectStorage.Type {
	case "local":
		if c.ObjectStorage.LocalDir == "" {
			c.ObjectStorage.LocalDir = "storage"
		}
	case "drive":
		if c.ObjectStorage.Drive.CredentialsFile == "" || c.ObjectStorage.Drive.TokenFile == "" {
			return fmt.Errorf("object_storage.drive 需要 credentials_file 和 token_file")
		}
		if c.ObjectStorage.Drive.ChunkSize <= 0 {
			c.ObjectStorage.Drive.ChunkSize = 5 << 20
		}
	default:
		return fmt.Errorf("不支持的对象存储类型: %s", c.ObjectStorage.Type)
	}

	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 86400
	}

	return nil
}

func (t *TranscriberConfig) validate() error {
	if t.Provider == "" {
		t.Provider = "assemblyai"
	}
	if t.Provider != "assemblyai" && t.Provider != "openai" {
		return fmt.Errorf("transcriber.provider 必须是 assemblyai 或 openai，当前: %s", t.Provider)
	}
	if t.DirectSizeLimit <= 0 {
		t.DirectSizeLimit = 50 << 20
	}
	if t.ChunkDuration <= 0 {
		t.ChunkDuration = 600
	}
	if t.UploadReadSize <= 0 {
		t.UploadReadSize = 5 << 20
	}
	if t.PollInterval <= 0 {
		t.PollInterval = 5
	}
	if t.MaxPollAttempts <= 0 {
		t.MaxPollAttempts = 120
	}
	if t.SpeakersExpected <= 0 {
		t.SpeakersExpected = 2
	}
	return nil
}

// GetPollInterval 轮询间隔
func (t *TranscriberConfig) GetPollInterval() time.Duration {
	return time.Duration(t.PollInterval) * time.Second
}

// GetTimeout 单次请求超时
func (a *AssemblyAIConfig) GetTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetRegistryTTL 终态上传记录保留时长
func (w *WorkerConfig) GetRegistryTTL() time.Duration {
	if w.RegistryTTL == nil {
		return 0
	}
	return time.Duration(*w.RegistryTTL) * time.Second
}

// GetTaskTimeout 单个任务超时
func (w *WorkerConfig) GetTaskTimeout() time.Duration {
	return time.Duration(w.TaskTimeout) * time.Minute
}

// GetInitialDelay 首次重试等待
func (p *PersistConfig) GetInitialDelay() time.Duration {
	return time.Duration(p.InitialDelay) * time.Second
}

// GetRequestTimeout 单次持久化请求超时
func (p *PersistConfig) GetRequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// GetTTL 镜像记录过期时间
func (r *RedisConfig) GetTTL() time.Duration {
	return time.Duration(r.TTL) * time.Second
}
