package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Render   RenderConfig   `mapstructure:"render"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type       string `mapstructure:"type"` // mysql, sqlite
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"db_name"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// RenderConfig DEX 图片渲染配置
type RenderConfig struct {
	Width        int           `mapstructure:"width"`         // 网格宽度，默认 256
	OutputDir    string        `mapstructure:"output_dir"`    // 图片输出目录
	InputDir     string        `mapstructure:"input_dir"`     // APK 输入目录
	ImageFormat  string        `mapstructure:"image_format"`  // png, bmp, tiff
	Concurrency  int           `mapstructure:"concurrency"`   // 同时处理的 APK 数量
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // 如 "30m", "500ms"; 0 表示不限制
}

// WatcherConfig 输入目录监控配置
type WatcherConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Pattern    string `mapstructure:"pattern"`
	DebounceMS int    `mapstructure:"debounce_ms"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// setDefaults 所有配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/renders.db")

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "dex_render")

	v.SetDefault("render.width", 256)
	v.SetDefault("render.output_dir", "images_rgb")
	v.SetDefault("render.input_dir", "inbound_apks")
	v.SetDefault("render.image_format", "png")
	v.SetDefault("render.concurrency", 1)
	v.SetDefault("render.batch_timeout", time.Duration(0))

	v.SetDefault("watcher.enabled", false)
	v.SetDefault("watcher.pattern", "*.apk")
	v.SetDefault("watcher.debounce_ms", 2000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default 不读取文件，只使用默认值和环境变量
func Default() (*Config, error) {
	return load("")
}

// Load 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖（支持嵌套配置）
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// RabbitMQ
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	// Render
	v.BindEnv("render.output_dir", "DEXRENDER_OUTPUT_DIR")
	v.BindEnv("render.width", "DEXRENDER_WIDTH")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
