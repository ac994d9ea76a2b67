package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Upload  UploadConfig
	Redis   RedisConfig
	SAM2    SAM2Config
	Cleanup CleanupConfig
}

type ServerConfig struct {
	Host string
	Port int
	Mode string
}

type UploadConfig struct {
	MaxSize     int64
	TempDir     string
	AllowedExts []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SAM2Config SAM2模型及自动掩码生成器的超参数
type SAM2Config struct {
	Dir                  string
	ModelSize            string
	PointsPerSide        int
	PredIoUThresh        float32
	StabilityScoreThresh float32
	CropNLayers          int
	CropNPointsDownscale int
	MinMaskRegionArea    int
	MaxConcurrent        int
	QueueTimeout         time.Duration
}

type CleanupConfig struct {
	RetentionHours int
	Schedule       string
}

// New 从环境变量加载配置，未设置的项使用默认值
func New() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Host: v.GetString("HOST"),
			Port: v.GetInt("PORT"),
			Mode: v.GetString("GIN_MODE"),
		},
		Upload: UploadConfig{
			MaxSize:     v.GetInt64("MAX_UPLOAD_SIZE"),
			TempDir:     v.GetString("TEMP_DIR"),
			AllowedExts: []string{".png", ".jpg", ".jpeg"},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      v.GetDuration("CACHE_TTL"),
		},
		SAM2: SAM2Config{
			Dir:                  v.GetString("SAM2_DIR"),
			ModelSize:            v.GetString("MODEL_SIZE"),
			PointsPerSide:        v.GetInt("SAM2_POINTS_PER_SIDE"),
			PredIoUThresh:        float32(v.GetFloat64("SAM2_PRED_IOU_THRESH")),
			StabilityScoreThresh: float32(v.GetFloat64("SAM2_STABILITY_SCORE_THRESH")),
			CropNLayers:          v.GetInt("SAM2_CROP_N_LAYERS"),
			CropNPointsDownscale: v.GetInt("SAM2_CROP_N_POINTS_DOWNSCALE"),
			MinMaskRegionArea:    v.GetInt("SAM2_MIN_MASK_REGION_AREA"),
			MaxConcurrent:        v.GetInt("SAM2_MAX_CONCURRENT"),
			QueueTimeout:         time.Duration(v.GetInt("SAM2_QUEUE_TIMEOUT")) * time.Second,
		},
		Cleanup: CleanupConfig{
			RetentionHours: v.GetInt("TEMP_RETENTION_HOURS"),
			Schedule:       v.GetString("CLEANUP_SCHEDULE"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("GIN_MODE", "debug")

	v.SetDefault("MAX_UPLOAD_SIZE", 10*1024*1024)
	v.SetDefault("TEMP_DIR", "./temp")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", 24*time.Hour)

	v.SetDefault("SAM2_DIR", "/path/to/sam2")
	v.SetDefault("MODEL_SIZE", "large")
	v.SetDefault("SAM2_POINTS_PER_SIDE", 32)
	v.SetDefault("SAM2_PRED_IOU_THRESH", 0.8)
	v.SetDefault("SAM2_STABILITY_SCORE_THRESH", 0.95)
	v.SetDefault("SAM2_CROP_N_LAYERS", 0)
	v.SetDefault("SAM2_CROP_N_POINTS_DOWNSCALE", 1)
	v.SetDefault("SAM2_MIN_MASK_REGION_AREA", 100)
	v.SetDefault("SAM2_MAX_CONCURRENT", 1)
	v.SetDefault("SAM2_QUEUE_TIMEOUT", 60)

	v.SetDefault("TEMP_RETENTION_HOURS", 24)
	v.SetDefault("CLEANUP_SCHEDULE", "@hourly")
}

// Addr 服务监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// checkpointStem base_plus 使用 b+ 命名，与官方权重文件保持一致
func (c *SAM2Config) checkpointStem() string {
	size := c.ModelSize
	if size == "base_plus" {
		size = "b+"
	}
	return "sam2.1_hiera_" + size
}

// EncoderPath 图像编码器ONNX权重路径
func (c *SAM2Config) EncoderPath() string {
	return filepath.Join(c.Dir, "checkpoints", c.checkpointStem()+".encoder.onnx")
}

// DecoderPath 提示解码器ONNX权重路径
func (c *SAM2Config) DecoderPath() string {
	return filepath.Join(c.Dir, "checkpoints", c.checkpointStem()+".decoder.onnx")
}

// IsAllowedExt 判断文件扩展名是否在允许列表内
func (c *UploadConfig) IsAllowedExt(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range c.AllowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}
