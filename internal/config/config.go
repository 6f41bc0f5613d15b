package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config — настройки сервиса приёма чанков.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr"`
	ChunkDir        string        `yaml:"chunk_dir" json:"chunk_dir"`
	PublishDir      string        `yaml:"publish_dir" json:"publish_dir"`
	PublicMount     string        `yaml:"public_mount" json:"public_mount"`
	CatalogDSN      string        `yaml:"catalog_dsn" json:"catalog_dsn"`
	AbandonAfter    time.Duration `yaml:"abandon_after" json:"abandon_after"`
	GCInterval      time.Duration `yaml:"gc_interval" json:"gc_interval"`
	MaxChunkBytes   int64         `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`
	AssemblyWorkers int           `yaml:"assembly_workers" json:"assembly_workers"`
	CORSOrigins     []string      `yaml:"cors_origins" json:"cors_origins"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	S3Mirror        S3Mirror      `yaml:"s3_mirror" json:"s3_mirror"`
}

// S3Mirror описывает необязательное зеркалирование опубликованных файлов в S3-совместимое хранилище.
type S3Mirror struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Enabled: зеркало включается заданием бакета.
func (m S3Mirror) Enabled() bool { return strings.TrimSpace(m.Bucket) != "" }

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		ChunkDir:        "./data/chunks",
		PublishDir:      "./data/published",
		PublicMount:     "/downloads",
		CatalogDSN:      "memory://",
		AbandonAfter:    24 * time.Hour,
		GCInterval:      30 * time.Minute,
		MaxChunkBytes:   64 << 20,
		AssemblyWorkers: 4,
		CORSOrigins:     []string{"*"},
		LogLevel:        "info",
	}
}

// Load читает YAML-конфигурацию, применяет ENV-переопределения и возвращает актуальную структуру.
// Отсутствие файла не ошибка: берутся значения по умолчанию.
func Load() (*Config, error) {
	c := Default()

	cfgPath := getenv("CONFIG_PATH", "./config.yaml")
	b, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// ENV override
func (c *Config) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CHUNK_DIR"); v != "" {
		c.ChunkDir = v
	}
	if v := os.Getenv("PUBLISH_DIR"); v != "" {
		c.PublishDir = v
	}
	if v := os.Getenv("PUBLIC_MOUNT"); v != "" {
		c.PublicMount = v
	}
	if v := os.Getenv("CATALOG_DSN"); v != "" {
		c.CatalogDSN = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitComma(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("S3_MIRROR_BUCKET"); v != "" {
		c.S3Mirror.Bucket = v
	}
	if v := os.Getenv("S3_MIRROR_PREFIX"); v != "" {
		c.S3Mirror.Prefix = v
	}
	if v := os.Getenv("S3_MIRROR_REGION"); v != "" {
		c.S3Mirror.Region = v
	}
	if v := os.Getenv("S3_MIRROR_ENDPOINT"); v != "" {
		c.S3Mirror.Endpoint = v
	}

	var err error
	if c.AbandonAfter, err = envDuration("ABANDON_AFTER", c.AbandonAfter); err != nil {
		return err
	}
	if c.GCInterval, err = envDuration("GC_INTERVAL", c.GCInterval); err != nil {
		return err
	}
	if v := os.Getenv("MAX_CHUNK_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_CHUNK_BYTES: %w", err)
		}
		c.MaxChunkBytes = n
	}
	if v := os.Getenv("ASSEMBLY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ASSEMBLY_WORKERS: %w", err)
		}
		c.AssemblyWorkers = n
	}

	return nil
}

// Validate проверяет обязательные поля и приводит public_mount к виду /a/b без хвостового слеша.
func (c *Config) Validate() error {
	c.PublicMount = strings.TrimRight(strings.TrimSpace(c.PublicMount), "/")
	switch {
	case strings.TrimSpace(c.ChunkDir) == "":
		return errors.New("chunk_dir is empty")
	case strings.TrimSpace(c.PublishDir) == "":
		return errors.New("publish_dir is empty")
	case c.AbandonAfter <= 0:
		return errors.New("abandon_after must be > 0")
	case c.GCInterval < 0:
		return errors.New("gc_interval must be >= 0")
	case c.AssemblyWorkers < 1:
		return errors.New("assembly_workers must be > 0")
	case c.PublicMount == "":
		return errors.New("public_mount must name a path below /")
	case !strings.HasPrefix(c.PublicMount, "/") || path.Clean(c.PublicMount) != c.PublicMount:
		return fmt.Errorf("public_mount %q must be a clean absolute path", c.PublicMount)
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}

	return def
}
