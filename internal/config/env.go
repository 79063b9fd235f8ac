package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	AwsEndpoint  string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	Port         string
	JWTSecret    string
	RedisURL     string
	LogLevel     string
	LogFormat    string

	AllowedOrigins []string

	ChunkSize           int
	ChunkOverlap        int
	ChunkKeepParagraphs bool
	MaxUploadBytes      int64
	EmbedBatchSize      int
	EmbedPaceEvery      int
	EmbedPaceDelay      time.Duration
	UpsertBatchSize     int
	TopK                int
	IngestTimeout       time.Duration
	IngestWorkers       int
	DocCacheSize        int
}

var defaults = map[string]any{
	"AWS_REGION":            "us-east-2",
	"BUCKET_NAME":           "docchat-docs",
	"EMBED_MODEL":           "text-embedding-004",
	"EMBED_DIM":             768,
	"GEN_MODEL":             "gemini-1.5-flash",
	"PORT":                  "8080",
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "json",
	"ALLOWED_ORIGINS":       "http://localhost:5173,http://localhost:8888",
	"CHUNK_SIZE":            1000,
	"CHUNK_OVERLAP":         200,
	"CHUNK_KEEP_PARAGRAPHS": false,
	"MAX_UPLOAD_BYTES":      10 << 20,
	"EMBED_BATCH_SIZE":      50,
	"EMBED_PACE_EVERY":      100,
	"EMBED_PACE_DELAY":      "1s",
	"UPSERT_BATCH_SIZE":     100,
	"TOP_K":                 4,
	"INGEST_TIMEOUT":        "5m",
	"INGEST_WORKERS":        4,
	"DOC_CACHE_SIZE":        512,
}

// LoadConfig loads the .env file if present, then reads the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		SslCertPath:         v.GetString("SSL_CERT_PATH"),
		AwsAccessKey:        v.GetString("AWS_ACCESS_KEY"),
		AwsSecretKey:        v.GetString("AWS_SECRET_KEY"),
		AwsRegion:           v.GetString("AWS_REGION"),
		AwsEndpoint:         v.GetString("AWS_ENDPOINT"),
		BucketName:          v.GetString("BUCKET_NAME"),
		AIAPIKey:            v.GetString("GEMINI_API_KEY"),
		EmbedModel:          v.GetString("EMBED_MODEL"),
		EmbedDim:            v.GetInt("EMBED_DIM"),
		GenModel:            v.GetString("GEN_MODEL"),
		Port:                v.GetString("PORT"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		RedisURL:            v.GetString("REDIS_URL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		AllowedOrigins:      splitList(v.GetString("ALLOWED_ORIGINS")),
		ChunkSize:           v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:        v.GetInt("CHUNK_OVERLAP"),
		ChunkKeepParagraphs: v.GetBool("CHUNK_KEEP_PARAGRAPHS"),
		MaxUploadBytes:      v.GetInt64("MAX_UPLOAD_BYTES"),
		EmbedBatchSize:      v.GetInt("EMBED_BATCH_SIZE"),
		EmbedPaceEvery:      v.GetInt("EMBED_PACE_EVERY"),
		EmbedPaceDelay:      v.GetDuration("EMBED_PACE_DELAY"),
		UpsertBatchSize:     v.GetInt("UPSERT_BATCH_SIZE"),
		TopK:                v.GetInt("TOP_K"),
		IngestTimeout:       v.GetDuration("INGEST_TIMEOUT"),
		IngestWorkers:       v.GetInt("INGEST_WORKERS"),
		DocCacheSize:        v.GetInt("DOC_CACHE_SIZE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the tuning knobs for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.EmbedBatchSize <= 0 || c.UpsertBatchSize <= 0 {
		errs = append(errs, errors.New("EMBED_BATCH_SIZE and UPSERT_BATCH_SIZE must be positive"))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive, got %d", c.TopK))
	}
	if c.IngestTimeout <= 0 {
		errs = append(errs, errors.New("INGEST_TIMEOUT must be positive"))
	}
	if c.IngestWorkers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// UseObjectStorage reports whether S3 credentials are configured.
func (c *Config) UseObjectStorage() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
