// Package config loads the pipeline configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"diario/internal/core"
)

// Config holds all application configuration.
type Config struct {
	ExecutionMode string    `mapstructure:"execution_mode"`
	FilesEndpoint string    `mapstructure:"files_endpoint"`
	MaxFileSizeMB int64     `mapstructure:"max_file_size_mb"`
	QueryPageSize int       `mapstructure:"query_page_size"`
	ThemesPath    string    `mapstructure:"themes_path"`
	Debug         bool      `mapstructure:"debug"`
	Database      Database  `mapstructure:"database"`
	Storage       Storage   `mapstructure:"storage"`
	Index         Index     `mapstructure:"index"`
	Tika          Tika      `mapstructure:"tika"`
	Embedding     Embedding `mapstructure:"embedding"`
}

// Database holds the Postgres connection settings.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// ConnectionString builds a lib/pq connection string.
func (d Database) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		d.Host, d.Port, d.Name, d.User, d.Password,
	)
}

// Storage holds the S3-compatible object store settings.
type Storage struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	AccessSecret string `mapstructure:"access_secret"`
	Bucket       string `mapstructure:"bucket"`
}

// Index holds the OpenSearch settings.
type Index struct {
	Host          string `mapstructure:"host"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	GazettesIndex string `mapstructure:"gazettes_index"`
}

// Tika holds the text-extraction service settings.
type Tika struct {
	ServerURL string `mapstructure:"server_url"`
}

// Embedding holds the sentence-embedding service settings.
type Embedding struct {
	ServerURL string `mapstructure:"server_url"`
	Model     string `mapstructure:"model"`
}

// envBindings maps viper keys to the environment variables the pipeline
// recognizes.
var envBindings = map[string]string{
	"execution_mode":        "EXECUTION_MODE",
	"files_endpoint":        "QUERIDO_DIARIO_FILES_ENDPOINT",
	"max_file_size_mb":      "MAX_GAZETTE_FILE_SIZE_MB",
	"query_page_size":       "GAZETTE_QUERY_PAGE_SIZE",
	"themes_path":           "THEMES_CONFIG_PATH",
	"database.host":         "POSTGRES_HOST",
	"database.port":         "POSTGRES_PORT",
	"database.name":         "POSTGRES_DB",
	"database.user":         "POSTGRES_USER",
	"database.password":     "POSTGRES_PASSWORD",
	"storage.region":        "STORAGE_REGION",
	"storage.endpoint":      "STORAGE_ENDPOINT",
	"storage.access_key":    "STORAGE_ACCESS_KEY",
	"storage.access_secret": "STORAGE_ACCESS_SECRET",
	"storage.bucket":        "STORAGE_BUCKET",
	"index.host":            "OPENSEARCH_HOST",
	"index.user":            "OPENSEARCH_USER",
	"index.password":        "OPENSEARCH_PASSWORD",
	"index.gazettes_index":  "OPENSEARCH_INDEX",
	"tika.server_url":       "APACHE_TIKA_SERVER",
	"embedding.server_url":  "EMBEDDING_SERVER_URL",
	"embedding.model":       "EMBEDDING_MODEL",
}

// Load reads the configuration from the environment, loading a .env file
// first when one exists. Missing mandatory settings are fatal: the run must
// abort before any work starts.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Debug = os.Getenv("DEBUG") == "1"

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("execution_mode", string(core.ModeDaily))
	v.SetDefault("max_file_size_mb", 500)
	v.SetDefault("query_page_size", 1000)
	v.SetDefault("themes_path", "config/themes_config.json")
	v.SetDefault("embedding.model", "bert-base-portuguese-cased")
}

func validate(cfg *Config) error {
	switch core.ExecutionMode(cfg.ExecutionMode) {
	case core.ModeDaily, core.ModeAll, core.ModeUnprocessed:
	default:
		return fmt.Errorf("execution mode %q is invalid", cfg.ExecutionMode)
	}
	if cfg.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max gazette file size must be positive, got %d", cfg.MaxFileSizeMB)
	}
	if cfg.QueryPageSize <= 0 {
		return fmt.Errorf("gazette query page size must be positive, got %d", cfg.QueryPageSize)
	}

	required := []struct {
		value string
		env   string
	}{
		{cfg.FilesEndpoint, "QUERIDO_DIARIO_FILES_ENDPOINT"},
		{cfg.Database.Host, "POSTGRES_HOST"},
		{cfg.Database.Name, "POSTGRES_DB"},
		{cfg.Storage.Endpoint, "STORAGE_ENDPOINT"},
		{cfg.Storage.Bucket, "STORAGE_BUCKET"},
		{cfg.Index.Host, "OPENSEARCH_HOST"},
		{cfg.Index.GazettesIndex, "OPENSEARCH_INDEX"},
		{cfg.Tika.ServerURL, "APACHE_TIKA_SERVER"},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
