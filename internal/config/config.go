package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API struct {
		Port string `yaml:"port"`
		Key  string `yaml:"key"`
	} `yaml:"api"`
	Catalog struct {
		Database string `yaml:"database"`
	} `yaml:"catalog"`
	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		PathStyle bool   `yaml:"path_style"`
	} `yaml:"s3"`
	CDN struct {
		Domain    string `yaml:"domain"`
		Secret    string `yaml:"secret"`
		URLExpiry string `yaml:"url_expiry"`
	} `yaml:"cdn"`
	Upload struct {
		MaxSizeBytes int64    `yaml:"max_size_bytes"`
		Categories   []string `yaml:"categories"`
	} `yaml:"upload"`
}

func Load() *Config {
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Failed to read config file, using defaults: %v", err)
	} else if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("Failed to parse config file, using defaults: %v", err)
		config = defaultConfig()
	}

	applyEnv(config)
	return config
}

func defaultConfig() *Config {
	config := &Config{}
	config.API.Port = "8080"
	config.Catalog.Database = "./filegate.db"
	config.S3.Region = "us-east-1"
	config.CDN.URLExpiry = "1h"
	config.Upload.MaxSizeBytes = 100 * 1024 * 1024
	config.Upload.Categories = []string{
		"image", "document", "spreadsheet", "presentation",
		"archive", "video", "audio", "code",
	}
	return config
}

// CDNExpiry parses the configured URL validity window, falling back to an
// hour when the value is missing or malformed.
func (c *Config) CDNExpiry() time.Duration {
	d, err := time.ParseDuration(c.CDN.URLExpiry)
	if err != nil || d <= 0 {
		log.Printf("Invalid cdn.url_expiry %q, using 1h", c.CDN.URLExpiry)
		return time.Hour
	}
	return d
}

func applyEnv(config *Config) {
	if v := os.Getenv("FILEGATE_API_KEY"); v != "" {
		config.API.Key = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.S3.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.S3.SecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.S3.Region = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		config.S3.Bucket = v
	}
	if v := os.Getenv("CLOUDFRONT_DOMAIN"); v != "" {
		config.CDN.Domain = v
	}
	if v := os.Getenv("CDN_SIGNING_SECRET"); v != "" {
		config.CDN.Secret = v
	}
}
