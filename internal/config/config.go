// Package config loads promoter settings from promoter.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when --config is not given.
const DefaultFile = "promoter.yaml"

const (
	RegistryModeHTTP   = "http"
	RegistryModeDocker = "docker"
)

type Registry struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	Mode     string        `yaml:"mode"`
	// SkipCheck trusts pinned digests and synthesizes one for tags. Offline dry runs only.
	SkipCheck bool `yaml:"skipCheck"`
}

type Manifest struct {
	DefaultReplicas        int    `yaml:"defaultReplicas"`
	DefaultResourceProfile string `yaml:"defaultResourceProfile"`
}

type Git struct {
	Commit      bool   `yaml:"commit"`
	Push        bool   `yaml:"push"`
	Remote      string `yaml:"remote"`
	Branch      string `yaml:"branch"`
	AuthorName  string `yaml:"authorName"`
	AuthorEmail string `yaml:"authorEmail"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3 struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type Config struct {
	Root         string   `yaml:"root"`
	MaxAttempts  int      `yaml:"maxAttempts"`
	Environments []string `yaml:"environments"`
	DryRun       bool     `yaml:"dryRun"`
	Registry     Registry `yaml:"registry"`
	Manifest     Manifest `yaml:"manifest"`
	Git          Git      `yaml:"git"`
	// HistoryDir holds history.db; empty keeps history in memory for the process.
	HistoryDir string `yaml:"historyDir"`
	Kafka      Kafka  `yaml:"kafka"`
	Archive    S3     `yaml:"archive"`
	Port       int    `yaml:"port"`
}

func Default() *Config {
	return &Config{
		Root:         ".",
		MaxAttempts:  3,
		Environments: []string{"dev"},
		Registry: Registry{
			URL:     "https://harbor.omniverseai.net",
			Timeout: 8 * time.Second,
			Mode:    RegistryModeHTTP,
		},
		Manifest: Manifest{
			DefaultReplicas:        1,
			DefaultResourceProfile: "mvp-small",
		},
		Git: Git{
			Remote:      "origin",
			Branch:      "main",
			AuthorName:  "deploy-promoter[bot]",
			AuthorEmail: "deploy-promoter[bot]@users.noreply.github.com",
		},
		HistoryDir: ".promoter",
		Kafka:      Kafka{Topic: "release-promotions"},
		Port:       8080,
	}
}

// Load reads path on top of Default and applies environment overrides.
// A missing file is not an error when path is DefaultFile.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultFile:
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PROMOTER_ROOT", &c.Root)
	str("REGISTRY_URL", &c.Registry.URL)
	str("REGISTRY_USERNAME", &c.Registry.Username)
	str("REGISTRY_PASSWORD", &c.Registry.Password)
	str("EVIDENCE_BUCKET", &c.Archive.Bucket)
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_ATTEMPTS: %w", err)
		}
		c.MaxAttempts = n
	}
	if v, ok := lookup("DRY_RUN"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			c.DryRun = true
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: maxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	switch c.Registry.Mode {
	case RegistryModeHTTP, RegistryModeDocker:
	default:
		return fmt.Errorf("config: unknown registry mode %q", c.Registry.Mode)
	}
	if c.Registry.Mode == RegistryModeHTTP && c.Registry.URL == "" && !c.Registry.SkipCheck {
		return errors.New("config: registry.url is required")
	}
	if c.Registry.Timeout <= 0 {
		return fmt.Errorf("config: registry.timeout must be positive, got %s", c.Registry.Timeout)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
