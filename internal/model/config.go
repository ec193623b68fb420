package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds the message store location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MailboxConfig holds settings for the mail collaborator.
type MailboxConfig struct {
	// Provider is "imap" or "gmail".
	Provider string `mapstructure:"provider" yaml:"provider"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	// Mailbox is the folder to read, e.g. "INBOX".
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// GmailClientID and GmailClientSecret identify the OAuth client. The
	// token itself lives in the keyring.
	GmailClientID     string `mapstructure:"gmail_client_id" yaml:"gmail_client_id"`
	GmailClientSecret string `mapstructure:"gmail_client_secret" yaml:"gmail_client_secret"`
	GmailQuery        string `mapstructure:"gmail_query" yaml:"gmail_query"`

	MaxMessages       int     `mapstructure:"max_messages" yaml:"max_messages"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ClassifierConfig holds settings for the classification capability.
type ClassifierConfig struct {
	// Provider is "anthropic", "gemini", "openai" or "keyword".
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`

	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxConcurrent     int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`

	// ContentLimit caps the number of body runes sent for classification.
	ContentLimit int `mapstructure:"content_limit" yaml:"content_limit"`
}

// PipelineConfig controls batch sizes and worker pools.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	LookbackDays  int           `mapstructure:"lookback_days" yaml:"lookback_days"`
	WatchInterval time.Duration `mapstructure:"watch_interval" yaml:"watch_interval"`
}

// DedupConfig enables cross-process ingestion claims in Redis. An empty
// address disables it.
type DedupConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl" yaml:"claim_ttl"`
}

// ReviewConfig holds review exchange settings.
type ReviewConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	Reviewer     string `mapstructure:"reviewer" yaml:"reviewer"`
	ExampleLimit int    `mapstructure:"example_limit" yaml:"example_limit"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Dedup      DedupConfig      `mapstructure:"dedup" yaml:"dedup"`
	Review     ReviewConfig     `mapstructure:"review" yaml:"review"`
	Taxonomy   TaxonomyConfig   `mapstructure:"taxonomy" yaml:"taxonomy"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inbox-triage/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultLogPath is where the watch view sends log output.
func DefaultLogPath() string {
	return filepath.Join(configDir(), "triage.log")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "inbox-triage")
}

// DefaultTaxonomy is the starter taxonomy written by "config init".
func DefaultTaxonomy() TaxonomyConfig {
	return TaxonomyConfig{
		Fallback: FallbackConfig{
			Category:    "Other",
			Subcategory: "Rest",
			Confidence:  DefaultFallbackConfidence,
		},
		Categories: []CategoryConfig{
			{
				Name:        "Review",
				Description: "Messages that need a personal decision.",
				Subcategories: []SubcategoryConfig{
					{
						Name:        "Job search",
						Description: "Job offers, recruiter outreach and application updates.",
						Keywords: []string{
							"recruiter", "position", "vacancy", "job", "hiring", "interview", "consultant",
						},
						Entities: map[string][]string{
							"companies": {"MUST", "Polisen", "Ework"},
							"roles":     {"IT Project manager", "Program Manager", "Change Manager"},
						},
						Action: "Extract companies, roles and interest level; recommend a next step.",
					},
				},
			},
			{
				Name:        "Reading",
				Description: "Content worth reading later.",
				Subcategories: []SubcategoryConfig{
					{
						Name:        "Newsletters",
						Description: "Editorial newsletters and digests.",
						Keywords:    []string{"newsletter", "digest", "weekly", "issue"},
						Action:      "Queue for reading.",
					},
				},
			},
			{
				Name:        "Other",
				Description: "Everything else.",
				Subcategories: []SubcategoryConfig{
					{
						Name:        "Advertising",
						Description: "Promotions, sales and marketing campaigns.",
						Keywords: []string{
							"sale", "discount", "offer", "unsubscribe", "promo", "% off", "deal",
						},
						Action: "Explain why the message is advertising and analyze the sender.",
					},
					{
						Name:        "Rest",
						Description: "Messages that fit no other subcategory.",
						Action:      "Summarize and suggest manual handling.",
					},
				},
			},
		},
	}
}

// DefaultConfig returns the starter configuration written by "config init".
func DefaultConfig() *AppConfig {
	return defaultAppConfig()
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Path: filepath.Join(configDir(), "triage.db"),
		},
		Mailbox: MailboxConfig{
			Provider:          "imap",
			Port:              "993",
			TLS:               true,
			Mailbox:           "INBOX",
			MaxMessages:       500,
			RequestsPerSecond: 5,
		},
		Classifier: ClassifierConfig{
			Provider:          "keyword",
			MaxTokens:         1024,
			RequestsPerSecond: 1,
			Burst:             1,
			MaxConcurrent:     2,
			Timeout:           60 * time.Second,
			MaxRetries:        2,
			ContentLimit:      3000,
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			BatchSize:     50,
			LookbackDays:  1,
			WatchInterval: 15 * time.Minute,
		},
		Dedup: DedupConfig{
			ClaimTTL: 10 * time.Minute,
		},
		Review: ReviewConfig{
			Dir:          filepath.Join(configDir(), "reviews"),
			Reviewer:     os.Getenv("USER"),
			ExampleLimit: 5,
		},
		Taxonomy: DefaultTaxonomy(),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration. The
// taxonomy is validated here; an invalid taxonomy is a fatal error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultAppConfig()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("mailbox.provider", def.Mailbox.Provider)
	v.SetDefault("mailbox.port", def.Mailbox.Port)
	v.SetDefault("mailbox.tls", def.Mailbox.TLS)
	v.SetDefault("mailbox.mailbox", def.Mailbox.Mailbox)
	v.SetDefault("mailbox.max_messages", def.Mailbox.MaxMessages)
	v.SetDefault("mailbox.requests_per_second", def.Mailbox.RequestsPerSecond)
	v.SetDefault("classifier.provider", def.Classifier.Provider)
	v.SetDefault("classifier.max_tokens", def.Classifier.MaxTokens)
	v.SetDefault("classifier.requests_per_second", def.Classifier.RequestsPerSecond)
	v.SetDefault("classifier.burst", def.Classifier.Burst)
	v.SetDefault("classifier.max_concurrent", def.Classifier.MaxConcurrent)
	v.SetDefault("classifier.timeout", def.Classifier.Timeout)
	v.SetDefault("classifier.max_retries", def.Classifier.MaxRetries)
	v.SetDefault("classifier.content_limit", def.Classifier.ContentLimit)
	v.SetDefault("pipeline.workers", def.Pipeline.Workers)
	v.SetDefault("pipeline.batch_size", def.Pipeline.BatchSize)
	v.SetDefault("pipeline.lookback_days", def.Pipeline.LookbackDays)
	v.SetDefault("pipeline.watch_interval", def.Pipeline.WatchInterval)
	v.SetDefault("dedup.claim_ttl", def.Dedup.ClaimTTL)
	v.SetDefault("review.dir", def.Review.Dir)
	v.SetDefault("review.reviewer", def.Review.Reviewer)
	v.SetDefault("review.example_limit", def.Review.ExampleLimit)
	v.SetDefault("taxonomy.fallback.category", def.Taxonomy.Fallback.Category)
	v.SetDefault("taxonomy.fallback.subcategory", def.Taxonomy.Fallback.Subcategory)
	v.SetDefault("taxonomy.fallback.confidence", def.Taxonomy.Fallback.Confidence)

	cfg := def
	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		// No file: defaults plus environment overrides.
	}

	// A configured category list replaces the starter taxonomy instead of
	// being merged into it element by element.
	if v.IsSet("taxonomy.categories") {
		cfg.Taxonomy.Categories = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if _, err := NewTaxonomy(cfg.Taxonomy); err != nil {
		return nil, fmt.Errorf("loading taxonomy from %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("classifier", cfg.Classifier)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("dedup", cfg.Dedup)
	v.Set("review", cfg.Review)
	v.Set("taxonomy", cfg.Taxonomy)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
