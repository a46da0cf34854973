package config

import (
	"fmt"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Config represents a keeperdata.yaml configuration file.
// Values act as process-wide defaults; CLI flags override them.
type Config struct {
	Redis       RedisConfig               `yaml:"redis"`
	Storage     StorageConfig             `yaml:"storage"`
	Crypto      CryptoConfig              `yaml:"crypto"`
	Datasets    []types.DataSetDefinition `yaml:"datasets"`
	Acquisition AcquisitionConfig         `yaml:"acquisition"`
	Ingestion   IngestionConfig           `yaml:"ingestion"`
	Cleanse     CleanseConfig             `yaml:"cleanse"`
}

// RedisConfig holds document store connection settings.
type RedisConfig struct {
	// URL is the Redis connection URL: redis://[:password@]host:port[/db]
	URL string `yaml:"url"`
	// Timeout is the per-operation timeout (default 5s).
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig holds the two object store instances.
type StorageConfig struct {
	External BucketConfig `yaml:"external"`
	Internal BucketConfig `yaml:"internal"`
	// RetryAttempts caps total tries for transient storage errors
	// (default 3). Non-transient errors never retry.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBase is the first backoff delay, doubled per retry
	// (default 250ms).
	RetryBase Duration `yaml:"retry_base"`
}

// BucketConfig configures one object store instance.
type BucketConfig struct {
	Bucket string `yaml:"bucket"`
	// Prefix is the optional top-level key prefix within the bucket.
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string `yaml:"endpoint"`
	// PathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	PathStyle bool `yaml:"path_style"`
}

// CryptoConfig holds the streaming crypto settings.
type CryptoConfig struct {
	// Salt is the process-wide PBKDF2 salt (required).
	Salt string `yaml:"salt"`
}

// AcquisitionConfig tunes the acquisition phase.
type AcquisitionConfig struct {
	// ForceCopy disables the skip-on-hash-match fast path.
	ForceCopy bool `yaml:"force_copy"`
}

// IngestionConfig tunes the ingestion phase.
type IngestionConfig struct {
	// Workers is the bounded worker pool size over acquired files.
	// Default 1; raising it is only safe when per-file primary key
	// spaces are disjoint (distinct datasets).
	Workers int `yaml:"workers"`
}

// CleanseConfig tunes the cleanse analysis.
type CleanseConfig struct {
	// PageSize is the scan page size (default 100).
	PageSize int `yaml:"page_size"`
	// LockTTL is the distributed lock TTL (default 5m).
	LockTTL Duration `yaml:"lock_ttl"`
	// RenewInterval is the lock renewal period (default 2m).
	RenewInterval Duration `yaml:"renew_interval"`
	// ReportsPrefix is the internal store prefix for exported reports.
	ReportsPrefix string `yaml:"reports_prefix"`
	// PresignTTL is the report download URL lifetime (default 168h).
	PresignTTL Duration `yaml:"presign_ttl"`
	// CtsDataset and SamDataset name the two reconciled datasets;
	// they must match entries in the datasets list.
	CtsDataset string `yaml:"cts_dataset"`
	SamDataset string `yaml:"sam_dataset"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults applied by Validate when fields are unset.
const (
	DefaultRedisTimeout  = 5 * time.Second
	DefaultPageSize      = 100
	DefaultWorkers       = 1
	DefaultLockTTL       = 5 * time.Minute
	DefaultRenewInterval = 2 * time.Minute
	DefaultPresignTTL    = 7 * 24 * time.Hour
	DefaultReportsPrefix = "reports"
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 250 * time.Millisecond
)

// Validate checks required settings and fills defaults. Failures are
// configuration errors: fatal at startup, never from steady state.
func (c *Config) Validate() error {
	if c.Crypto.Salt == "" {
		return &types.ConfigError{Detail: "crypto salt must be configured"}
	}
	if len(c.Datasets) == 0 {
		return &types.ConfigError{Detail: "at least one dataset definition required"}
	}
	seen := make(map[string]struct{}, len(c.Datasets))
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.Name]; dup {
			return &types.ConfigError{Detail: fmt.Sprintf("duplicate dataset name %q", d.Name)}
		}
		seen[d.Name] = struct{}{}
	}
	if c.Redis.Timeout.Duration <= 0 {
		c.Redis.Timeout.Duration = DefaultRedisTimeout
	}
	if c.Storage.RetryAttempts <= 0 {
		c.Storage.RetryAttempts = DefaultRetryAttempts
	}
	if c.Storage.RetryBase.Duration <= 0 {
		c.Storage.RetryBase.Duration = DefaultRetryBase
	}
	if c.Ingestion.Workers <= 0 {
		c.Ingestion.Workers = DefaultWorkers
	}
	if c.Cleanse.PageSize <= 0 {
		c.Cleanse.PageSize = DefaultPageSize
	}
	if c.Cleanse.LockTTL.Duration <= 0 {
		c.Cleanse.LockTTL.Duration = DefaultLockTTL
	}
	if c.Cleanse.RenewInterval.Duration <= 0 {
		c.Cleanse.RenewInterval.Duration = DefaultRenewInterval
	}
	if c.Cleanse.PresignTTL.Duration <= 0 {
		c.Cleanse.PresignTTL.Duration = DefaultPresignTTL
	}
	if c.Cleanse.ReportsPrefix == "" {
		c.Cleanse.ReportsPrefix = DefaultReportsPrefix
	}
	for _, name := range []string{c.Cleanse.CtsDataset, c.Cleanse.SamDataset} {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			return &types.ConfigError{Detail: fmt.Sprintf("cleanse dataset %q not in datasets list", name)}
		}
	}
	return nil
}
