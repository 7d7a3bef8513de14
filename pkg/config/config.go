package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// DNSPERFOOR_DATABASE_DRIVER=postgres.
	EnvPrefix = "DNSPERFOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default sqlite database file.
	DefaultSQLitePath = "dnsperf.db"

	// DefaultDuplicatePolicy is the default handling of re-ingested runs.
	DefaultDuplicatePolicy = "allow"

	// DefaultReportFormat is the default report output format.
	DefaultReportFormat = "table"

	// HistogramScopeCombination pools the histograms of every run matching a
	// report row's dimensions.
	HistogramScopeCombination = "combination"

	// HistogramScopeRun uses only the histogram of the run shown in the row.
	HistogramScopeRun = "run"

	// DefaultHistogramScope is the default histogram scope of a report row.
	DefaultHistogramScope = HistogramScopeCombination

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 120
)

// DefaultPercentiles are the latency percentiles reported per run.
var DefaultPercentiles = []float64{50, 95, 99, 99.5}

// DefaultDimensions is the configuration matrix the benchmark scripts sweep.
var DefaultDimensions = ReportDimensions{
	DnsmasqCache: []string{"0", "10000"},
	KubednsCPU:   []string{"200m", "250m", ""},
	DnsmasqCPU:   []string{"100m", "200m", "250m", ""},
	QueryType:    []string{"nx-domain", "outside", "pod-ip", "service"},
	MaxQPS:       []string{"-Q500", "-Q1000", "-Q2000", "-Q3000", ""},
}

// Config is the root configuration for dnsperfoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Upload   UploadConfig   `yaml:"upload,omitempty" mapstructure:"upload"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// IngestConfig controls how parsed runs are written.
type IngestConfig struct {
	// DuplicatePolicy is one of allow, skip or reject.
	DuplicatePolicy string `yaml:"duplicate_policy" mapstructure:"duplicate_policy"`
}

// ReportConfig controls report generation.
type ReportConfig struct {
	Format      string           `yaml:"format" mapstructure:"format"`
	Percentiles []float64        `yaml:"percentiles" mapstructure:"percentiles"`
	Dimensions  ReportDimensions `yaml:"dimensions" mapstructure:"dimensions"`

	// HistogramScope is one of combination or run.
	HistogramScope string `yaml:"histogram_scope" mapstructure:"histogram_scope"`
}

// ReportDimensions lists the values of each configuration dimension the
// report iterates over. An empty string value means "no limit".
type ReportDimensions struct {
	DnsmasqCache []string `yaml:"dnsmasq_cache" mapstructure:"dnsmasq_cache"`
	KubednsCPU   []string `yaml:"kubedns_cpu" mapstructure:"kubedns_cpu"`
	DnsmasqCPU   []string `yaml:"dnsmasq_cpu" mapstructure:"dnsmasq_cpu"`
	QueryType    []string `yaml:"query_type" mapstructure:"query_type"`
	MaxQPS       []string `yaml:"max_qps" mapstructure:"max_qps"`
}

// Load reads the configuration file at path, applies defaults and
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every key so that environment
// overrides apply even when the file does not mention the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "dnsperf")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("ingest.duplicate_policy", DefaultDuplicatePolicy)

	v.SetDefault("report.format", DefaultReportFormat)
	v.SetDefault("report.percentiles", DefaultPercentiles)
	v.SetDefault("report.histogram_scope", DefaultHistogramScope)
	v.SetDefault("report.dimensions.dnsmasq_cache", DefaultDimensions.DnsmasqCache)
	v.SetDefault("report.dimensions.kubedns_cpu", DefaultDimensions.KubednsCPU)
	v.SetDefault("report.dimensions.dnsmasq_cpu", DefaultDimensions.DnsmasqCPU)
	v.SetDefault("report.dimensions.query_type", DefaultDimensions.QueryType)
	v.SetDefault("report.dimensions.max_qps", DefaultDimensions.MaxQPS)

	v.SetDefault("api.listen", DefaultListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("api.auth.basic.enabled", false)
	v.SetDefault("api.auth.basic.users", []map[string]any{})

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Ingest.DuplicatePolicy {
	case "allow", "skip", "reject":
	default:
		return fmt.Errorf("unknown ingest.duplicate_policy %q (want allow, skip or reject)",
			c.Ingest.DuplicatePolicy)
	}

	switch c.Report.Format {
	case "table", "markdown", "json", "yaml":
	default:
		return fmt.Errorf("unknown report.format %q (want table, markdown, json or yaml)",
			c.Report.Format)
	}

	switch c.Report.HistogramScope {
	case HistogramScopeCombination, HistogramScopeRun:
	default:
		return fmt.Errorf("unknown report.histogram_scope %q (want combination or run)",
			c.Report.HistogramScope)
	}

	if len(c.Report.Percentiles) == 0 {
		return fmt.Errorf("report.percentiles must not be empty")
	}

	for _, p := range c.Report.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("report percentile %v out of range [0, 100]", p)
		}
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must be positive")
	}

	for i, user := range c.API.Auth.Basic.Users {
		if user.Username == "" || user.PasswordHash == "" {
			return fmt.Errorf("api.auth.basic.users[%d]: username and password_hash are required", i)
		}
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}
