// Package store persists ingested dnsperf runs and their latency histograms.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDuplicateRun is returned by IngestRun under DuplicateReject when a run
// with the same composite key is already stored.
var ErrDuplicateRun = errors.New("run already exists")

// DuplicatePolicy decides what happens when an ingested run's composite key
// is already present.
type DuplicatePolicy string

const (
	// DuplicateAllow inserts the run again; both rows share the key.
	DuplicateAllow DuplicatePolicy = "allow"
	// DuplicateSkip leaves the store untouched and reports the run as skipped.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateReject fails the ingest with ErrDuplicateRun.
	DuplicateReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy validates a policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case DuplicateAllow, DuplicateSkip, DuplicateReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want allow, skip or reject)", s)
	}
}

const histogramBatchSize = 500

// IngestResult describes the outcome of IngestRun.
type IngestResult struct {
	Key     dnsperf.Key
	Skipped bool
	// Existing is the number of rows that already had the key.
	Existing int64
	Buckets  int
}

// Store provides persistence for runs and histograms.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	IngestRun(
		ctx context.Context,
		run *dnsperf.Run,
		source string,
		policy DuplicatePolicy,
	) (*IngestResult, error)

	CountRuns(ctx context.Context, key dnsperf.Key) (int64, error)
	FindRuns(ctx context.Context, filter Filter) ([]Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	ListHistogram(ctx context.Context, key dnsperf.Key) ([]HistogramBucket, error)
	FindHistogram(ctx context.Context, filter Filter) ([]HistogramBucket, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start opens the database connection and creates missing tables.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	// A single sqlite connection keeps ":memory:" databases visible to
	// every query and serializes writers.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&HistogramBucket{},
	); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// IngestRun writes one run row and its histogram rows in a single
// transaction, applying policy when the composite key already exists.
// Nothing is written if any step fails.
func (s *store) IngestRun(
	ctx context.Context,
	run *dnsperf.Run,
	source string,
	policy DuplicatePolicy,
) (*IngestResult, error) {
	if _, err := ParseDuplicatePolicy(string(policy)); err != nil {
		return nil, err
	}

	record, buckets, err := NewRecords(run, source, s.now())
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Key: record.Key()}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Run{}).
			Where(keyConditions(result.Key)).
			Count(&result.Existing).Error; err != nil {
			return fmt.Errorf("counting existing runs: %w", err)
		}

		if result.Existing > 0 {
			switch policy {
			case DuplicateSkip:
				result.Skipped = true

				return nil
			case DuplicateReject:
				return fmt.Errorf("%w: run %q", ErrDuplicateRun, result.Key.RunID)
			}
		}

		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		if len(buckets) > 0 {
			if err := tx.CreateInBatches(buckets, histogramBatchSize).Error; err != nil {
				return fmt.Errorf("inserting histogram: %w", err)
			}
		}

		result.Buckets = len(buckets)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CountRuns returns the number of stored runs with the given key.
func (s *store) CountRuns(ctx context.Context, key dnsperf.Key) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where(keyConditions(key)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}

	return count, nil
}

// FindRuns returns the runs matching the report dimensions in insertion
// order.
func (s *store) FindRuns(ctx context.Context, filter Filter) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where(filter.conditions()).
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("finding runs: %w", err)
	}

	return runs, nil
}

// ListRuns returns every stored run in insertion order.
func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListHistogram returns the histogram rows for a key ordered by rtt.
func (s *store) ListHistogram(
	ctx context.Context, key dnsperf.Key,
) ([]HistogramBucket, error) {
	var buckets []HistogramBucket
	if err := s.db.WithContext(ctx).
		Where(keyConditions(key)).
		Order("rtt_ms ASC").
		Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("listing histogram: %w", err)
	}

	return buckets, nil
}

// FindHistogram returns the histogram rows of every run matching the report
// dimensions, ordered by rtt.
func (s *store) FindHistogram(
	ctx context.Context, filter Filter,
) ([]HistogramBucket, error) {
	var buckets []HistogramBucket
	if err := s.db.WithContext(ctx).
		Where(filter.conditions()).
		Order("rtt_ms ASC").
		Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("finding histogram: %w", err)
	}

	return buckets, nil
}
