package store

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
)

var errHistogramWrite = errors.New("histogram write failed")

func TestStore_IngestRollsBackOnHistogramFailure(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}).(*store)

	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop() })

	// Fail every insert into histograms; the run row is written first.
	require.NoError(t, s.db.Callback().Create().
		Before("gorm:create").
		Register("test:fail_histograms", func(tx *gorm.DB) {
			if tx.Statement.Table == "histograms" {
				_ = tx.AddError(errHistogramWrite)
			}
		}))

	run := &dnsperf.Run{
		RunID: "1469754418",
		Settings: map[string]string{
			dnsperf.SettingDnsperfQueries: "",
			dnsperf.SettingKubednsCPU:     "",
			dnsperf.SettingDnsmasqCPU:     "200m",
			dnsperf.SettingDnsmasqCache:   "10000",
			dnsperf.SettingMaxQPS:         "-Q1000",
			dnsperf.SettingQueryType:      "service",
		},
		Histogram: []dnsperf.Bucket{{RTTMs: 1, Count: 10}},
	}

	_, err := s.IngestRun(ctx, run, "sample.log", DuplicateAllow)
	require.ErrorIs(t, err, errHistogramWrite)

	key, err := run.Key()
	require.NoError(t, err)

	count, err := s.CountRuns(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "run row is rolled back with the histogram")

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
