package main

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/api"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGrantLoadHoldsCap(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mem := ledger.NewMemory(ledger.WithMaxGrants(3), ledger.WithLogger(logger))
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(mem, logger, nil), ""))
	defer srv.Close()

	reg, err := access.NewRegistry(access.Options{
		Ledger:    ledger.NewClient(srv.URL, 5*time.Second),
		MaxGrants: 3,
		Logger:    logger,
	})
	require.NoError(t, err)

	res, err := RunGrantLoad(context.Background(), reg, LoadConfig{
		NumWorkers: 2,
		Duration:   300 * time.Millisecond,
		Grantees:   5,
		MaxGrants:  3,
	}, logger)
	require.NoError(t, err)

	assert.Zero(t, res.CapViolations)
	assert.Zero(t, res.Errors)
	if res.Rounds > 0 {
		assert.Equal(t, 3*res.Rounds, res.Grants)
		assert.Equal(t, 2*res.Rounds, res.CapRejections)
	}
}

func TestAnalyzeRegression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	base := &LoadResults{GrantsPerSec: 100, P95: 10 * time.Millisecond}
	require.NoError(t, SaveBaseline(base, path))

	r, err := AnalyzeRegression(&LoadResults{GrantsPerSec: 95, P95: 10500 * time.Microsecond}, path, 10)
	require.NoError(t, err)
	assert.False(t, r.SignificantRegression)
	assert.InDelta(t, -5.0, r.ThroughputChange, 0.001)
	assert.InDelta(t, 5.0, r.P95Change, 0.001)

	r, err = AnalyzeRegression(&LoadResults{GrantsPerSec: 80, P95: 10 * time.Millisecond}, path, 10)
	require.NoError(t, err)
	assert.True(t, r.SignificantRegression)

	_, err = AnalyzeRegression(base, filepath.Join(t.TempDir(), "missing.json"), 10)
	assert.Error(t, err)
}

func TestCheckResultsRejectsCapViolations(t *testing.T) {
	err := checkResults(&LoadResults{CapViolations: 1}, filepath.Join(t.TempDir(), "b.json"), 10, true)
	assert.Error(t, err)
}

func TestPercentiles(t *testing.T) {
	d := make([]time.Duration, 100)
	for i := range d {
		d[i] = time.Duration(100-i) * time.Millisecond
	}
	p50, p95, p99 := percentiles(d)
	assert.Equal(t, 50*time.Millisecond, p50)
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 99*time.Millisecond, p99)
}
