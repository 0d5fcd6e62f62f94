package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
)

// LoadConfig configures one grant load run.
type LoadConfig struct {
	NumWorkers int
	Duration   time.Duration
	// Grantees is how many accounts each round tries to grant at once. Values
	// above the ledger cap make rounds race for the last slots.
	Grantees  int
	MaxGrants int
}

// LoadResults summarises a run.
type LoadResults struct {
	Rounds        int           `json:"rounds"`
	Grants        int           `json:"grants"`
	CapRejections int           `json:"cap_rejections"`
	Errors        int           `json:"errors"`
	CapViolations int           `json:"cap_violations"`
	Duration      time.Duration `json:"duration"`
	GrantsPerSec  float64       `json:"grants_per_sec"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
}

// Regression compares a run against a stored baseline.
type Regression struct {
	Baseline              *LoadResults
	Current               *LoadResults
	ThroughputChange      float64
	P95Change             float64
	SignificantRegression bool
}

// RunGrantLoad creates records and grants them to more accounts than the cap
// allows, concurrently, until cfg.Duration elapses. Every round checks that
// the ledger never confirmed more grants than the cap.
func RunGrantLoad(ctx context.Context, reg *access.Registry, cfg LoadConfig, logger *logrus.Logger) (*LoadResults, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	sessions, err := publishAccounts(ctx, reg, "grantee", cfg.Grantees)
	if err != nil {
		return nil, err
	}
	grantees := make([]ledger.AccountID, len(sessions))
	for i, s := range sessions {
		grantees[i] = s.Account()
		s.Close()
	}

	var (
		mu        sync.Mutex
		res       LoadResults
		latencies []time.Duration
		wg        sync.WaitGroup
	)
	start := time.Now()
	for w := 0; w < cfg.NumWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			owners, err := publishAccounts(ctx, reg, fmt.Sprintf("owner-%d", worker), 1)
			if err != nil {
				logger.WithError(err).WithField("worker", worker).Warn("Worker could not publish its key")
				return
			}
			owner := owners[0]
			for ctx.Err() == nil {
				round, lat, err := runRound(ctx, reg, owner, grantees, cfg.MaxGrants)
				if ctx.Err() != nil {
					return
				}
				mu.Lock()
				res.Rounds++
				res.Grants += round.Grants
				res.CapRejections += round.CapRejections
				res.Errors += round.Errors
				res.CapViolations += round.CapViolations
				latencies = append(latencies, lat...)
				mu.Unlock()
				if err != nil {
					logger.WithError(err).WithField("worker", worker).Debug("Round failed")
				}
			}
		}(w)
	}
	wg.Wait()

	res.Duration = time.Since(start)
	if secs := res.Duration.Seconds(); secs > 0 {
		res.GrantsPerSec = float64(res.Grants) / secs
	}
	res.P50, res.P95, res.P99 = percentiles(latencies)
	return &res, nil
}

func runRound(ctx context.Context, reg *access.Registry, owner *access.Session, grantees []ledger.AccountID, maxGrants int) (LoadResults, []time.Duration, error) {
	var round LoadResults
	rcpt, err := owner.CreateRecord(ctx, []byte("load test record "+uuid.NewString()), ledger.PublicIndex{"kind": "load"})
	if err != nil {
		round.Errors++
		return round, nil, err
	}

	specs := make([]access.GrantSpec, len(grantees))
	for i, g := range grantees {
		specs[i] = access.GrantSpec{Grantee: g, Role: ledger.RoleFamily, Scope: ledger.ScopeReadOnly}
	}
	start := time.Now()
	results, err := owner.GrantMany(ctx, rcpt.RecordID, specs)
	if err != nil {
		round.Errors++
		return round, nil, err
	}
	elapsed := time.Since(start)
	perGrant := elapsed / time.Duration(len(specs))

	lat := make([]time.Duration, 0, len(results))
	for _, r := range results {
		switch {
		case r.Err == nil:
			round.Grants++
			lat = append(lat, perGrant)
		case errors.Is(r.Err, access.ErrGrantCapExceeded):
			round.CapRejections++
		default:
			round.Errors++
		}
	}

	info, err := reg.GrantInfo(ctx, rcpt.RecordID)
	if err != nil {
		return round, lat, err
	}
	if info.NonOwnerCount() > maxGrants {
		round.CapViolations++
	}
	return round, lat, nil
}

// publishAccounts creates n accounts with fresh keys and publishes them.
func publishAccounts(ctx context.Context, reg *access.Registry, prefix string, n int) ([]*access.Session, error) {
	run := uuid.NewString()[:8]
	out := make([]*access.Session, 0, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		priv := kp.Private
		s, err := reg.Session(ledger.AccountID(fmt.Sprintf("%s-%s-%d", prefix, run, i)), &priv)
		if err != nil {
			return nil, err
		}
		if _, err := s.PublishKey(ctx); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func percentiles(d []time.Duration) (p50, p95, p99 time.Duration) {
	if len(d) == 0 {
		return 0, 0, 0
	}
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	at := func(p float64) time.Duration {
		return d[int(p*float64(len(d)-1))]
	}
	return at(0.50), at(0.95), at(0.99)
}

// SaveBaseline writes results as the new baseline.
func SaveBaseline(results *LoadResults, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// AnalyzeRegression compares results with the baseline at path. A drop in
// throughput or a rise in p95 latency beyond threshold percent counts as
// significant.
func AnalyzeRegression(results *LoadResults, path string, threshold float64) (*Regression, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var base LoadResults
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}

	r := &Regression{Baseline: &base, Current: results}
	if base.GrantsPerSec > 0 {
		r.ThroughputChange = (results.GrantsPerSec - base.GrantsPerSec) / base.GrantsPerSec * 100
	}
	if base.P95 > 0 {
		r.P95Change = float64(results.P95-base.P95) / float64(base.P95) * 100
	}
	r.SignificantRegression = r.ThroughputChange < -threshold || r.P95Change > threshold
	return r, nil
}
