// Package benchmarks provides performance and soak testing for the harness
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/pipecheck/pkg/exchange"
	"github.com/ajitpratap0/pipecheck/pkg/harness"
	"github.com/ajitpratap0/pipecheck/pkg/logging"
	"github.com/ajitpratap0/pipecheck/pkg/serve"
)

// Variant is one backend and direction combination
type Variant struct {
	Backend   string
	Direction exchange.Direction
}

func (v Variant) String() string {
	return v.Backend + "/" + v.Direction.String()
}

// AllVariants covers every backend in both directions
func AllVariants() []Variant {
	var out []Variant
	for _, b := range []string{serve.BlockingName, serve.CooperativeName} {
		for _, d := range []exchange.Direction{exchange.ClientToServer, exchange.ServerToClient} {
			out = append(out, Variant{Backend: b, Direction: d})
		}
	}
	return out
}

// SoakConfig configures a soak test
type SoakConfig struct {
	// Workers run harness runs concurrently, each on its own endpoint
	Workers int

	// RunsPerWorker bounds the runs per worker (0 = until Duration expires)
	RunsPerWorker int

	// Duration bounds the whole test (0 = until all runs complete)
	Duration time.Duration

	// Base is the run configuration; Backend and Direction are taken from Variants
	Base harness.Config

	// Variants are cycled through per worker; defaults to AllVariants
	Variants []Variant

	// Options are passed to every harness
	Options []harness.Option

	// Logger receives progress reports
	Logger logging.Logger

	// ReportInterval between progress reports
	ReportInterval time.Duration
}

// SoakResult contains the results of a soak test
type SoakResult struct {
	TotalRuns  int64
	PassedRuns int64
	FailedRuns int64
	Duration   time.Duration

	// Run latency statistics in milliseconds
	MinLatency float64
	MaxLatency float64
	AvgLatency float64
	P50Latency float64
	P90Latency float64
	P99Latency float64

	RunsPerSecond float64

	// ErrorCounts groups failures by message
	ErrorCounts map[string]int64

	// Variants holds per-variant statistics
	Variants map[string]*VariantStats
}

// VariantStats tracks runs of one variant
type VariantStats struct {
	Runs    int64
	Passed  int64
	Failed  int64
	Elapsed time.Duration

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *VariantStats) record(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Runs++
	s.Elapsed += d
	if err != nil {
		s.Failed++
	} else {
		s.Passed++
	}
	s.latencies = append(s.latencies, d)
}

// Soaker drives many harness runs and aggregates their verdicts
type Soaker struct {
	config SoakConfig

	total  int64
	passed int64
	failed int64

	mu       sync.Mutex
	errors   map[string]int64
	variants map[string]*VariantStats

	start  time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSoaker creates a soaker, filling in defaults
func NewSoaker(config SoakConfig) *Soaker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if len(config.Variants) == 0 {
		config.Variants = AllVariants()
	}
	if config.Base.NumClients == 0 {
		config.Base = harness.DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = 5 * time.Second
	}
	return &Soaker{
		config:   config,
		errors:   make(map[string]int64),
		variants: make(map[string]*VariantStats),
		stopCh:   make(chan struct{}),
	}
}

// Run executes the soak test
func (s *Soaker) Run(ctx context.Context) (*SoakResult, error) {
	harnesses := make([][]*harness.Harness, s.config.Workers)
	for w := range harnesses {
		for _, v := range s.config.Variants {
			cfg := s.config.Base
			cfg.Backend = v.Backend
			cfg.Direction = v.Direction
			h, err := harness.New(cfg, s.config.Options...)
			if err != nil {
				return nil, fmt.Errorf("failed to create harness for %s: %w", v, err)
			}
			harnesses[w] = append(harnesses[w], h)
		}
	}

	s.start = time.Now()
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		s.reportProgress()
	}()

	for w := 0; w < s.config.Workers; w++ {
		s.wg.Add(1)
		go s.runWorker(ctx, w, harnesses[w])
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if s.config.Duration > 0 {
		timer := time.NewTimer(s.config.Duration)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
	case <-ctx.Done():
	}
	close(s.stopCh)
	s.wg.Wait()
	<-reportDone

	return s.results(), nil
}

func (s *Soaker) runWorker(ctx context.Context, id int, hs []*harness.Harness) {
	defer s.wg.Done()

	for n := 0; s.config.RunsPerWorker == 0 || n < s.config.RunsPerWorker; n++ {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Workers start at different variants so all of them run at once.
		i := (id + n) % len(hs)
		s.runOnce(ctx, s.config.Variants[i], hs[i])
	}
}

func (s *Soaker) runOnce(ctx context.Context, v Variant, h *harness.Harness) {
	atomic.AddInt64(&s.total, 1)
	start := time.Now()
	_, err := h.Run(ctx)
	elapsed := time.Since(start)

	s.variantStats(v).record(elapsed, err)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		s.mu.Lock()
		s.errors[err.Error()]++
		s.mu.Unlock()
		return
	}
	atomic.AddInt64(&s.passed, 1)
}

func (s *Soaker) variantStats(v Variant) *VariantStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.variants[v.String()]
	if !ok {
		stats = &VariantStats{}
		s.variants[v.String()] = stats
	}
	return stats
}

func (s *Soaker) reportProgress() {
	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	last, lastTime := int64(0), time.Now()
	for {
		select {
		case now := <-ticker.C:
			total := atomic.LoadInt64(&s.total)
			rate := float64(total-last) / now.Sub(lastTime).Seconds()
			s.config.Logger.Info("Soak progress",
				logging.Int("runs", int(total)),
				logging.Any("runs_per_sec", math.Round(rate*10)/10),
				logging.Int("passed", int(atomic.LoadInt64(&s.passed))),
				logging.Int("failed", int(atomic.LoadInt64(&s.failed))),
			)
			last, lastTime = total, now
		case <-s.stopCh:
			return
		}
	}
}

func (s *Soaker) results() *SoakResult {
	elapsed := time.Since(s.start)
	total := atomic.LoadInt64(&s.total)

	r := &SoakResult{
		TotalRuns:     total,
		PassedRuns:    atomic.LoadInt64(&s.passed),
		FailedRuns:    atomic.LoadInt64(&s.failed),
		Duration:      elapsed,
		RunsPerSecond: float64(total) / elapsed.Seconds(),
		ErrorCounts:   make(map[string]int64),
		Variants:      make(map[string]*VariantStats),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for msg, n := range s.errors {
		r.ErrorCounts[msg] = n
	}

	var all []time.Duration
	for name, stats := range s.variants {
		r.Variants[name] = stats
		all = append(all, stats.latencies...)
	}
	if len(all) == 0 {
		return r
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	var sum time.Duration
	for _, d := range all {
		sum += d
	}
	r.MinLatency = millis(all[0])
	r.MaxLatency = millis(all[len(all)-1])
	r.AvgLatency = millis(sum / time.Duration(len(all)))
	r.P50Latency = millis(percentile(all, 50))
	r.P90Latency = millis(percentile(all, 90))
	r.P99Latency = millis(percentile(all, 99))
	return r
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// percentile picks the nearest-rank percentile of sorted
func percentile(sorted []time.Duration, p float64) time.Duration {
	i := int(math.Ceil(float64(len(sorted))*p/100)) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// PrintResults writes the results in a readable format
func (r *SoakResult) PrintResults(w io.Writer) {
	fmt.Fprintln(w, "\n=== Soak Results ===")
	fmt.Fprintf(w, "Duration: %s\n", r.Duration)
	fmt.Fprintf(w, "Runs: %d (%d passed, %d failed)\n", r.TotalRuns, r.PassedRuns, r.FailedRuns)
	fmt.Fprintf(w, "Runs/sec: %.2f\n", r.RunsPerSecond)

	fmt.Fprintln(w, "\nRun latency (ms):")
	fmt.Fprintf(w, "  Min: %.2f  Avg: %.2f  Max: %.2f\n", r.MinLatency, r.AvgLatency, r.MaxLatency)
	fmt.Fprintf(w, "  P50: %.2f  P90: %.2f  P99: %.2f\n", r.P50Latency, r.P90Latency, r.P99Latency)

	names := make([]string, 0, len(r.Variants))
	for name := range r.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "\nVariants:")
	for _, name := range names {
		v := r.Variants[name]
		fmt.Fprintf(w, "  %-36s runs=%d passed=%d avg=%.2fms\n",
			name, v.Runs, v.Passed, millis(v.Elapsed)/float64(v.Runs))
	}

	if len(r.ErrorCounts) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for msg, n := range r.ErrorCounts {
			fmt.Fprintf(w, "  %s: %d\n", msg, n)
		}
	}
}
