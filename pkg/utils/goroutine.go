// Package utils holds test support shared by the harness packages.
package utils

import (
	"runtime"
	"time"
)

// TB is the subset of testing.TB the leak detector reports through
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// GoroutineLeakDetector fails a test when goroutines started during it are
// still alive once it ends. Runs spawn one goroutine per client and per
// served connection, so a leaked one is a task that was never joined.
type GoroutineLeakDetector struct {
	t             TB
	initialCount  int
	allowedGrowth int
	pollInterval  time.Duration
	settleTimeout time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting through t
func NewGoroutineLeakDetector(t TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:             t,
		pollInterval:  10 * time.Millisecond,
		settleTimeout: 2 * time.Second,
	}
}

// Start records the baseline goroutine count
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check waits up to the settle timeout for the goroutine count to return to
// the baseline and reports a leak with the surviving stacks otherwise
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	deadline := time.Now().Add(d.settleTimeout)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.pollInterval)
		count = runtime.NumGoroutine()
	}

	leaked := count - d.initialCount
	if leaked <= d.allowedGrowth {
		return
	}
	d.t.Errorf("Goroutine leak detected: started with %d, ended with %d (leaked: %d, allowed: %d)",
		d.initialCount, count, leaked, d.allowedGrowth)
	d.t.Logf("Surviving goroutines:\n%s", allStacks())
}

// SetAllowedGrowth sets the number of goroutines allowed to outlive the test
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetSettleTimeout bounds how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetSettleTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.settleTimeout = timeout
	return d
}

// allStacks returns the stacks of all goroutines
func allStacks() string {
	buf := make([]byte, 1<<20)
	return string(buf[:runtime.Stack(buf, true)])
}
