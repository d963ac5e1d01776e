package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/armon/go-metrics"
	"github.com/sourcegraph/conc"
)

const (
	CheckRPC         = "rpc"
	CheckPriceSource = "price-source"
)

// Check is a single named health check.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck wraps fn as a named Check.
func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return funcCheck{name: name, fn: fn}
}

func (c funcCheck) Name() string {
	return c.name
}

func (c funcCheck) Check(ctx context.Context) error {
	return c.fn(ctx)
}

type Status struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"lastCheck"`
	LastError string    `json:"lastError,omitempty"`
}

// Checker runs its checks periodically and keeps the latest result of each.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]Check
	status   map[string]Status
	interval time.Duration
	timeout  time.Duration
}

func NewChecker(interval, timeout time.Duration) *Checker {
	return &Checker{
		checks:   make(map[string]Check),
		status:   make(map[string]Status),
		interval: interval,
		timeout:  timeout,
	}
}

// Add registers check. It counts as healthy until it first runs.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[check.Name()] = check
	c.status[check.Name()] = Status{Healthy: true, LastCheck: time.Now()}
	log.Debugf("health check added: %s", check.Name())
}

// Start runs every check immediately and then on each interval until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunChecks(ctx)
	for {
		select {
		case <-ticker.C:
			c.RunChecks(ctx)
		case <-ctx.Done():
			log.Debugf("health checker stopped")
			return
		}
	}
}

// RunChecks runs all checks concurrently and waits for them.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	var wg conc.WaitGroup
	for _, check := range checks {
		wg.Go(func() {
			c.run(ctx, check)
		})
	}
	wg.Wait()
}

func (c *Checker) run(ctx context.Context, check Check) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := check.Check(ctx)
	st := Status{Healthy: err == nil, LastCheck: time.Now()}
	if err != nil {
		st.LastError = err.Error()
	}

	c.mu.Lock()
	prev := c.status[check.Name()]
	c.status[check.Name()] = st
	c.mu.Unlock()

	gauge := float32(1)
	if err != nil {
		gauge = 0
	}
	metrics.SetGauge([]string{"oracle", "health", check.Name()}, gauge)

	switch {
	case err != nil:
		log.Warnf("health check %s failed: %v", check.Name(), err)
	case !prev.Healthy:
		log.Infof("health check %s recovered", check.Name())
	}
}

// Status returns the latest status of every check.
func (c *Checker) Status() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Status, len(c.status))
	for name, st := range c.status {
		out[name] = st
	}
	return out
}

// Failing returns the names of unhealthy checks in order.
func (c *Checker) Failing() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, st := range c.status {
		if !st.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Checker) IsHealthy() bool {
	return len(c.Failing()) == 0
}
