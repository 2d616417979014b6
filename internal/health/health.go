// Package health aggregates readiness checks for the engine's collaborators
// so embedding applications can expose them on their own health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds each individual check.
const checkTimeout = 5 * time.Second

// Check probes one collaborator. A nil return means healthy.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// Result is the outcome of one Checker run. Components maps check name to
// "ok" or the failure message.
type Result struct {
	Healthy    bool
	Components map[string]string
}

// Checker runs registered checks. Safe for concurrent use.
type Checker struct {
	mu     sync.RWMutex
	checks []namedCheck
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a named check. Checks run in registration order.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Check runs every registered check with a per-check timeout and reports the
// aggregate. A Checker with no checks is healthy.
func (c *Checker) Check(ctx context.Context) Result {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	result := Result{Healthy: true, Components: make(map[string]string, len(checks))}
	for _, nc := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := nc.check(checkCtx)
		cancel()
		if err != nil {
			result.Healthy = false
			result.Components[nc.name] = err.Error()
			continue
		}
		result.Components[nc.name] = "ok"
	}
	return result
}
