package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the aggregated health of a service or of one check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc is a function that performs a health check
type CheckFunc func(ctx context.Context) error

// Check represents a single health check result
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	LastChecked time.Time `json:"last_checked"`
}

// Checker manages health checks for a service
type Checker struct {
	mu     sync.RWMutex
	funcs  map[string]CheckFunc
	checks map[string]*Check
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{
		funcs:  make(map[string]CheckFunc),
		checks: make(map[string]*Check),
	}
}

// Register adds a named check that RunAll will execute.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = fn
}

// RunAll executes every registered check and returns the overall status.
func (c *Checker) RunAll(ctx context.Context) Status {
	c.mu.RLock()
	funcs := make(map[string]CheckFunc, len(c.funcs))
	for name, fn := range c.funcs {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	for name, fn := range funcs {
		c.RunCheck(ctx, name, fn)
	}
	return c.GetOverallStatus()
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(ctx context.Context, name string, checkFunc CheckFunc) {
	status := StatusHealthy
	message := "OK"

	if err := checkFunc(ctx); err != nil {
		status = StatusUnhealthy
		message = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = &Check{
		Name:        name,
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}
}

// GetOverallStatus returns the overall health status
func (c *Checker) GetOverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.checks) == 0 {
		return StatusHealthy
	}

	unhealthyCount := 0
	for _, check := range c.checks {
		if check.Status == StatusUnhealthy {
			unhealthyCount++
		}
	}

	if unhealthyCount == 0 {
		return StatusHealthy
	} else if unhealthyCount < len(c.checks) {
		return StatusDegraded
	}

	return StatusUnhealthy
}

// GetAllChecks returns all health check results ordered by name
func (c *Checker) GetAllChecks() []Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, *check)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks
}
