package health

import (
	"context"
	"sync"
	"time"
)

type CheckFunc func(ctx context.Context) error

type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProbeRunner evaluates registered dependency checks for the
// readiness endpoint. Checks run concurrently under a shared timeout.
type ProbeRunner struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewProbeRunner(timeout time.Duration) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, checks: make(map[string]CheckFunc)}
}

func (p *ProbeRunner) Register(name string, check CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[name] = check
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	p.mu.RLock()
	checks := make(map[string]CheckFunc, len(p.checks))
	for name, fn := range p.checks {
		checks[name] = fn
	}
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		name string
		err  error
	}
	out := make(chan outcome, len(checks))
	for name, fn := range checks {
		go func(name string, fn CheckFunc) {
			out <- outcome{name: name, err: fn(ctx)}
		}(name, fn)
	}

	ready := true
	results := make([]Result, 0, len(checks))
	for range checks {
		o := <-out
		r := Result{Name: o.name, Status: "ok"}
		if o.err != nil {
			r.Status = "failed"
			r.Error = o.err.Error()
			ready = false
		}
		results = append(results, r)
	}
	return ready, results
}
