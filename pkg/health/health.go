// Package health serves liveness and readiness probes backed by periodic
// checks.
//
// Every check runs on its own ticker. A check turns unhealthy after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow ping does not
// flap the probe.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports a problem with a dependency, or nil.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes one registered check. Zero thresholds default to 3
// failures and 1 success; a zero Timeout defaults to one second.
type Check struct {
	Name             string
	Probe            Probe
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the goroutine calling run.
	fails, oks int
}

func (s *state) run(ctx context.Context, lg *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	if err == nil {
		s.lastErr.Store(nil)
		s.fails = 0
		s.oks++
		if s.oks >= s.SuccessThreshold && !s.healthy.Swap(true) {
			lg.Info("Health check recovered", zap.String("check", s.Name))
		}
		return
	}

	msg := err.Error()
	s.lastErr.Store(&msg)
	s.oks = 0
	s.fails++
	if s.fails >= s.FailureThreshold && s.healthy.Swap(false) {
		lg.Warn("Health check failing",
			zap.String("check", s.Name),
			zap.String("probe", s.Probe.String()),
			zap.Error(err),
		)
	}
}

// status returns "ok" or the last failure of an unhealthy check.
func (s *state) status() (string, bool) {
	if s.healthy.Load() {
		return "ok", true
	}
	if msg := s.lastErr.Load(); msg != nil {
		return *msg, false
	}
	return "unhealthy", false
}

// Health owns the registered checks and the manual readiness switch.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Register adds c. Checks start healthy. Register before Start.
func (h *Health) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, s)
}

// Start runs every check immediately and then every interval until Stop or
// ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, s := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.run(ctx, h.lg)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the check goroutines and waits for them. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// SetReady flips the manual readiness switch, e.g. false while draining.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// Ready reports the manual switch and every readiness check.
func (h *Health) Ready() bool {
	if !h.ready.Load() {
		return false
	}
	for _, s := range h.probe(Readiness) {
		if !s.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) probe(p Probe) []*state {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*state
	for _, s := range h.checks {
		if s.Probe == p {
			out = append(out, s)
		}
	}
	return out
}

// Handler serves the probe: 200 when healthy, 503 otherwise. The body lists
// every check of the probe:
//
//	{"status":"ok","checks":{"postgres":"ok"}}
func (h *Health) Handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		healthy := p != Readiness || h.ready.Load()

		var e jx.Encoder
		e.ObjStart()
		e.FieldStart("checks")
		e.ObjStart()
		for _, s := range h.probe(p) {
			msg, ok := s.status()
			healthy = healthy && ok
			e.FieldStart(s.Name)
			e.Str(msg)
		}
		if p == Readiness && !h.ready.Load() {
			e.FieldStart("_readiness")
			e.Str("service is not ready")
		}
		e.ObjEnd()
		e.FieldStart("status")
		code := http.StatusOK
		if healthy {
			e.Str("ok")
		} else {
			e.Str("unhealthy")
			code = http.StatusServiceUnavailable
		}
		e.ObjEnd()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(e.Bytes())
	}
}
