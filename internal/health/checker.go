// Package health probes the confidential ledger's reachability in the
// background and reports whether the gateway should receive traffic.
package health

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Prober is the cheap, read-only ledger call used as a probe.
// *ledger.Client satisfies this interface.
type Prober interface {
	ListCollections(ctx context.Context) ([]ledger.Collection, error)
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// TransitionFunc is called when readiness flips.
type TransitionFunc func(ready bool, failures int)

// Snapshot is the checker's current view of the ledger.
type Snapshot struct {
	Ready               bool      `json:"ready"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker runs periodic ledger reachability probes.
type Checker struct {
	prober       Prober
	cfg          Config
	mu           sync.Mutex
	failures     int
	ready        bool
	lastCheck    time.Time
	lastErr      error
	onMetrics    MetricsRecordFunc
	onTransition TransitionFunc
	logger       *zap.Logger
}

// New creates a new Checker. The ledger is assumed ready until
// FailThreshold consecutive probes fail.
func New(prober Prober, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		prober: prober,
		cfg:    cfg,
		ready:  true,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetOnTransition configures the readiness transition callback.
func (h *Checker) SetOnTransition(fn TransitionFunc) {
	h.onTransition = fn
}

// Start probes immediately, then on every interval until quit is signalled.
func (h *Checker) Start(quit <-chan os.Signal) {
	h.Check(context.Background())

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(context.Background())
		case <-quit:
			return
		}
	}
}

// Check runs one probe and updates readiness.
func (h *Checker) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	_, err := h.prober.ListCollections(ctx)
	success := err == nil

	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	wasReady := h.ready
	h.lastCheck = time.Now().UTC()
	h.lastErr = err
	if success {
		h.failures = 0
		h.ready = true
	} else {
		h.failures++
		if h.failures >= h.cfg.FailThreshold {
			h.ready = false
		}
	}
	ready, failures := h.ready, h.failures
	h.mu.Unlock()

	switch {
	case ready && !wasReady:
		h.logger.Info("health: ledger reachable again")
	case !ready && wasReady:
		h.logger.Warn("health: ledger unreachable",
			zap.Int("fail_count", failures),
			zap.Error(err),
		)
	case !success:
		h.logger.Debug("health: probe failed", zap.Int("fail_count", failures), zap.Error(err))
	}
	if ready != wasReady && h.onTransition != nil {
		h.onTransition(ready, failures)
	}
}

// Ready reports whether the ledger is considered reachable.
func (h *Checker) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Snapshot returns the checker's current state.
func (h *Checker) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{
		Ready:               h.ready,
		ConsecutiveFailures: h.failures,
		LastCheck:           h.lastCheck,
	}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}
