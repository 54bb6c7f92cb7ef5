package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// health tracks provider health bookkeeping for one provider.
type health struct {
	failureCount   int
	skipUntil      time.Time
	lastSuccessful bool
}

// FailoverManagerConfig holds the failover manager's tunables.
type FailoverManagerConfig struct {
	MaxFailuresBeforeSkip int
	SkipDuration          time.Duration
}

// DefaultFailoverManagerConfig returns sane failover defaults.
func DefaultFailoverManagerConfig() FailoverManagerConfig {
	return FailoverManagerConfig{MaxFailuresBeforeSkip: 3, SkipDuration: 5 * time.Minute}
}

// FailoverManager exclusively owns provider health state and iterates
// providers in stable declared order, skipping any temporarily disabled
// or unconfigured.
type FailoverManager struct {
	cfg       FailoverManagerConfig
	providers []Provider

	mu     sync.Mutex
	health map[string]*health

	now func() time.Time
}

// NewFailoverManager builds a manager over providers in the exact order
// they should be tried.
func NewFailoverManager(cfg FailoverManagerConfig, providers []Provider) *FailoverManager {
	h := make(map[string]*health, len(providers))
	for _, p := range providers {
		h[p.Name()] = &health{}
	}
	return &FailoverManager{cfg: cfg, providers: providers, health: h, now: time.Now}
}

func (m *FailoverManager) isSkipped(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[name]
	if h == nil {
		return false
	}
	return !h.skipUntil.IsZero() && m.now().Before(h.skipUntil)
}

func (m *FailoverManager) recordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[name]
	if h == nil {
		return
	}
	h.failureCount = 0
	h.skipUntil = time.Time{}
	h.lastSuccessful = true
}

func (m *FailoverManager) recordFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[name]
	if h == nil {
		return
	}
	h.failureCount++
	h.lastSuccessful = false
	if h.failureCount >= m.cfg.MaxFailuresBeforeSkip {
		h.skipUntil = m.now().Add(m.cfg.SkipDuration)
	}
}

// Transcribe tries each configured, non-skipped provider in order,
// returning the first success annotated with provider and
// failover_attempts, or an aggregate failure summarising every attempt.
func (m *FailoverManager) Transcribe(ctx context.Context, audio []byte) *TranscriptionResult {
	var failures []string
	attempts := 0

	for _, p := range m.providers {
		if !p.IsConfigured() {
			continue
		}
		if m.isSkipped(p.Name()) {
			continue
		}

		attempts++
		result, err := p.TranscribeWithResult(ctx, audio)
		if err != nil {
			m.recordFailure(p.Name())
			failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}
		if !result.Success {
			m.recordFailure(p.Name())
			failures = append(failures, fmt.Sprintf("%s: %s", p.Name(), result.Error))
			continue
		}

		m.recordSuccess(p.Name())
		result.Provider = p.Name()
		result.FailoverAttempts = attempts
		return result
	}

	return &TranscriptionResult{
		Success:          false,
		Error:            "all providers exhausted: " + strings.Join(failures, "; "),
		FailoverAttempts: attempts,
	}
}
