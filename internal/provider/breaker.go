package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings tunes the per-provider circuit breaker.
type BreakerSettings struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func (s BreakerSettings) normalize() BreakerSettings {
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = 0.5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenMaxCalls == 0 {
		s.HalfOpenMaxCalls = 1
	}
	return s
}

// breakerSet holds one breaker per provider ID, created on first use.
type breakerSet struct {
	settings BreakerSettings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*ChatResponse]
}

func newBreakerSet(settings BreakerSettings, logger *zap.Logger) *breakerSet {
	return &breakerSet{
		settings: settings.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*ChatResponse]),
	}
}

func (b *breakerSet) chat(ctx context.Context, p Provider, req *ChatRequest) (*ChatResponse, error) {
	if !b.settings.Enabled {
		return p.Chat(ctx, req)
	}
	return b.get(p.ID()).Execute(func() (*ChatResponse, error) {
		return p.Chat(ctx, req)
	})
}

func (b *breakerSet) get(providerID string) *gobreaker.CircuitBreaker[*ChatResponse] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[providerID]; ok {
		return cb
	}

	s := b.settings
	cb := gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:        providerID,
		MaxRequests: s.HalfOpenMaxCalls,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("provider circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	b.breakers[providerID] = cb
	return cb
}

// countsAsFailure reports whether err says something about provider health.
// Caller cancellation and client errors other than 429 do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// IsCircuitOpen reports whether err was produced by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
