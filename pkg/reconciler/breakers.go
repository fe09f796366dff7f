package reconciler

import (
	"github.com/tipbot-hq/settler/pkg/circuitbreaker"
	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/logger"
	"github.com/tipbot-hq/settler/pkg/models"
)

// Breakers holds one circuit breaker per intent kind. Failures are recorded
// by the engine on wallet-error paths only; an intent parked awaiting hash
// resolution is not a failure and never feeds a breaker.
type Breakers struct {
	byKind map[models.Kind]*circuitbreaker.CircuitBreaker
}

// NewBreakers creates the per-kind breaker set
func NewBreakers(cfg config.CircuitBreakerConfig, log logger.Logger) *Breakers {
	byKind := make(map[models.Kind]*circuitbreaker.CircuitBreaker)
	for _, kind := range models.Kinds() {
		byKind[kind] = circuitbreaker.NewCircuitBreaker(
			cfg.Enabled,
			cfg.Threshold,
			cfg.WindowDuration,
			cfg.ResetTimeout,
			log,
		)
	}
	return &Breakers{byKind: byKind}
}

// RecordFailure records a wallet failure for a kind and reports whether the
// breaker tripped.
func (b *Breakers) RecordFailure(kind models.Kind) bool {
	if b == nil {
		return false
	}
	cb, ok := b.byKind[kind]
	if !ok {
		return false
	}
	return cb.RecordFailure()
}

// IsOpen reports whether the breaker for a kind is enabled and tripped.
func (b *Breakers) IsOpen(kind models.Kind) bool {
	if b == nil {
		return false
	}
	cb, ok := b.byKind[kind]
	return ok && cb.IsEnabled() && cb.IsOpen()
}

// Map exposes the underlying breakers for health reporting and admin reset.
func (b *Breakers) Map() map[models.Kind]*circuitbreaker.CircuitBreaker {
	if b == nil {
		return nil
	}
	return b.byKind
}
