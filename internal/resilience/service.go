// Package resilience wraps every backend call in the protective envelope:
// token-bucket rate limiting, a per-backend circuit breaker, response
// caching, and retry with jittered exponential backoff. Gateways stay unaware
// of all of it; they only see a context and a request.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
	"dividend-orchestrator/internal/common/observability"
	"dividend-orchestrator/internal/gateway"
)

// Service owns the per-backend breakers, limiters, and the shared cache.
type Service struct {
	backends map[string]config.BackendConfig
	res      config.ResilienceConfig
	breakers map[string]*Breaker
	limiters map[string]*rate.Limiter
	cache    *Cache
	log      logger.Logger
	obs      *observability.Observability
}

// NewService builds the envelope for every configured backend. rdb may be
// nil, which disables caching entirely.
func NewService(cfg *config.Config, rdb redis.UniversalClient, log logger.Logger, obs *observability.Observability) *Service {
	s := &Service{
		backends: cfg.Backends,
		res:      cfg.Resilience,
		breakers: make(map[string]*Breaker),
		limiters: make(map[string]*rate.Limiter),
		log:      log.With(map[string]interface{}{"component": "resilience"}),
		obs:      obs,
	}
	if rdb != nil {
		s.cache = NewCache(rdb)
	}

	for id, bc := range cfg.Backends {
		backendID := id
		s.breakers[backendID] = NewBreaker(
			cfg.Resilience.FailureThreshold,
			cfg.Resilience.CooldownDuration(),
			func(from, to State) {
				s.log.Warn("Circuit breaker state change", map[string]interface{}{
					"backend": backendID,
					"from":    from.String(),
					"to":      to.String(),
				})
				s.obs.RecordCircuitTransition(context.Background(), backendID, from.String(), to.String())
			},
		)
		s.limiters[backendID] = newLimiter(bc.RateRefill, bc.RateCapacity)
	}
	return s
}

// Breaker returns the breaker for a backend, or nil if unknown. The health
// monitor resolves its probe outcomes through this accessor.
func (s *Service) Breaker(backendID string) *Breaker {
	return s.breakers[backendID]
}

// States returns a snapshot of every breaker state, keyed by backend ID.
func (s *Service) States() map[string]string {
	out := make(map[string]string, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.State().String()
	}
	return out
}

// Call runs one backend request through the full envelope:
//
//	reserve rate token -> circuit gate -> cache lookup -> retry loop -> cache store
//
// Rate-limit rejections and open-circuit short-circuits are never retried
// within a call; the aggregator treats them as skips, not failures. The
// breaker records one outcome per Call, after retries resolve.
func (s *Service) Call(ctx context.Context, gw gateway.Gateway, req *gateway.Request) (*gateway.Result, error) {
	backendID := gw.ID()
	bc, ok := s.backends[backendID]
	if !ok {
		return nil, errors.NewValidationError("unknown backend: " + backendID)
	}
	breaker := s.breakers[backendID]
	limiter := s.limiters[backendID]

	rsv, err := reserve(ctx, limiter, s.res.RateWaitDuration())
	if err != nil {
		if err == errRateLimited {
			s.obs.RecordBackendCall(ctx, backendID, "rate_limited", 0)
			return nil, errors.NewRateLimitExceededError(backendID)
		}
		return nil, err
	}

	allowed, probing := breaker.Allow()
	if !allowed {
		rsv.Cancel()
		s.obs.RecordBackendCall(ctx, backendID, "circuit_open", 0)
		return nil, errors.NewCircuitOpenError(backendID)
	}

	var cacheKey string
	cacheable := s.cache != nil && gw.Cacheable() && bc.CacheTTL > 0
	if cacheable {
		cacheKey, err = s.cache.Key(backendID, req)
		if err != nil {
			cacheable = false
		} else if cached := s.lookupCache(ctx, backendID, cacheKey); cached != nil {
			// Served from cache: the backend is never touched, so the
			// rate token goes back and the probe slot is released.
			rsv.Cancel()
			if probing {
				breaker.ReleaseProbe()
			}
			return cached, nil
		}
	}

	result, err := s.fetchWithRetry(ctx, gw, req, bc, probing, breaker)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if cacheErr := s.cache.Set(ctx, cacheKey, result, bc.CacheTTLDuration()); cacheErr != nil {
			s.log.Warn("Failed to cache backend result", map[string]interface{}{
				"backend": backendID,
				"error":   cacheErr.Error(),
			})
		}
	}
	return result, nil
}

func (s *Service) lookupCache(ctx context.Context, backendID, key string) *gateway.Result {
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Cache lookup failed, treating as miss", map[string]interface{}{
			"backend": backendID,
			"error":   err.Error(),
		})
		s.obs.RecordCacheLookup(ctx, backendID, false)
		return nil
	}
	s.obs.RecordCacheLookup(ctx, backendID, cached != nil)
	return cached
}

func (s *Service) fetchWithRetry(ctx context.Context, gw gateway.Gateway, req *gateway.Request, bc config.BackendConfig, probing bool, breaker *Breaker) (*gateway.Result, error) {
	backendID := gw.ID()
	maxAttempts := bc.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Caller gave up; the backend's health is unknown, so the
			// breaker records nothing and the probe slot is returned.
			if probing {
				breaker.ReleaseProbe()
			}
			return nil, ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, bc.TimeoutDuration())
		start := time.Now()
		result, err := gw.Fetch(attemptCtx, req)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			s.obs.RecordBackendCall(ctx, backendID, "success", elapsed)
			if probing {
				breaker.ProbeResult(true)
			} else {
				breaker.RecordSuccess()
			}
			return result, nil
		}

		lastErr = err
		s.obs.RecordBackendCall(ctx, backendID, "failure", elapsed)
		s.log.Warn("Backend attempt failed", map[string]interface{}{
			"backend": backendID,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			if probing {
				breaker.ReleaseProbe()
			}
			return nil, ctx.Err()
		}
		if !errors.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if probing {
				breaker.ReleaseProbe()
			}
			return nil, ctx.Err()
		}
		timer.Stop()
	}

	if probing {
		breaker.ProbeResult(false)
	} else {
		breaker.RecordFailure()
	}
	return nil, lastErr
}

// backoffDelay computes the jittered exponential backoff before the next
// attempt: half the nominal delay fixed plus up to half random, so competing
// retries decorrelate.
func (s *Service) backoffDelay(attempt int) time.Duration {
	base := s.res.BackoffBaseDuration()
	capDelay := s.res.BackoffCapDuration()

	delay := base << uint(attempt-1)
	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
