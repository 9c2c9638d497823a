package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// RecoveryMiddleware turns handler panics into ErrHandlerPanic.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logger.String("event_type", string(event.EventType())),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())))
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler completion at debug level.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			if err == nil {
				log.Debug("handler completed",
					logger.String("event_type", string(event.EventType())),
					logger.String("aggregate_id", event.AggregateID()),
					logger.Latency(time.Since(start)))
			}
			return err
		}
	}
}

// RetryMiddleware retries handlers whose errors retryIf accepts.
func RetryMiddleware(r *retry.Retrier) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			return r.Do(context.Background(), func(context.Context) error {
				return next(event)
			})
		}
	}
}

// DefaultMiddlewares returns the chain the worker installs on its bus.
func DefaultMiddlewares(log *logger.Logger) []Middleware {
	return []Middleware{
		RecoveryMiddleware(log),
		LoggingMiddleware(log),
		RetryMiddleware(retry.HandlerRetrier(shared.IsRetryable)),
	}
}
