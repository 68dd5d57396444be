package booking

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// RetryConfig задаёт повторы компенсирующего возврата мест.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// releaseWithRetry возвращает места с экспоненциальной задержкой между попытками.
// Ошибки, повтор которых ничего не изменит, возвращаются сразу.
func (c *Coordinator) releaseWithRetry(ctx context.Context, lessonID string, units int32) error {
	var lastErr error
	delay := c.retry.InitialDelay

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.capacity.Release(ctx, lessonID, units)
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"lesson_id": lessonID,
					"units":     units,
					"attempt":   attempt,
				}).Info("release succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !shouldRetryRelease(err) {
			return err
		}

		if attempt < c.retry.MaxAttempts {
			c.logger.WithError(err).WithFields(log.Fields{
				"lesson_id": lessonID,
				"units":     units,
				"attempt":   attempt,
				"delay":     delay,
			}).Warn("release failed, retrying")

			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}

			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}

	return lastErr
}

func shouldRetryRelease(err error) bool {
	switch {
	case errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
