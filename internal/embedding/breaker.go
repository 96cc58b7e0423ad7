package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// BreakerConfig controls when the embedding circuit opens.
type BreakerConfig struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// Breaker fails fast while the wrapped provider keeps failing. It never retries.
type Breaker struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker[[][]float32]
}

func NewBreaker(next Embedder, cfg BreakerConfig) *Breaker {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes and cancellations say nothing about provider health.
			return err == nil ||
				errors.Is(err, models.ErrBatchTooLarge) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[[][]float32](settings)}
}

func (b *Breaker) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return b.cb.Execute(func() ([][]float32, error) {
		return b.next.EmbedDocuments(ctx, texts)
	})
}

func (b *Breaker) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() ([][]float32, error) {
		v, err := b.next.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
