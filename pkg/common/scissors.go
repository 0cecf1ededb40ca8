package common

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScissorsErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctp_scissor_errors_caught",
			Help: "Total number of unhandled errors caught",
		})
)

// Runnable is a long-running task that stops when its context is cancelled.
type Runnable func(ctx context.Context) error

// RunWithScissors starts runnable in a goroutine. A panic is recovered and reported on errC like a returned error.
func RunWithScissors(ctx context.Context, errC chan<- error, name string, runnable Runnable) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				switch x := r.(type) {
				case error:
					errC <- fmt.Errorf("%s: %w", name, x)
				default:
					errC <- fmt.Errorf("%s: %v", name, x)
				}
				ScissorsErrors.Inc()
			}
		}()
		err := runnable(ctx)
		if err != nil {
			errC <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}
