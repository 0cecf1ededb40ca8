package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/common"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type fetchFunc func(ctx context.Context) (*Attestation, error)

// PollUntilComplete fetches the attestation immediately and then once per interval until it is complete.
// Transient failures are retried on the next tick. When ctx is cancelled the poll stops issuing requests
// and returns an attestation with StatusCancelled and no error.
func (c *Client) PollUntilComplete(ctx context.Context, messageHash ethcommon.Hash, interval time.Duration) (*Attestation, error) {
	return c.poll(ctx, interval, c.logger.With(zap.Stringer("messageHash", messageHash)), func(ctx context.Context) (*Attestation, error) {
		return c.Fetch(ctx, messageHash)
	})
}

// PollMessages is PollUntilComplete for the messages endpoint. The returned attestation carries the message.
func (c *Client) PollMessages(ctx context.Context, sourceDomain uint32, txID string, interval time.Duration) (*Attestation, error) {
	return c.poll(ctx, interval, c.logger.With(zap.Uint32("sourceDomain", sourceDomain), zap.String("txID", txID)), func(ctx context.Context) (*Attestation, error) {
		return c.FetchMessages(ctx, sourceDomain, txID)
	})
}

func (c *Client) poll(ctx context.Context, interval time.Duration, logger *zap.Logger, fetch fetchFunc) (*Attestation, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	start := c.clock.Now()

	// Requests start once per interval, counted from the first one.
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			pollsTotal.WithLabelValues(string(StatusCancelled)).Inc()
			return &Attestation{Status: StatusCancelled}, nil
		}

		a, err := fetch(ctx)
		if ctx.Err() != nil {
			pollsTotal.WithLabelValues(string(StatusCancelled)).Inc()
			return &Attestation{Status: StatusCancelled}, nil
		}

		switch {
		case err != nil && errors.Is(err, common.ErrTransientNetwork):
			logger.Warn("attestation request failed, retrying", zap.Error(err))
		case err != nil:
			pollsTotal.WithLabelValues("error").Inc()
			return nil, err
		case a.Complete():
			pollsTotal.WithLabelValues(string(StatusComplete)).Inc()
			pollDuration.Observe(c.clock.Since(start).Seconds())
			return a, nil
		default:
			logger.Debug("attestation pending")
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}
