// Package attestation talks to the Circle attestation service (Iris).
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/common"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 5 * time.Second
	defaultTimeout      = 30 * time.Second
	// MaxRequestsPerSecond is the documented rate limit of the attestation service.
	MaxRequestsPerSecond = 35
	pendingAttestation   = "PENDING"
)

type Status string

const (
	StatusPending   Status = "pending_confirmations"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
)

// Attestation is the service's answer for one message. Message is only populated by the messages endpoint.
type Attestation struct {
	Status    Status
	Signature []byte
	Message   []byte
}

func (a *Attestation) Complete() bool {
	return a != nil && a.Status == StatusComplete
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	clock          clock.Clock
	logger         *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithRateLimit overrides the client side request rate. rate.Inf disables limiting.
func WithRateLimit(limit rate.Limit) Option {
	return func(c *Client) { c.rateLimiter = rate.NewLimiter(limit, 1) }
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	logger = logger.With(zap.String("component", "attestation"))
	cbSettings := gobreaker.Settings{
		Name:        "attestation",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("attestation circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: defaultTimeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(MaxRequestsPerSecond), 1),
		clock:          clock.New(),
		logger:         logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type attestationResponse struct {
	Attestation *string `json:"attestation"`
	Status      string  `json:"status"`
}

// Fetch performs one lookup of the attestation for messageHash. A missing or not yet signed message is
// reported as pending, not as an error. Errors are either transient or, for an undecodable signature,
// malformed.
func (c *Client) Fetch(ctx context.Context, messageHash ethcommon.Hash) (*Attestation, error) {
	body, found, err := c.get(ctx, endpointAttestations, "/attestations/"+messageHash.Hex())
	if err != nil {
		return nil, err
	}
	if !found {
		return &Attestation{Status: StatusPending}, nil
	}

	var resp attestationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid attestation response: %v", common.ErrTransientNetwork, err)
	}
	if Status(resp.Status) != StatusComplete || resp.Attestation == nil {
		return &Attestation{Status: StatusPending}, nil
	}

	sig, err := decodeHex(*resp.Attestation)
	if err != nil {
		return nil, fmt.Errorf("%w: attestation for %s: %v", common.ErrMalformedMessage, messageHash.Hex(), err)
	}
	return &Attestation{Status: StatusComplete, Signature: sig}, nil
}

// FetchMessages looks up the messages emitted by a source transaction together with their attestations.
// Used for sources that do not expose the message in the transaction receipt.
func (c *Client) FetchMessages(ctx context.Context, sourceDomain uint32, txID string) (*Attestation, error) {
	body, found, err := c.get(ctx, endpointMessages, fmt.Sprintf("/messages/%d/%s", sourceDomain, txID))
	if err != nil {
		return nil, err
	}
	if !found || !gjson.ValidBytes(body) {
		return &Attestation{Status: StatusPending}, nil
	}

	result := gjson.ParseBytes(body)
	if e := result.Get("error"); e.Exists() && e.String() != "" {
		c.logger.Debug("messages endpoint returned error", zap.String("txID", txID), zap.String("error", e.String()))
		return &Attestation{Status: StatusPending}, nil
	}
	first := result.Get("messages.0")
	attestation := first.Get("attestation")
	if !first.Exists() || !attestation.Exists() || attestation.Type == gjson.Null || attestation.String() == pendingAttestation {
		return &Attestation{Status: StatusPending}, nil
	}

	sig, err := decodeHex(attestation.String())
	if err != nil {
		return nil, fmt.Errorf("%w: attestation for tx %s: %v", common.ErrMalformedMessage, txID, err)
	}
	msg, err := decodeHex(first.Get("message").String())
	if err != nil || len(msg) == 0 {
		return nil, fmt.Errorf("%w: message for tx %s: %v", common.ErrMalformedMessage, txID, err)
	}
	return &Attestation{Status: StatusComplete, Signature: sig, Message: msg}, nil
}

// get returns the body of a 2xx response, or found=false on 404. Everything else is transient.
func (c *Client) get(ctx context.Context, endpoint string, path string) ([]byte, bool, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: rate limiter: %v", common.ErrTransientNetwork, err)
	}

	var found bool
	out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		body, status, err := c.do(ctx, path)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusNotFound:
			return nil, nil
		case status < 200 || status > 299:
			return nil, fmt.Errorf("unexpected status %d", status)
		}
		found = true
		return body, nil
	})

	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, false, fmt.Errorf("%w: attestation service circuit open", common.ErrTransientNetwork)
		}
		return nil, false, fmt.Errorf("%w: %s: %v", common.ErrTransientNetwork, path, err)
	}
	if !found {
		requestsTotal.WithLabelValues(endpoint, "not_found").Inc()
		return nil, false, nil
	}
	requestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return out.([]byte), true, nil
}

func (c *Client) do(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
