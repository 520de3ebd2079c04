// Package traffic implements the real-time ETA client on the Google Distance
// Matrix API, with a circuit breaker and an optional Redis-backed cache.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/circuitbreaker"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultBaseURL = "https://maps.googleapis.com"
	matrixPath     = "/maps/api/distancematrix/json"
)

// ErrNoAPIKey is returned when live ETAs are requested without a key.
var ErrNoAPIKey = errors.New("traffic API key not configured")

// Config contains configuration for the traffic client.
type Config struct {
	APIKey  string
	BaseURL string

	// Timeout bounds one lookup. There are no retries; callers fall back.
	Timeout time.Duration

	BreakerFailures int
	BreakerCoolDown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		BaseURL:         DefaultBaseURL,
		Timeout:         5 * time.Second,
		BreakerFailures: 5,
		BreakerCoolDown: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type matrixValue struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

type matrixElement struct {
	Status            string       `json:"status"`
	Duration          *matrixValue `json:"duration"`
	DurationInTraffic *matrixValue `json:"duration_in_traffic"`
	Distance          *matrixValue `json:"distance"`
}

type matrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []matrixElement `json:"elements"`
	} `json:"rows"`
}

// seconds picks the traffic-aware duration, else the plain one.
func (r *matrixResponse) seconds() (float64, bool) {
	if r.Status != "OK" || len(r.Rows) == 0 || len(r.Rows[0].Elements) == 0 {
		return 0, false
	}
	el := r.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, false
	}
	switch {
	case el.DurationInTraffic != nil:
		return el.DurationInTraffic.Value, true
	case el.Duration != nil:
		return el.Duration.Value, true
	default:
		return 0, false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client fetches driving ETAs with live traffic.
type Client struct {
	cfg     Config
	http    *resty.Client
	breaker *circuitbreaker.Breaker
	log     *logger.Logger
}

// NewClient creates a traffic client. A nil logger discards output.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("traffic")

	return &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		breaker: circuitbreaker.New("traffic", circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			CoolDown:         cfg.BreakerCoolDown,
			// A missing key is configuration, not an outage.
			IsFailure: func(err error) bool { return !errors.Is(err, ErrNoAPIKey) },
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			},
		}),
		log: log,
	}
}

// Enabled reports whether a key is configured.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != ""
}

// ETA returns the driving time from origin to destination in minutes.
// Every failure is an external service error; callers use the fallback.
func (c *Client) ETA(ctx context.Context, origin, destination geo.Point) (float64, error) {
	var minutes float64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		m, err := c.fetch(ctx, origin, destination)
		if err != nil {
			return err
		}
		minutes = m
		return nil
	})
	if err != nil {
		return 0, shared.NewExternalServiceError("traffic", "ETA", "Traffic API request failed", err)
	}
	return minutes, nil
}

func (c *Client) fetch(ctx context.Context, origin, destination geo.Point) (float64, error) {
	if !c.Enabled() {
		return 0, ErrNoAPIKey
	}

	var body matrixResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"origins":        latLng(origin),
			"destinations":   latLng(destination),
			"mode":           "driving",
			"departure_time": "now",
			"key":            c.cfg.APIKey,
		}).
		SetResult(&body).
		Get(matrixPath)
	if err != nil {
		return 0, fmt.Errorf("call distance matrix: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("distance matrix returned HTTP %d", resp.StatusCode())
	}

	secs, ok := body.seconds()
	if !ok {
		c.log.Debug("distance matrix returned no duration",
			logger.String("status", body.Status),
			logger.String("error_message", body.ErrorMessage))
		return 0, fmt.Errorf("distance matrix status %q", body.Status)
	}
	return secs / 60, nil
}

func latLng(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
