package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/cargoquote/payments/internal/payment/domain"
)

// Client wraps an outbound resty client with a circuit breaker per gateway
// host. A tripped breaker fails fast with a gateway error instead of burning
// the request timeout against a dead upstream.
type Client struct {
	log     *slog.Logger
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(name, baseURL string, log *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("gateway breaker state change", "gateway", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{log: log, http: httpClient, breaker: cb}
}

// R returns a request bound to ctx.
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// Execute runs fn through the circuit breaker. Transport errors and an open
// breaker both surface as gateway errors; HTTP-level rejections are left for
// the caller to classify since a 4xx is a real answer, not an outage.
func (c *Client) Execute(fn func() (*resty.Response, error)) (*resty.Response, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, errUpstream
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.WrapError(domain.KindGateway, "gateway unavailable", err)
		}
		if resp, ok := res.(*resty.Response); ok && errors.Is(err, errUpstream) {
			return resp, domain.WrapError(domain.KindGateway, "gateway error "+resp.Status(), nil)
		}
		return nil, domain.WrapError(domain.KindGateway, "gateway call failed", err)
	}
	return res.(*resty.Response), nil
}

var errUpstream = errors.New("upstream 5xx")
