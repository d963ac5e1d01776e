package price

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"golang.org/x/time/rate"
)

const maxResponseSize = 1 << 20

type Config struct {
	Timeout           time.Duration
	RequestsPerMinute int
	UserAgent         string
	HTTPClient        *http.Client
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Oracle-Daemon/1.0"
	}
}

// Adapter fetches a price from an external HTTP endpoint and normalizes it.
type Adapter struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func NewAdapter(cfg Config) *Adapter {
	cfg.applyDefaults()

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	a := &Adapter{
		client:    client,
		userAgent: cfg.UserAgent,
	}
	if cfg.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return a
}

// Fetch returns the price served by endpoint as a fixed-point integer with two implied decimals.
func (a *Adapter) Fetch(ctx context.Context, endpoint string) (*big.Int, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errorsmod.Wrapf(types.ErrSourceUnreachable, "invalid endpoint %q", endpoint)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, errorsmod.Wrapf(types.ErrSourceUnreachable, "rate limiter: %v", err)
		}
	}

	body, err := a.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	raw, shape, err := extract(u, body)
	if err != nil {
		return nil, err
	}

	price, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	log.Debugf("price from %s (%s): %s -> %s", u.Host, shape, raw, price)
	return price, nil
}

func (a *Adapter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSourceUnreachable, "failed to create HTTP request: %v", err)
	}

	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSourceUnreachable, "request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSourceUnreachable, "failed to read response body: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, errorsmod.Wrap(types.ErrSourceUnreachable, fmt.Sprintf("unexpected HTTP status: %s (%s)", res.Status, truncate(body, 128)))
	}

	return body, nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
