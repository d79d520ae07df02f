package avantlink

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the AvantLink client.
type Options struct {
	BaseURL     string
	AffiliateID string
	WebsiteID   string
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	RatePerSec  float64       // requests per second toward the API
	Retention   time.Duration // entries older than this are dropped at parse time
	Now         Clock         // nil = time.Now
}

// Client calls the AvantLink ProductPriceCheck endpoint.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	now     Clock
}

// NewClient creates a Client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dealsync/1.0"
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 2
	}
	if opts.Retention == 0 {
		opts.Retention = 365 * 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		now:     now,
	}
}

// FetchPriceHistory requests historical pricing for one item and returns the
// validated entries. Transport failures after retries come back as
// *TransportError; an undecodable body as *ParseError. A decodable body with
// zero usable rows is ([], nil) — "successfully checked, nothing to store".
func (c *Client) FetchPriceHistory(ctx context.Context, sku string, merchantID int64) ([]PriceEntry, error) {
	body, err := c.fetch(ctx, sku, merchantID)
	if err != nil {
		return nil, err
	}
	return ParsePayload(body, c.now(), c.opts.Retention)
}

// requestURL builds the parameterized ProductPriceCheck request.
func (c *Client) requestURL(sku string, merchantID int64) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "avantlink: parse base url %q", c.opts.BaseURL)
	}
	q := u.Query()
	q.Set("module", "ProductPriceCheck")
	q.Set("affiliate_id", c.opts.AffiliateID)
	q.Set("website_id", c.opts.WebsiteID)
	q.Set("merchant_id", strconv.FormatInt(merchantID, 10))
	q.Set("sku", sku)
	q.Set("show_pricing_history", "1")
	q.Set("show_retail_price", "1")
	q.Set("output", "xml")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetch(ctx context.Context, sku string, merchantID int64) ([]byte, error) {
	reqURL, err := c.requestURL(sku, merchantID)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "avantlink"),
		zap.String("sku", sku),
		zap.Int64("merchant_id", merchantID),
	)

	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Cause: CauseNetwork, Err: eris.Wrap(err, "rate limiter wait")}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "avantlink: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = classifyNetErr(err)
			log.Warn("price check request failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(err))
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = &TransportError{
				Cause:      CauseHTTP,
				StatusCode: resp.StatusCode,
				Err:        eris.Errorf("http %d from price source", resp.StatusCode),
			}
			log.Warn("price source returned retryable status",
				zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, &TransportError{
				Cause:      CauseHTTP,
				StatusCode: resp.StatusCode,
				Err:        eris.Errorf("http %d from price source", resp.StatusCode),
			}
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = classifyNetErr(err)
			c.backoff(ctx, attempt)
			continue
		}
		return body, nil
	}

	var te *TransportError
	if errors.As(lastErr, &te) {
		return nil, lastErr
	}
	return nil, &TransportError{Cause: CauseNetwork, Err: lastErr}
}

func classifyNetErr(err error) error {
	cause := CauseNetwork
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		cause = CauseTimeout
	}
	return &TransportError{Cause: cause, Err: err}
}

// backoff sleeps with exponential backoff plus jitter, honoring ctx.
func (c *Client) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	maxBackoff := 15 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
