// Package propublica looks up organizations in the ProPublica
// Nonprofit Explorer API. Lookups are cached, rate limited, and
// wrapped in a circuit breaker; a terminal failure is a value
// (status Failed) rather than an error, so enrichment never sinks a
// screening batch.
package propublica

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/normalize"
)

const defaultBaseURL = "https://projects.propublica.org/nonprofits/api/v2"

// Status of an enrichment attempt.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// EnrichmentRecord is the lookup result for one EIN.
type EnrichmentRecord struct {
	EIN        string    `json:"ein"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Name       string    `json:"name,omitempty"`
	City       string    `json:"city,omitempty"`
	State      string    `json:"state,omitempty"`
	NTEE       string    `json:"ntee,omitempty"`
	Subsection int       `json:"subsection,omitempty"`
	LatestYear int       `json:"latest_year,omitempty"`
	Revenue    float64   `json:"revenue,omitempty"`
	Assets     float64   `json:"assets,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Config tunes the client. Zero fields take defaults.
type Config struct {
	BaseURL     string
	MinInterval time.Duration // min delay between requests (default 200ms)
	HourlyCap   int           // requests per hour ceiling (default 3600)
	CacheTTL    time.Duration // default 7 days
	MaxRetries  int           // default 3
	RetryBase   time.Duration // default 500ms
}

func (c *Config) withDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 200 * time.Millisecond
	}
	if c.HourlyCap <= 0 {
		c.HourlyCap = 3600
	}
	if c.CacheTTL < 7*24*time.Hour {
		c.CacheTTL = 7 * 24 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
}

// Client is safe for concurrent use; the limiters are process-global
// for the configured instance so every caller shares the same budget.
type Client struct {
	cfg     Config
	http    *http.Client
	pacer   *rate.Limiter // inter-request spacing
	hourly  *rate.Limiter // hourly ceiling
	breaker *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	cache map[string]EnrichmentRecord
}

// New creates a client with the given config.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		pacer:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		hourly: rate.NewLimiter(rate.Limit(float64(cfg.HourlyCap)/3600.0), cfg.HourlyCap/10+1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "propublica",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cache: map[string]EnrichmentRecord{},
	}
}

// Lookup fetches the organization profile and latest filing summary
// for an EIN. Cached records are served until their TTL lapses.
func (c *Client) Lookup(ctx context.Context, ein string) (EnrichmentRecord, error) {
	canonical, ok := normalize.EIN(ein)
	if !ok {
		return EnrichmentRecord{}, fault.New(fault.KindInvalidArguments, "invalid EIN %q", ein)
	}

	c.mu.RLock()
	cached, hit := c.cache[canonical]
	c.mu.RUnlock()
	if hit && time.Since(cached.FetchedAt) < c.cfg.CacheTTL {
		return cached, nil
	}

	rec, err := c.fetchWithRetry(ctx, canonical)
	if err != nil {
		// Cancellation propagates; everything else degrades to a
		// Failed record with a typed reason.
		if fault.KindOf(err) == fault.KindCancelled {
			return EnrichmentRecord{}, err
		}
		rec = EnrichmentRecord{
			EIN:       canonical,
			Status:    StatusFailed,
			Reason:    fault.KindOf(err).String(),
			FetchedAt: time.Now().UTC(),
		}
		log.Warn().Str("ein", canonical).Str("reason", rec.Reason).Msg("propublica lookup failed")
	}

	c.mu.Lock()
	c.cache[canonical] = rec
	c.mu.Unlock()
	return rec, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, ein string) (EnrichmentRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBase << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				return EnrichmentRecord{}, fault.Wrap(fault.KindCancelled, ctx.Err(), "lookup cancelled")
			case <-time.After(backoff + jitter):
			}
		}
		rec, err := c.fetchOnce(ctx, ein)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return EnrichmentRecord{}, err
		}
	}
	return EnrichmentRecord{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, ein string) (EnrichmentRecord, error) {
	if err := c.hourly.Wait(ctx); err != nil {
		return EnrichmentRecord{}, fault.Wrap(fault.KindCancelled, err, "hourly limiter")
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return EnrichmentRecord{}, fault.Wrap(fault.KindCancelled, err, "pacer")
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, ein)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return EnrichmentRecord{}, fault.Wrap(fault.KindTransient, err, "circuit open")
	}
	if err != nil {
		return EnrichmentRecord{}, err
	}
	return out.(EnrichmentRecord), nil
}

func (c *Client) doRequest(ctx context.Context, ein string) (EnrichmentRecord, error) {
	url := fmt.Sprintf("%s/organizations/%s.json", c.cfg.BaseURL, normalize.EINDigits(ein))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return EnrichmentRecord{}, fault.Wrap(fault.KindInvalidArguments, err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return EnrichmentRecord{}, fault.Wrap(fault.KindCancelled, err, "request cancelled")
		}
		return EnrichmentRecord{}, fault.Wrap(fault.KindTransient, err, "propublica request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return EnrichmentRecord{}, fault.New(fault.KindNotFound, "EIN %s not found", ein)
	case resp.StatusCode == http.StatusTooManyRequests:
		return EnrichmentRecord{}, fault.New(fault.KindRateLimited, "propublica rate limit")
	case resp.StatusCode >= 500:
		return EnrichmentRecord{}, fault.New(fault.KindTransient, "propublica %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return EnrichmentRecord{}, fault.New(fault.KindInvalidArguments, "propublica %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return EnrichmentRecord{}, fault.Wrap(fault.KindTransient, err, "read body")
	}
	return decodeOrganization(ein, body)
}

// payload mirrors the subset of the Nonprofit Explorer response we use.
type payload struct {
	Organization struct {
		Name         string `json:"name"`
		City         string `json:"city"`
		State        string `json:"state"`
		NTEECode     string `json:"ntee_code"`
		Subsection   int    `json:"subsection_code"`
	} `json:"organization"`
	Filings []struct {
		TaxPeriod    int     `json:"tax_prd_yr"`
		TotalRevenue float64 `json:"totrevenue"`
		TotalAssets  float64 `json:"totassetsend"`
	} `json:"filings_with_data"`
}

func decodeOrganization(ein string, body []byte) (EnrichmentRecord, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return EnrichmentRecord{}, fault.Wrap(fault.KindTransient, err, "decode propublica response")
	}
	rec := EnrichmentRecord{
		EIN:        ein,
		Status:     StatusOK,
		Name:       p.Organization.Name,
		City:       p.Organization.City,
		State:      p.Organization.State,
		NTEE:       p.Organization.NTEECode,
		Subsection: p.Organization.Subsection,
		FetchedAt:  time.Now().UTC(),
	}
	for _, f := range p.Filings {
		if f.TaxPeriod > rec.LatestYear {
			rec.LatestYear = f.TaxPeriod
			rec.Revenue = f.TotalRevenue
			rec.Assets = f.TotalAssets
		}
	}
	return rec, nil
}
