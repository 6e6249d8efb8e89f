// Package profiles reads participant display data from the external profile
// service.
package profiles

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
)

const (
	service    = "profiles"
	maxRetries = 3
)

var (
	ErrUnauthorized = errors.New("profiles: unauthorized")
	ErrForbidden    = errors.New("profiles: forbidden")
	// ErrUnavailable is returned while the breaker is open.
	ErrUnavailable = errors.New("profiles: unavailable")
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
	cb   *gobreaker.CircuitBreaker[map[string]any]
	log  zerolog.Logger
}

func New(base, key string, rps int, l zerolog.Logger) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("profiles base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	c := &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 5 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
		log:  l,
	}
	c.cb = gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		// a missing profile is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			observability.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	observability.BreakerState.WithLabelValues(service).Set(0)
	return c, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}

// GetProfile satisfies domain.ProfileStore. Unknown ids return domain.ErrNotFound.
func (c *Client) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	if id == "" {
		return domain.Profile{}, domain.ErrNotFound
	}
	esc := url.PathEscape(id)
	candidates := []string{
		c.base + "/accounts/" + esc, // preferred
		c.base + "/users/" + esc,    // legacy
	}
	raw, err := c.cb.Execute(func() (map[string]any, error) {
		var out map[string]any
		return out, c.getFirst(ctx, candidates, &out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Profile{}, ErrUnavailable
	}
	if err != nil {
		return domain.Profile{}, err
	}
	p := mapProfile(raw)
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

func (c *Client) State() gobreaker.State { return c.cb.State() }

func (c *Client) getFirst(ctx context.Context, urls []string, out any) error {
	var last error
	for _, u := range urls {
		if err := c.get(ctx, u, out); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				last = err
				continue
			}
			return err
		}
		return nil
	}
	if last != nil {
		return last
	}
	return errors.New("profiles: no candidate URL succeeded")
}

// get performs a rate-limited GET with retries on 429 and transient 5xx,
// honoring Retry-After when present.
func (c *Client) get(ctx context.Context, u string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	endpoint := endpointOf(u)

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if c.key != "" {
			req.Header.Set("X-API-Key", c.key)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "handyhub/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal(service, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < maxRetries && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(service, endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("profiles: decode: %w", err)
			}
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("profiles: remote %d", resp.StatusCode)
			if i < maxRetries && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("profiles: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return lastErr
}

// endpointOf keeps metric cardinality bounded: /accounts/123 -> /accounts.
func endpointOf(u string) string {
	pu, err := url.Parse(u)
	if err != nil {
		return "unknown"
	}
	p := strings.TrimRight(pu.Path, "/")
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Zero if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 100ms with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 100 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
