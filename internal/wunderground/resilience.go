package wunderground

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	errThrottled   = errors.New("throttled by upstream")
	errUpstream    = errors.New("upstream server error")
	errStatus      = errors.New("unexpected status code")
	errBreakerOpen = errors.New("circuit breaker open")
)

// retryPolicy is exponential backoff between attempts at the same window.
type retryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.Initial << attempt
	if p.Max > 0 && (d > p.Max || d <= 0) {
		d = p.Max
	}
	return d
}

// transport sends page requests paced by a limiter and guarded by a
// circuit breaker. With MaxRetries == 0 the first failure is returned.
type transport struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   retryPolicy
}

func (t *transport) get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.once(ctx, url, header)
		if err == nil {
			return resp, nil
		}
		if attempt >= t.retry.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		wait := t.retry.delay(attempt)
		log.Printf("DEBUG: wunderground: attempt %d failed (%v), retrying in %s", attempt+1, err, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *transport) once(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	out, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if err := checkStatus(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", errBreakerOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errThrottled
	case code >= 500:
		return fmt.Errorf("%w: %d", errUpstream, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", errStatus, code)
	}
	return nil
}

// retryable is false for answers that will not change on a second try.
func retryable(err error) bool {
	return !errors.Is(err, errStatus) && !errors.Is(err, errBreakerOpen)
}
