package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/issuesla/internal/retry"
)

const (
	// throttleThreshold is the remaining request count below which sync slows down.
	throttleThreshold = 100

	// defaultRateLimitWait is used when a rate-limited response carries no timing.
	defaultRateLimitWait = 60 * time.Second
)

// RateLimitInfo holds rate limit state read from GitHub API response headers.
type RateLimitInfo struct {
	Remaining int
	Reset     time.Time
	Observed  time.Time
}

// ParseRateLimit extracts rate limit information from a GitHub API HTTP response.
// Returns nil if the relevant headers are not present.
func ParseRateLimit(resp *http.Response) *RateLimitInfo {
	if resp == nil {
		return nil
	}

	remainingStr := resp.Header.Get("X-RateLimit-Remaining")
	resetStr := resp.Header.Get("X-RateLimit-Reset")
	if remainingStr == "" && resetStr == "" {
		return nil
	}

	info := &RateLimitInfo{Observed: time.Now()}
	if remaining, err := strconv.Atoi(remainingStr); err == nil {
		info.Remaining = remaining
	}
	if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
		info.Reset = time.Unix(resetUnix, 0)
	}
	return info
}

// ShouldThrottle reports whether the remaining budget is below the safety threshold.
func (r *RateLimitInfo) ShouldThrottle() bool {
	if r == nil {
		return false
	}
	return r.Remaining < throttleThreshold
}

// WaitDuration returns how long until the rate limit resets, or zero if the
// reset is in the past.
func (r *RateLimitInfo) WaitDuration() time.Duration {
	if r == nil {
		return 0
	}
	return max(time.Until(r.Reset), 0)
}

// RetryAfter reports whether a failed API call was rate limited and how long
// to wait before trying again. Typed go-github errors are consulted first,
// then the raw response headers (Retry-After, X-RateLimit-Reset).
func RetryAfter(err error, resp *http.Response) (time.Duration, bool) {
	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		return max(time.Until(rle.Rate.Reset.Time), 0), true
	}

	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) {
		if d := abuse.GetRetryAfter(); d > 0 {
			return d, true
		}
		return defaultRateLimitWait, true
	}

	if !IsRateLimitError(resp) {
		return 0, false
	}

	if s := resp.Header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil {
			return time.Duration(seconds) * time.Second, true
		}
	}

	// A 403 is only a rate limit when the budget is exhausted.
	info := ParseRateLimit(resp)
	if resp.StatusCode == http.StatusForbidden && (info == nil || info.Remaining > 0) {
		return 0, false
	}
	if info != nil && !info.Reset.IsZero() {
		return info.WaitDuration(), true
	}
	return defaultRateLimitWait, true
}

// IsNotModified reports an HTTP 304, which does not count against the rate limit.
func IsNotModified(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotModified
}

// IsServerError reports a 5xx status code.
func IsServerError(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 500 && resp.StatusCode < 600
}

// IsRateLimitError reports a 403 or 429 status code.
func IsRateLimitError(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests)
}

// httpResponse unwraps a go-github response, tolerating nil.
func httpResponse(resp *gogithub.Response) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.Response
}

// Call runs one API request under retry. Rate limits pause for the advertised
// reset, 5xx and network errors back off, other 4xx fail immediately.
// A 304 is returned to the caller as a response without error.
func Call(ctx context.Context, logger *slog.Logger, base time.Duration, what string, fn func() (*gogithub.Response, error)) (*gogithub.Response, error) {
	var resp *gogithub.Response

	policy := retry.Policy{
		Attempts: maxAttempts,
		Base:     base,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying request", "op", what, "attempt", attempt, "delay", delay, "error", err)
		},
	}
	err := policy.Do(ctx, func() error {
		var err error
		resp, err = fn()
		if err == nil || IsNotModified(httpResponse(resp)) {
			return nil
		}

		if wait, ok := RetryAfter(err, httpResponse(resp)); ok {
			if wait > maxRateLimitWait {
				return retry.Permanent(fmt.Errorf("rate limited for %s: %w", wait.Round(time.Second), err))
			}
			logger.Warn("rate limited", "op", what, "wait", wait)
			select {
			case <-ctx.Done():
				return retry.Permanent(ctx.Err())
			case <-time.After(wait):
			}
			return err
		}

		if resp != nil && !IsServerError(resp.Response) {
			return retry.Permanent(err)
		}
		return err
	})
	return resp, err
}
