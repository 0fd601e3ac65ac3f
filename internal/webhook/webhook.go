package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Sender posts job completion payloads to one callback URL configured at
// startup. Delivery is asynchronous with retries; a run never waits on it.
type Sender struct {
	url    string
	client *http.Client
}

// NewSender validates the callback URL and binds it. Rejecting bad URLs
// here makes a misconfigured callback a startup error, not a silent
// per-job failure.
func NewSender(rawURL string) (*Sender, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	return &Sender{
		url:    rawURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Send dispatches the JSON-encoded payload asynchronously. Up to 8
// attempts with full-jitter exponential backoff (cap 5 min). ctx bounds
// the whole retry loop.
func (s *Sender) Send(ctx context.Context, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("webhook: encode payload", "error", err)
		return
	}
	go s.deliver(ctx, body)
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func (s *Sender) deliver(ctx context.Context, body []byte) {
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := s.post(ctx, body)
		if err == nil {
			return
		}
		slog.Warn("webhook attempt failed", "attempt", attempt, "url", s.url, "error", err)
		if attempt < retryAttempts {
			time.Sleep(jitter(attempt))
		}
	}
	slog.Error("webhook: all retries exhausted", "url", s.url)
}

// jitter returns a random duration between 0 and min(retryCap, retryBase * 2^attempt).
// Full jitter prevents synchronized retries when multiple deliveries fail at the same time.
func jitter(attempt int) time.Duration {
	exp := retryBase * (1 << attempt) // base * 2^attempt
	if exp > retryCap {
		exp = retryCap
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
