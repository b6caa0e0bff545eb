package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableProviders = errors.New("no available mail providers")
	// ErrRejected is a 4xx answer other than 429. Retrying will not help.
	ErrRejected = errors.New("mail provider rejected the request")
)

type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	// IdempotencyKey is sent as a header so a retried send is delivered once.
	IdempotencyKey string `json:"-"`
}

type SendResult struct {
	ID        string `json:"id"`
	Provider  string `json:"-"`
	LatencyMs int64  `json:"-"`
}

type Config struct {
	BaseURLs                []string
	APIKey                  string
	Sender                  string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	EvaluateInterval        time.Duration
	// Dial overrides the transport, used by tests.
	Dial fasthttp.DialFunc
}

func (c *Config) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = 30 * time.Second
	}
}

// SplitURLs parses a comma separated provider list, primary first.
func SplitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Client sends transactional mail through the best scoring provider.
type Client struct {
	config    *Config
	providers []*Provider
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.BaseURLs) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	config.normalize()

	client := &Client{
		config:    config,
		providers: make([]*Provider, 0, len(config.BaseURLs)),
		stopCh:    make(chan struct{}),
	}

	for i, base := range config.BaseURLs {
		httpClient := &fasthttp.Client{
			Name:                "loyalty-ledger-relay",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		}
		// earlier entries carry more weight
		weight := 100 - i*20
		if weight < 10 {
			weight = 10
		}
		name := fmt.Sprintf("mail-%d", i)
		client.providers = append(client.providers, NewProvider(name, base, weight, httpClient))
		logger.Info("[mail] provider initialized", "name", name, "url", base, "weight", weight)
	}

	client.wg.Add(1)
	go client.evaluator()

	return client, nil
}

func (c *Client) SelectBestProvider() (*Provider, error) {
	var best *Provider
	var bestScore float64
	for _, p := range c.providers {
		if !p.IsAvailable() {
			continue
		}
		if score := p.Score(); best == nil || score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// Send posts the email, retrying transient failures on the next best provider.
func (c *Client) Send(ctx context.Context, email *Email) (*SendResult, error) {
	if email.From == "" {
		email.From = c.config.Sender
	}
	body, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		provider, err := c.SelectBestProvider()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		raw, err := c.post(ctx, provider, "/emails", body, email.IdempotencyKey)
		latency := time.Since(start).Milliseconds()
		if errors.Is(err, ErrRejected) {
			return nil, err
		}
		if err != nil {
			provider.health.RecordFailure()
			c.checkCircuitBreaker(provider)
			logger.Warn("[mail] send failed", "provider", provider.name, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		provider.health.RecordSuccess(latency)

		var res SendResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		res.Provider = provider.name
		res.LatencyMs = latency
		return &res, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, provider *Provider, path string, body []byte, idempotencyKey string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK || status == fasthttp.StatusAccepted:
	case status >= 400 && status < 500 && status != fasthttp.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRejected, status, resp.Body())
	default:
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", status, resp.Body())
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func (c *Client) checkCircuitBreaker(provider *Provider) {
	fails := provider.health.ConsecutiveFails()
	if fails < c.config.CircuitBreakerThreshold {
		return
	}
	provider.trip(c.config.CircuitBreakerTimeout)
	logger.Warn("[mail] circuit breaker opened", "provider", provider.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
}

func (c *Client) evaluator() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evaluateProviders()
		case <-c.stopCh:
			return
		}
	}
}

// evaluateProviders moves providers between healthy and degraded by their record.
func (c *Client) evaluateProviders() {
	for _, p := range c.providers {
		if p.GetState() == StateCircuitOpen {
			continue
		}
		rate := p.health.SuccessRate()
		avg := p.health.AvgLatencyMs()
		switch {
		case rate < 0.8 || avg > 5000:
			if p.GetState() != StateDegraded {
				p.SetState(StateDegraded)
				logger.Warn("[mail] provider degraded", "provider", p.name, "success_rate", rate, "avg_latency_ms", avg)
			}
		case rate > 0.95 && avg < 2000:
			if p.GetState() != StateHealthy {
				p.SetState(StateHealthy)
				logger.Info("[mail] provider recovered", "provider", p.name)
			}
		}
	}
}

type ProviderStats struct {
	Name             string
	URL              string
	State            string
	Score            float64
	TotalRequests    int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	P95LatencyMs     int64
	ConsecutiveFails int
}

func (c *Client) GetProviderStats() []ProviderStats {
	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		total, failed := p.health.Totals()
		stats = append(stats, ProviderStats{
			Name:             p.name,
			URL:              p.baseURL,
			State:            p.GetState().String(),
			Score:            p.Score(),
			TotalRequests:    total,
			FailedReqs:       failed,
			SuccessRate:      p.health.SuccessRate(),
			AvgLatencyMs:     p.health.AvgLatencyMs(),
			P95LatencyMs:     p.health.P95LatencyMs(),
			ConsecutiveFails: p.health.ConsecutiveFails(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
	return nil
}
