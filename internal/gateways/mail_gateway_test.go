package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func setupMailServer(t *testing.T, handler fasthttp.RequestHandler) fasthttp.DialFunc {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return func(addr string) (net.Conn, error) { return ln.Dial() }
}

func testConfig(dial fasthttp.DialFunc, urls ...string) *Config {
	return &Config{
		BaseURLs:                urls,
		APIKey:                  "re_test",
		Sender:                  "Takoyadon <rewards@takoyadon.app>",
		Timeout:                 time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   10 * time.Second,
		Dial:                    dial,
	}
}

func TestClient_Send(t *testing.T) {
	var got Email
	var auth, idem string
	dial := setupMailServer(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/emails", string(ctx.Path()))
		auth = string(ctx.Request.Header.Peek("Authorization"))
		idem = string(ctx.Request.Header.Peek("Idempotency-Key"))
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"id":"email_123"}`)
	})

	client, err := NewClient(testConfig(dial, "http://mail.test"))
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Send(context.Background(), &Email{
		To:             []string{"kenji@example.com"},
		Subject:        "Points update",
		Text:           "You earned 40 points!",
		IdempotencyKey: "tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "email_123", res.ID)
	assert.Equal(t, "mail-0", res.Provider)

	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "tx-1", idem)
	assert.Equal(t, "Takoyadon <rewards@takoyadon.app>", got.From)
	assert.Equal(t, []string{"kenji@example.com"}, got.To)
}

func TestClient_Send_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	dial := setupMailServer(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetBodyString(`{"id":"email_retry"}`)
	})

	client, err := NewClient(testConfig(dial, "http://mail.test"))
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Send(context.Background(), &Email{To: []string{"a@b.c"}, Subject: "s", Text: "t"})
	require.NoError(t, err)
	assert.Equal(t, "email_retry", res.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Send_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	dial := setupMailServer(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusUnprocessableEntity)
		ctx.SetBodyString(`{"message":"invalid to"}`)
	})

	client, err := NewClient(testConfig(dial, "http://mail.test"))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Send(context.Background(), &Email{To: []string{"nope"}, Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Send_OpensCircuit(t *testing.T) {
	dial := setupMailServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	client, err := NewClient(testConfig(dial, "http://mail.test"))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Send(context.Background(), &Email{To: []string{"a@b.c"}, Subject: "s", Text: "t"})
	assert.Error(t, err)
	assert.Equal(t, StateCircuitOpen, client.providers[0].GetState())

	_, err = client.Send(context.Background(), &Email{To: []string{"a@b.c"}, Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, ErrNoAvailableProviders)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{})
	assert.ErrorContains(t, err, "at least one provider is required")

	client, err := NewClient(&Config{BaseURLs: SplitURLs(" http://a.test/ , ,http://b.test")})
	require.NoError(t, err)
	defer client.Close()
	require.Len(t, client.providers, 2)
	assert.Equal(t, "http://a.test", client.providers[0].baseURL)
	assert.Equal(t, 10*time.Second, client.config.Timeout)
	assert.NoError(t, client.Close())
}

func TestClient_SelectBestProvider(t *testing.T) {
	client, err := NewClient(&Config{BaseURLs: []string{"http://a.test", "http://b.test", "http://c.test"}})
	require.NoError(t, err)
	defer client.Close()

	p, err := client.SelectBestProvider()
	require.NoError(t, err)
	assert.Equal(t, "mail-0", p.Name())

	client.providers[0].SetState(StateUnhealthy)
	p, err = client.SelectBestProvider()
	require.NoError(t, err)
	assert.Equal(t, "mail-1", p.Name())

	for _, p := range client.providers {
		p.SetState(StateUnhealthy)
	}
	_, err = client.SelectBestProvider()
	assert.ErrorIs(t, err, ErrNoAvailableProviders)

	stats := client.GetProviderStats()
	assert.Len(t, stats, 3)
	assert.Equal(t, "unhealthy", stats[0].State)
}

func TestProviderHealth(t *testing.T) {
	h := newProviderHealth()
	assert.Equal(t, 1.0, h.SuccessRate())

	h.RecordSuccess(100)
	h.RecordSuccess(200)
	h.RecordFailure()

	total, failed := h.Totals()
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), failed)
	assert.InDelta(t, 0.666, h.SuccessRate(), 0.01)
	// 100 then 0.8*100 + 0.2*200
	assert.Equal(t, int64(120), h.AvgLatencyMs())
	assert.Equal(t, 1, h.ConsecutiveFails())

	for i := int64(0); i < 100; i++ {
		h.RecordSuccess(i * 10)
	}
	// only the last healthWindow sends count
	assert.Equal(t, 1.0, h.SuccessRate())
	assert.GreaterOrEqual(t, h.P95LatencyMs(), int64(900))
	assert.Equal(t, 0, h.ConsecutiveFails())
}

func TestProvider_Availability(t *testing.T) {
	p := NewProvider("test", "http://localhost", 100, &fasthttp.Client{})

	p.SetState(StateDegraded)
	assert.True(t, p.IsAvailable())
	healthy := NewProvider("h", "http://localhost", 100, &fasthttp.Client{})
	assert.Greater(t, healthy.Score(), p.Score())

	p.SetState(StateUnhealthy)
	assert.False(t, p.IsAvailable())
	assert.Equal(t, 0.0, p.Score())

	p.trip(10 * time.Second)
	assert.False(t, p.IsAvailable())
	assert.Equal(t, "circuit_open", p.GetState().String())

	p.trip(-time.Second)
	assert.True(t, p.IsAvailable())
	assert.Equal(t, StateDegraded, p.GetState())
	assert.Equal(t, "unknown", ProviderState(99).String())
}
