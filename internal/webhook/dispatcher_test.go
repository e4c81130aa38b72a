package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/config"
)

func fastWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		QueueSize:      16,
		Workers:        2,
		MaxAttempts:    3,
		InitialBackoff: config.Duration(time.Millisecond),
		MaxBackoff:     config.Duration(5 * time.Millisecond),
		Timeout:        config.Duration(time.Second),
	}
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_DeliversSignedPayload(t *testing.T) {
	type captured struct {
		header http.Header
		body   []byte
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(fastWebhookConfig())
	d.Trigger(EventErrorResponse, "client-1", srv.URL, "whsec", Payload{
		RequestID:  "req-1",
		Endpoint:   "v1:GET:/orders/{id}",
		Method:     "GET",
		Path:       "/orders/42",
		Version:    "v1",
		StatusCode: 502,
		LatencyMS:  12,
	})
	closeDispatcher(t, d)

	select {
	case c := <-got:
		assert.Equal(t, "application/json", c.header.Get("Content-Type"))
		assert.Equal(t, EventErrorResponse, c.header.Get(EventHeader))
		assert.NotEmpty(t, c.header.Get(DeliveryIDHeader))
		assert.True(t, auth.VerifySignature(c.body, c.header.Get(SignatureHeader), "whsec"))

		var p Payload
		require.NoError(t, json.Unmarshal(c.body, &p))
		assert.Equal(t, EventErrorResponse, p.Event)
		assert.Equal(t, "client-1", p.ClientID)
		assert.Equal(t, "req-1", p.RequestID)
		assert.Equal(t, 502, p.StatusCode)
		assert.False(t, p.Timestamp.IsZero())
	default:
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(fastWebhookConfig())
	d.Trigger(EventSlowResponse, "client-1", srv.URL, "whsec", Payload{})
	closeDispatcher(t, d)

	assert.Equal(t, int32(3), hits.Load())
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(fastWebhookConfig())
	d.Trigger(EventErrorResponse, "client-1", srv.URL, "whsec", Payload{})
	closeDispatcher(t, d)

	assert.Equal(t, int32(3), hits.Load())
}

func TestDispatcher_NoSignatureWithoutSecret(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	d := New(fastWebhookConfig())
	d.Trigger(EventErrorResponse, "client-1", srv.URL, "", Payload{})
	closeDispatcher(t, d)

	select {
	case h := <-got:
		assert.Empty(t, h.Get(SignatureHeader))
	default:
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := New(fastWebhookConfig())
	for i := 0; i < 10; i++ {
		d.Trigger(EventErrorResponse, "client-1", srv.URL, "whsec", Payload{})
	}
	closeDispatcher(t, d)

	assert.Equal(t, int32(10), hits.Load())
}

func TestDispatcher_EnqueueAfterCloseIsIgnored(t *testing.T) {
	d := New(fastWebhookConfig())
	closeDispatcher(t, d)

	assert.NotPanics(t, func() {
		d.Trigger(EventErrorResponse, "client-1", "http://example.invalid", "whsec", Payload{})
	})
}

func TestEvaluate(t *testing.T) {
	all := []string{EventErrorResponse, EventSlowResponse, EventRateLimited}

	tests := []struct {
		name       string
		subscribed []string
		outcome    Outcome
		want       []string
	}{
		{
			name:       "error status fires error event",
			subscribed: all,
			outcome:    Outcome{StatusCode: 502},
			want:       []string{EventErrorResponse},
		},
		{
			name:       "success fires nothing",
			subscribed: all,
			outcome:    Outcome{StatusCode: 200, Latency: time.Millisecond},
		},
		{
			name:       "slow response",
			subscribed: all,
			outcome:    Outcome{StatusCode: 200, Latency: 3 * time.Second},
			want:       []string{EventSlowResponse},
		},
		{
			name:       "rate limited fires two events",
			subscribed: all,
			outcome:    Outcome{StatusCode: 429, RateLimited: true},
			want:       []string{EventErrorResponse, EventRateLimited},
		},
		{
			name:       "unsubscribed events never fire",
			subscribed: []string{EventRateLimited},
			outcome:    Outcome{StatusCode: 500},
		},
		{
			name:    "no subscriptions",
			outcome: Outcome{StatusCode: 500, RateLimited: true},
		},
		{
			name:       "unknown event name ignored",
			subscribed: []string{"deploy-finished"},
			outcome:    Outcome{StatusCode: 500},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.subscribed, tt.outcome))
		})
	}
}

func TestDispatcher_EnqueueConcurrentWithCloseIsSafe(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	d := New(fastWebhookConfig())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				d.Enqueue(&Delivery{
					ID:      "d",
					Event:   EventErrorResponse,
					URL:     sink.URL,
					Payload: []byte(`{}`),
				})
			}
		}()
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	wg.Wait()

	// Deliveries enqueued after the stop are dropped, never sent on the
	// queue, so no send can panic.
	assert.NotPanics(t, func() {
		d.Enqueue(&Delivery{ID: "late", Event: EventErrorResponse, URL: sink.URL})
	})
}
