package webhook

import (
	"encoding/json"
	"time"
)

// Event names an endpoint may subscribe to.
const (
	// EventErrorResponse fires when the final response status is 400 or
	// above.
	EventErrorResponse = "error-response"

	// EventSlowResponse fires when request latency exceeds
	// SlowThreshold.
	EventSlowResponse = "slow-response"

	// EventRateLimited fires when a request is rejected by the rate
	// limiter.
	EventRateLimited = "rate-limited"
)

// SlowThreshold is the latency above which a request counts as slow.
const SlowThreshold = 2 * time.Second

// Outcome describes a finished request for event evaluation.
type Outcome struct {
	StatusCode  int
	Latency     time.Duration
	RateLimited bool
}

// Evaluate returns which of the subscribed event names the outcome
// triggers. Order follows the subscription list; each event fires at
// most once.
func Evaluate(subscribed []string, o Outcome) []string {
	var fired []string
	for _, name := range subscribed {
		switch name {
		case EventErrorResponse:
			if o.StatusCode >= 400 {
				fired = append(fired, name)
			}
		case EventSlowResponse:
			if o.Latency > SlowThreshold {
				fired = append(fired, name)
			}
		case EventRateLimited:
			if o.RateLimited {
				fired = append(fired, name)
			}
		}
	}
	return fired
}

// Payload is the JSON document delivered to a client's webhook target.
type Payload struct {
	Event      string    `json:"event"`
	RequestID  string    `json:"requestId"`
	ClientID   string    `json:"clientId"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Version    string    `json:"version"`
	StatusCode int       `json:"statusCode"`
	LatencyMS  int64     `json:"latencyMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// Encode serializes the payload for delivery and signing.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
