package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics exposes a small in-memory counter set for the dispatch core.
type Metrics struct {
	enqueued         atomic.Int64
	sent             atomic.Int64
	failed           atomic.Int64
	retried          atomic.Int64
	rateLimited      atomic.Int64
	webhookDelivered atomic.Int64
	webhookFailed    atomic.Int64
	opens            atomic.Int64
	clicks           atomic.Int64
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncEnqueued()         { m.enqueued.Add(1) }
func (m *Metrics) IncSent()             { m.sent.Add(1) }
func (m *Metrics) IncFailed()           { m.failed.Add(1) }
func (m *Metrics) IncRetried()          { m.retried.Add(1) }
func (m *Metrics) IncRateLimited()      { m.rateLimited.Add(1) }
func (m *Metrics) IncWebhookDelivered() { m.webhookDelivered.Add(1) }
func (m *Metrics) IncWebhookFailed()    { m.webhookFailed.Add(1) }
func (m *Metrics) IncOpens()            { m.opens.Add(1) }
func (m *Metrics) IncClicks()           { m.clicks.Add(1) }

// Handler exposes the counters as JSON so the service can be monitored
// without a heavier metrics dependency.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{
			"enqueued":          m.enqueued.Load(),
			"sent":              m.sent.Load(),
			"failed":            m.failed.Load(),
			"retried":           m.retried.Load(),
			"rate_limited":      m.rateLimited.Load(),
			"webhook_delivered": m.webhookDelivered.Load(),
			"webhook_failed":    m.webhookFailed.Load(),
			"opens":             m.opens.Load(),
			"clicks":            m.clicks.Load(),
		})
	})
}
