package realtime

import (
	"log/slog"
	"sync"
	"time"

	"kaenbyou/cmd/internal/ids"
	"kaenbyou/cmd/internal/telemetry"

	"github.com/go-resty/resty/v2"
)

const DefaultWebhookTimeout = 10 * time.Second

// WebhookTarget receives every live event body as a JSON POST.
type WebhookTarget struct {
	Enabled  bool
	Endpoint string
	Token    string
}

// Webhooks delivers event bodies fire-and-forget: one attempt per target,
// failures are logged and never block dispatch.
type Webhooks struct {
	log     *slog.Logger
	http    *resty.Client
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	targets []WebhookTarget

	wg sync.WaitGroup
}

func NewWebhooks(log *slog.Logger, timeout time.Duration, m *telemetry.Metrics) *Webhooks {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhooks{
		log:     log,
		http:    resty.New().SetTimeout(timeout).SetHeader("User-Agent", "kaenbyou-webhook"),
		metrics: m,
	}
}

// SetTargets swaps the target list. Deliveries already in flight finish
// against the old list.
func (w *Webhooks) SetTargets(ts []WebhookTarget) {
	cp := append([]WebhookTarget(nil), ts...)
	w.mu.Lock()
	w.targets = cp
	w.mu.Unlock()
	w.log.Info("webhook.targets", "count", len(cp))
}

func (w *Webhooks) Targets() []WebhookTarget {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]WebhookTarget(nil), w.targets...)
}

// Deliver posts body to every enabled target in the background.
func (w *Webhooks) Deliver(body []byte) {
	w.mu.RLock()
	targets := w.targets
	w.mu.RUnlock()

	for _, t := range targets {
		if !t.Enabled || t.Endpoint == "" {
			continue
		}
		w.wg.Go(func() { w.post(t, body) })
	}
}

// Wait blocks until in-flight deliveries finish.
func (w *Webhooks) Wait() { w.wg.Wait() }

func (w *Webhooks) post(t WebhookTarget, body []byte) {
	deliveryID := ids.Must(time.Now())
	req := w.http.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Kaenbyou-Delivery", deliveryID).
		SetBody(body)
	if t.Token != "" {
		req.SetAuthToken(t.Token)
	}

	resp, err := req.Post(t.Endpoint)
	if err != nil {
		w.metrics.Webhook("error")
		w.log.Warn("webhook.deliver.fail", "endpoint", t.Endpoint, "delivery_id", deliveryID, "err", err)
		return
	}
	if resp.IsError() {
		w.metrics.Webhook("rejected")
		w.log.Warn("webhook.deliver.fail", "endpoint", t.Endpoint, "delivery_id", deliveryID, "status", resp.StatusCode())
		return
	}
	w.metrics.Webhook("ok")
}
