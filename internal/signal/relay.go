package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"pickofgods/internal/apperr"
	"pickofgods/internal/config"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/worker"
)

const (
	RelayHeader  = "X-Signal-Relay"
	SourceHeader = "X-Signal-Source"

	DefaultTimeout = 5 * time.Second
	maxWorkers     = 8
	queueSize      = 256
)

// Relay accepts notification pings and forwards fresh ones to sibling
// deployments. Forwarding is best effort and never reported to the caller.
type Relay struct {
	siblings   []string
	source     string
	timeout    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	dispatcher *worker.Dispatcher
	l          logger.Logger
	now        func() time.Time
}

// New builds a relay from cfg. Siblings are full signal endpoint URLs.
func New(cfg config.SignalConfig, source string, l logger.Logger) *Relay {
	if l == nil {
		l = logger.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	var siblings []string
	for _, s := range cfg.Siblings {
		if s = strings.TrimSpace(s); s != "" {
			siblings = append(siblings, s)
		}
	}

	base := &http.Client{Timeout: timeout}
	client := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}

	r := &Relay{
		siblings: siblings,
		source:   source,
		timeout:  timeout,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		l:        l,
		now:      time.Now,
	}
	if len(siblings) > 0 {
		r.dispatcher = worker.NewDispatcher(0, min(len(siblings), maxWorkers), queueSize, time.Minute, l)
	}
	return r
}

// Siblings lists the configured fan-out targets.
func (r *Relay) Siblings() []string {
	return append([]string(nil), r.siblings...)
}

// Receive records a ping and, unless it was itself relayed, schedules one
// forward per sibling. The payload must be valid JSON.
func (r *Relay) Receive(ctx context.Context, payload []byte, relayedFrom string) (models.Signal, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return models.Signal{}, fmt.Errorf("%w: signal payload is not valid JSON: %v", apperr.ErrInvalidRequest, err)
	}

	sig := models.Signal{
		ID:         uuid.NewString(),
		Source:     relayedFrom,
		Payload:    decoded,
		ReceivedAt: r.now().UTC(),
	}
	if relayedFrom != "" {
		r.l.Debugf(ctx, "signal %s relayed from %s, not forwarding", sig.ID, relayedFrom)
		return sig, nil
	}
	if r.dispatcher == nil {
		return sig, nil
	}

	body := append([]byte(nil), payload...)
	for _, target := range r.siblings {
		target := target
		err := r.dispatcher.Submit(worker.Job{
			Key: target,
			Run: func() { r.ping(target, sig.ID, body) },
		})
		if err != nil {
			r.l.Warnf(ctx, "signal %s: skip sibling %s: %v", sig.ID, target, err)
		}
	}
	return sig, nil
}

func (r *Relay) ping(target, id string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		r.l.Warnf(ctx, "signal %s: rate limit wait for %s: %v", id, target, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		r.l.Warnf(ctx, "signal %s: build request for %s: %v", id, target, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RelayHeader, id)
	if r.source != "" {
		req.Header.Set(SourceHeader, r.source)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.l.Warnf(ctx, "signal %s: ping %s failed: %v", id, target, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		r.l.Warnf(ctx, "signal %s: ping %s returned %d", id, target, resp.StatusCode)
		return
	}
	r.l.Debugf(ctx, "signal %s: delivered to %s", id, target)
}

// Drain waits for scheduled forwards to finish.
func (r *Relay) Drain(ctx context.Context) error {
	if r.dispatcher == nil {
		return nil
	}
	return r.dispatcher.Wait(ctx)
}

// Close stops the forwarding workers.
func (r *Relay) Close() {
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
}
