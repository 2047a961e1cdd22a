package keepalive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/metrics"
)

// Pinger periodically requests a URL so that hosting platforms that idle
// inactive services keep the process running.
type Pinger struct {
	url      string
	client   *http.Client
	attempts int
	delay    time.Duration
	log      *zap.Logger
}

func NewPinger(url string, timeout time.Duration, log *zap.Logger) *Pinger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pinger{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		attempts: 3,
		delay:    5 * time.Second,
		log:      log.Named("keepalive"),
	}
}

// Ping requests the URL, retrying failures with a fixed delay.
func (p *Pinger) Ping(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		start := time.Now()
		err := p.once(ctx)
		metrics.ObserveUpstream("keepalive", "ping", start, err)
		if err == nil {
			p.log.Debug("ping ok", zap.String("url", p.url), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		p.log.Warn("ping failed", zap.String("url", p.url), zap.Int("attempt", attempt), zap.Error(err))

		if attempt == p.attempts {
			break
		}
		timer := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("keepalive %s: %w", p.url, lastErr)
}

// Run is the scheduler job body; failures are logged only.
func (p *Pinger) Run(ctx context.Context) {
	if err := p.Ping(ctx); err != nil {
		p.log.Error("keepalive gave up", zap.Error(err))
	}
}

func (p *Pinger) once(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
