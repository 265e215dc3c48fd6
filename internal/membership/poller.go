package membership

import (
	"context"
	"slices"
	"time"

	"gigsync/internal/client"
	"gigsync/internal/logger"

	"github.com/jonboulle/clockwork"
)

// PollerConfig holds configuration for the membership poller.
type PollerConfig struct {
	// Endpoint returns the user's clans as [{"id": ...}].
	Endpoint string

	// Interval is how often membership is re-read.
	Interval time.Duration

	Clock clockwork.Clock
}

// Poller re-reads clan membership over REST on a timer and reports changes.
type Poller struct {
	client *client.Client
	config PollerConfig
	logger *logger.Logger
}

// NewPoller creates a membership poller.
func NewPoller(c *client.Client, cfg PollerConfig, log *logger.Logger) *Poller {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/api/clans/mine"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Poller{client: c, config: cfg, logger: log.WithComponent("membership")}
}

// Watch polls until ctx is cancelled. A failed poll keeps the last known set.
func (p *Poller) Watch(ctx context.Context, update UpdateFunc) error {
	p.logger.Info("membership poller started",
		"endpoint", p.config.Endpoint,
		"interval", p.config.Interval,
	)

	var last []string
	known := false
	poll := func() {
		ids, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("membership poll failed", "error", err)
			}
			return
		}
		if known && slices.Equal(ids, last) {
			return
		}
		last, known = ids, true
		p.logger.Info("membership changed", "clans", len(ids))
		update(ids)
	}

	poll()

	ticker := p.config.Clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("membership poller stopped")
			return nil
		case <-ticker.Chan():
			poll()
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([]string, error) {
	raw, err := p.client.Get(ctx, p.config.Endpoint, false)
	if err != nil {
		return nil, err
	}
	clans, err := client.Decode[[]clan](raw)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(clans))
	for _, c := range clans {
		ids = append(ids, string(c.ID))
	}
	return normalize(ids), nil
}
