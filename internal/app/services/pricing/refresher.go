package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/system"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher periodically refreshes the exchange rate applied to pricing.
// Out-of-band fetches are logged and discarded; the prior rate stays live.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	fetcher  RateFetcher

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher creates a lifecycle-managed exchange rate refresher.
func NewRefresher(service *Service, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("rate-refresher")
	}
	return &Refresher{
		service:  service,
		log:      log,
		interval: 12 * time.Hour,
	}
}

// WithFetcher assigns the fetcher used to retrieve the external rate.
func (r *Refresher) WithFetcher(fetcher RateFetcher) {
	r.mu.Lock()
	r.fetcher = fetcher
	r.mu.Unlock()
}

// WithInterval overrides the refresh cadence. Call before Start.
func (r *Refresher) WithInterval(interval time.Duration) {
	if interval > 0 {
		r.interval = interval
	}
}

func (r *Refresher) Name() string { return "rate-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("exchange rate refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("exchange rate refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	r.mu.Lock()
	fetcher := r.fetcher
	r.mu.Unlock()

	if fetcher == nil || r.service == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rate, source, err := fetcher.FetchRate(ctx)
	if err != nil {
		r.log.WithError(err).Warn("exchange rate fetch failed")
		return
	}
	if err := r.service.UpdateRate(rate, source); err != nil {
		r.log.WithError(err).
			WithField("rate", rate).
			Warn("exchange rate rejected; keeping prior rate")
		return
	}
	r.log.WithField("rate", rate).
		WithField("source", source).
		Info("exchange rate updated")
}
