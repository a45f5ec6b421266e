package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reclaimer periodically sweeps for jobs whose lease expired while still
// held and returns them to the pending pool. This is the sole
// crash-recovery path: if a worker dies mid-task without heartbeating, the
// job rejoins the queue automatically once its lease lapses, at the cost
// of one attempt. The sweep period should be shorter than the lease,
// typically half.
type Reclaimer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReclaimer creates a Reclaimer that sweeps at the given interval.
// If interval is zero or negative, half the service's default lease is used.
func NewReclaimer(service *Service, interval time.Duration, logger *slog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = service.cfg.DefaultLease / 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reclaimer{
		service:  service,
		interval: interval,
		logger:   logger.With("component", "lease_reclaimer"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background sweep loop.
func (r *Reclaimer) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("lease reclaimer started", "interval", r.interval)
}

// Stop terminates the sweep loop and waits for an in-flight sweep to finish.
func (r *Reclaimer) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("lease reclaimer stopped")
}

func (r *Reclaimer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			count, err := r.service.ReclaimExpired(r.ctx)
			if err != nil {
				r.logger.Error("lease reclaim sweep failed", "error", err)
				continue
			}
			if count > 0 {
				r.logger.Info("lease reclaim sweep finished", "reclaimed", count)
			}
		}
	}
}
