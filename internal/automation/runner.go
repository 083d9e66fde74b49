package automation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"recruitflow/internal/domain"
)

// Runner invokes the dispatcher on a fixed interval. The dispatcher
// itself holds no timer; this is the in-process stand-in for an
// external cron caller.
type Runner struct {
	dispatcher *Dispatcher
	interval   time.Duration
	stop       chan struct{}
}

func NewRunner(d *Dispatcher, interval time.Duration) *Runner {
	return &Runner{dispatcher: d, interval: interval, stop: make(chan struct{})}
}

func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("automation runner started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.dispatcher.RunAll(ctx); err != nil {
				var conflict *domain.ConflictError
				if errors.As(err, &conflict) {
					// a manual run is still going; this tick is skipped
					log.Warn().Msg("automation pass still in progress, skipping tick")
					continue
				}
				log.Error().Err(err).Msg("automation pass failed")
			}
		}
	}
}

func (r *Runner) Stop() {
	close(r.stop)
}
