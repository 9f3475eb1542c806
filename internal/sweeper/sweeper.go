// Package sweeper drives the periodic expiration sweep. It holds no state
// between runs; the store's expirable query decides eligibility each time.
package sweeper

import (
	"context"
	"sync"
	"time"

	"taskrouter/backend/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// Engine is the slice of the lifecycle engine the sweeper needs.
type Engine interface {
	SweepExpirations(ctx context.Context, now time.Time) (int, error)
}

type Sweeper struct {
	engine   Engine
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(engine Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		engine:   engine,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Sweeper) Start() {
	log.WithField("interval", s.interval).Info("starting expiry sweeper")
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the current cycle and waits for the loop to exit.
// Transitions the engine already committed stay committed.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	count, err := s.engine.SweepExpirations(s.ctx, time.Now().UTC())
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.WithError(err).Error("expiration sweep failed")
		return
	}
	monitoring.RecordSweep(count)
	if count > 0 {
		log.WithField("expired", count).Info("expiration sweep transitioned tasks")
	}
}
