// Package worker drives the periodic mailbox polling.
package worker

import (
	"context"
	"sync"
	"time"

	"responder_server/config"
	"responder_server/core/port/in"
	"responder_server/pkg/logger"
)

// Poller runs the batch processor at a fixed interval. One run happens
// immediately on Start, the ticker drives the rest.
type Poller struct {
	process in.ProcessService
	cfg     *config.Config
	log     *logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPoller creates a new Poller.
func NewPoller(process in.ProcessService, cfg *config.Config, log *logger.Logger) *Poller {
	return &Poller{
		process: process,
		cfg:     cfg,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches the polling loop. Non-blocking.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
	p.log.Info("poller started, interval %s", p.cfg.PollInterval)
}

// Stop halts the loop and waits for an in-flight run to finish.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.log.Info("poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.runOnce(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	report, err := p.process.RunOnce(ctx)
	if err != nil {
		p.log.WithError(err).Error("batch run failed")
		return
	}
	p.log.WithFields(map[string]any{
		"run_id":  report.RunID,
		"fetched": report.Fetched,
		"counts":  report.Counts,
	}).Info("batch run complete")
}
