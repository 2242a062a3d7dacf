package bootstrap

import (
	"context"
	"time"

	"responder_server/adapter/in/worker"
	"responder_server/config"
	"responder_server/pkg/logger"
)

// Worker runs the mailbox polling loop.
type Worker struct {
	poller *worker.Poller
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		poller: worker.NewPoller(deps.ProcessService, cfg, deps.Log),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
	return w, cleanup, nil
}

// Start launches the poller and blocks until Stop is called.
func (w *Worker) Start() {
	logger.Info("worker started (poll interval: %s)", w.deps.Config.PollInterval)
	w.poller.Start(w.ctx)
	go w.purgeLoop()
	<-w.ctx.Done()
}

// purgeLoop drops thread memories past their retention window once a day.
func (w *Worker) purgeLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := w.deps.MemoryService.PurgeExpired(ctx)
			cancel()
			if err != nil {
				logger.WithError(err).Warn("memory purge failed")
				continue
			}
			if n > 0 {
				logger.Info("purged %d expired thread memories", n)
			}
		}
	}
}

// Stop halts the poller, waiting for any in-flight run to finish.
func (w *Worker) Stop() {
	w.cancel()
	w.poller.Stop()
	logger.Info("worker stopped")
}
